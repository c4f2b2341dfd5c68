package models

import "github.com/go-playground/validator/v10"

// StudentLessonPoints accumulates QR points for one student within one
// lesson session. Scans only ever increment it.
type StudentLessonPoints struct {
	StudentID       int64 `db:"student_id" json:"student_id"`
	LessonSessionID int64 `db:"lesson_session_id" json:"lesson_session_id"`
	Points          int   `db:"points" json:"points"`
}

// StudentClassPoints accumulates points per (student, classroom),
// independent of the per-lesson totals. Scans increment it; a manual
// override replaces it.
type StudentClassPoints struct {
	StudentID   int64 `db:"student_id" json:"student_id"`
	ClassroomID int64 `db:"classroom_id" json:"classroom_id"`
	Points      int   `db:"points" json:"points"`
}

// ClassPointsRow is the standings view of student_class_points joined
// with the roster.
type ClassPointsRow struct {
	StudentID     int64   `db:"student_id" json:"student_id"`
	FullName      string  `db:"full_name" json:"full_name"`
	StudentNumber *string `db:"student_number" json:"student_number,omitempty"`
	Points        int     `db:"points" json:"points"`
}

// SetPointsRequest is the manual override payload. ClassID is required:
// overall per-student points do not exist, only per-class balances.
type SetPointsRequest struct {
	Points  int    `json:"points" validate:"min=0"`
	ClassID *int64 `json:"class_id" validate:"required"`
}

func (r *SetPointsRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
