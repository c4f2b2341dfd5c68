package models

import "fmt"

const (
	SemesterFirst  = "first"
	SemesterSecond = "second"
)

type Classroom struct {
	ID        int64  `db:"id" json:"id"`
	ClassName string `db:"class_name" json:"class_name"`
	Year      int    `db:"year" json:"year"`
	Semester  string `db:"semester" json:"semester"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// LessonSession is one dated meeting of a classroom. Dates are kept as
// YYYY-MM-DD strings so same-day matching works identically on both
// database dialects.
type LessonSession struct {
	ID                   int64  `db:"id" json:"id"`
	ClassroomID          int64  `db:"classroom_id" json:"classroom_id"`
	SessionNumber        int    `db:"session_number" json:"session_number"`
	SessionDate          string `db:"session_date" json:"session_date"`
	Topic                string `db:"topic" json:"topic,omitempty"`
	HasQuiz              bool   `db:"has_quiz" json:"has_quiz"`
	HasPeerEvaluation    bool   `db:"has_peer_evaluation" json:"has_peer_evaluation"`
	PeerEvaluationClosed bool   `db:"peer_evaluation_closed" json:"peer_evaluation_closed"`
	CreatedAt            int64  `db:"created_at" json:"created_at"`
}

type Group struct {
	ID              int64  `db:"id" json:"id"`
	LessonSessionID int64  `db:"lesson_session_id" json:"lesson_session_id"`
	GroupNumber     int    `db:"group_number" json:"group_number"`
	GroupName       string `db:"group_name" json:"group_name,omitempty"`
	CreatedAt       int64  `db:"created_at" json:"created_at"`
}

// DisplayName prefers the free-form name, falling back to the number.
func (g *Group) DisplayName() string {
	if g.GroupName != "" {
		return g.GroupName
	}
	return fmt.Sprintf("Group %d", g.GroupNumber)
}

type GroupMember struct {
	ID         int64  `db:"id" json:"id"`
	GroupID    int64  `db:"group_id" json:"group_id"`
	StudentID  int64  `db:"student_id" json:"student_id"`
	MemberRole string `db:"member_role" json:"member_role,omitempty"`
}
