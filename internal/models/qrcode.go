package models

// StudentQRCode is the scannable identity of one student. Codes are
// issued lazily on first access and can be deactivated without losing
// scan history.
type StudentQRCode struct {
	QRCodeID   string `db:"qr_code_id" json:"qr_code_id"`
	StudentID  int64  `db:"student_id" json:"student_id"`
	IsActive   bool   `db:"is_active" json:"is_active"`
	CreatedAt  int64  `db:"created_at" json:"created_at"`
	LastUsedAt *int64 `db:"last_used_at" json:"last_used_at,omitempty"`
}

// QRCodeScan is the append-only audit record of one scan event. Rows
// are never updated or deleted.
type QRCodeScan struct {
	ID              int64  `db:"id" json:"id"`
	QRCodeID        string `db:"qr_code_id" json:"qr_code_id"`
	ScannedBy       int64  `db:"scanned_by" json:"scanned_by"`
	LessonSessionID *int64 `db:"lesson_session_id" json:"lesson_session_id,omitempty"`
	PointsAwarded   int    `db:"points_awarded" json:"points_awarded"`
	ScannedAt       int64  `db:"scanned_at" json:"scanned_at"`
}
