package models

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

type User struct {
	ID            int64   `db:"id" json:"id"`
	Email         string  `db:"email" json:"email"`
	FullName      string  `db:"full_name" json:"full_name"`
	Furigana      string  `db:"furigana" json:"furigana,omitempty"`
	Role          string  `db:"role" json:"role"`
	StudentNumber *string `db:"student_number" json:"student_number,omitempty"`
	CreatedAt     int64   `db:"created_at" json:"created_at"`
}

// IsTeacher reports whether the user holds the teacher capability.
// Admins count as teachers, same as the scanning permission model.
func (u *User) IsTeacher() bool {
	return u.Role == RoleTeacher || u.Role == RoleAdmin
}

func (u *User) IsStudent() bool {
	return u.Role == RoleStudent
}
