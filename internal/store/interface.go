package store

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/moriyamalab/tokuten/internal/models"
)

type Store interface {
	Close() error
	ApplyMigrations(dir string) error

	GetUser(id int64) (*models.User, error)
	GetStudent(id int64) (*models.User, error)

	GetClassroom(id int64) (*models.Classroom, error)
	TeacherTeachesClassroom(teacherID, classroomID int64) (bool, error)

	GetSession(id int64) (*models.LessonSession, error)
	FindCurrentSession(teacherID int64, date string, classroomID *int64) (*models.LessonSession, error)
	SetPeerEvaluationClosed(sessionID int64, closed bool) (bool, error)

	GetOrCreateQRCode(studentID int64, qrCodeID string, now int64) (*models.StudentQRCode, error)
	GetActiveQRCode(qrCodeID string) (*models.StudentQRCode, error)
	SetQRCodeActive(qrCodeID string, active bool) error
	TouchQRCode(qrCodeID string, ts int64) error
	CreateScan(scan *models.QRCodeScan) error
	ListScans(qrCodeID string) ([]models.QRCodeScan, error)

	IncrementLessonPoints(studentID, sessionID int64) (int, error)
	IncrementClassPoints(studentID, classroomID int64) (int, error)
	SetClassPoints(studentID, classroomID int64, points int) (int, error)
	GetLessonPoints(studentID, sessionID int64) (*models.StudentLessonPoints, error)
	GetClassPoints(studentID, classroomID int64) (*models.StudentClassPoints, error)
	ListClassPoints(classroomID int64) ([]models.ClassPointsRow, error)
	ListLessonPoints(sessionID int64) ([]models.ClassPointsRow, error)

	GetGroup(id int64) (*models.Group, error)
	ListGroups(sessionID int64) ([]models.Group, error)
	ListGroupMembers(groupID int64) ([]models.GroupMember, error)
	IsGroupMember(groupID, studentID int64) (bool, error)

	GetOrCreateEvaluationLink(sessionID, groupID int64, token string, now int64) (*models.EvaluationLink, error)
	GetEvaluationLink(token string) (*models.EvaluationLink, error)
	ListEvaluationLinks(sessionID int64) ([]models.EvaluationLink, error)

	UpsertEvaluation(eval *models.PeerEvaluation, scores map[int64]int) error
	ListEvaluations(sessionID int64) ([]models.PeerEvaluation, error)
	ListSessionContributions(sessionID int64) ([]models.ContributionRow, error)
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(fmt.Sprintf("%s/%s", dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

func (s *BaseStore) GetUser(id int64) (*models.User, error) {
	var user models.User
	query := s.Converter(`
		SELECT id, email, full_name, furigana, role, student_number, created_at
		FROM users
		WHERE id = ?
	`)

	err := s.DB.Get(&user, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *BaseStore) GetStudent(id int64) (*models.User, error) {
	var user models.User
	query := s.Converter(`
		SELECT id, email, full_name, furigana, role, student_number, created_at
		FROM users
		WHERE id = ?
		AND role = 'student'
	`)

	err := s.DB.Get(&user, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return &user, nil
}

func (s *BaseStore) GetClassroom(id int64) (*models.Classroom, error) {
	var classroom models.Classroom
	query := s.Converter(`
		SELECT id, class_name, year, semester, created_at
		FROM classrooms
		WHERE id = ?
	`)

	err := s.DB.Get(&classroom, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get classroom: %w", err)
	}
	return &classroom, nil
}

func (s *BaseStore) TeacherTeachesClassroom(teacherID, classroomID int64) (bool, error) {
	var count int
	query := s.Converter(`
		SELECT COUNT(*)
		FROM classroom_teachers
		WHERE teacher_id = ?
		AND classroom_id = ?
	`)

	if err := s.DB.Get(&count, query, teacherID, classroomID); err != nil {
		return false, fmt.Errorf("failed to check classroom assignment: %w", err)
	}
	return count > 0, nil
}

func (s *BaseStore) GetSession(id int64) (*models.LessonSession, error) {
	var session models.LessonSession
	query := s.Converter(`
		SELECT id, classroom_id, session_number, session_date, topic,
		       has_quiz, has_peer_evaluation, peer_evaluation_closed, created_at
		FROM lesson_sessions
		WHERE id = ?
	`)

	err := s.DB.Get(&session, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson session: %w", err)
	}
	return &session, nil
}

// FindCurrentSession picks today's session among the teacher's taught
// classes, optionally narrowed to one classroom. Most recently created
// wins when several sessions share the date.
func (s *BaseStore) FindCurrentSession(teacherID int64, date string, classroomID *int64) (*models.LessonSession, error) {
	var session models.LessonSession
	var err error

	if classroomID != nil {
		query := s.Converter(`
			SELECT ls.id, ls.classroom_id, ls.session_number, ls.session_date, ls.topic,
			       ls.has_quiz, ls.has_peer_evaluation, ls.peer_evaluation_closed, ls.created_at
			FROM lesson_sessions ls
			JOIN classroom_teachers ct ON ct.classroom_id = ls.classroom_id
			WHERE ct.teacher_id = ?
			AND ls.session_date = ?
			AND ls.classroom_id = ?
			ORDER BY ls.created_at DESC, ls.id DESC
			LIMIT 1
		`)
		err = s.DB.Get(&session, query, teacherID, date, *classroomID)
	} else {
		query := s.Converter(`
			SELECT ls.id, ls.classroom_id, ls.session_number, ls.session_date, ls.topic,
			       ls.has_quiz, ls.has_peer_evaluation, ls.peer_evaluation_closed, ls.created_at
			FROM lesson_sessions ls
			JOIN classroom_teachers ct ON ct.classroom_id = ls.classroom_id
			WHERE ct.teacher_id = ?
			AND ls.session_date = ?
			ORDER BY ls.created_at DESC, ls.id DESC
			LIMIT 1
		`)
		err = s.DB.Get(&session, query, teacherID, date)
	}

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find current session: %w", err)
	}
	return &session, nil
}

// SetPeerEvaluationClosed flips the submission gate. Writing the value
// the session already has is a no-op success, which makes close and
// reopen idempotent.
func (s *BaseStore) SetPeerEvaluationClosed(sessionID int64, closed bool) (bool, error) {
	query := s.Converter(`
		UPDATE lesson_sessions
		SET peer_evaluation_closed = ?
		WHERE id = ?
	`)

	res, err := s.DB.Exec(query, closed, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to update peer evaluation gate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func (s *BaseStore) GetOrCreateQRCode(studentID int64, qrCodeID string, now int64) (*models.StudentQRCode, error) {
	insert := s.Converter(`
		INSERT INTO student_qr_codes (qr_code_id, student_id, is_active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (student_id) DO NOTHING
	`)
	if _, err := s.DB.Exec(insert, qrCodeID, studentID, true, now); err != nil {
		return nil, fmt.Errorf("failed to create qr code: %w", err)
	}

	var code models.StudentQRCode
	query := s.Converter(`
		SELECT qr_code_id, student_id, is_active, created_at, last_used_at
		FROM student_qr_codes
		WHERE student_id = ?
	`)
	if err := s.DB.Get(&code, query, studentID); err != nil {
		return nil, fmt.Errorf("failed to get qr code: %w", err)
	}
	return &code, nil
}

func (s *BaseStore) GetActiveQRCode(qrCodeID string) (*models.StudentQRCode, error) {
	var code models.StudentQRCode
	query := s.Converter(`
		SELECT qr_code_id, student_id, is_active, created_at, last_used_at
		FROM student_qr_codes
		WHERE qr_code_id = ?
		AND is_active = ?
	`)

	err := s.DB.Get(&code, query, qrCodeID, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get qr code: %w", err)
	}
	return &code, nil
}

func (s *BaseStore) SetQRCodeActive(qrCodeID string, active bool) error {
	query := s.Converter(`
		UPDATE student_qr_codes
		SET is_active = ?
		WHERE qr_code_id = ?
	`)
	if _, err := s.DB.Exec(query, active, qrCodeID); err != nil {
		return fmt.Errorf("failed to update qr code active flag: %w", err)
	}
	return nil
}

func (s *BaseStore) TouchQRCode(qrCodeID string, ts int64) error {
	query := s.Converter(`
		UPDATE student_qr_codes
		SET last_used_at = ?
		WHERE qr_code_id = ?
	`)
	if _, err := s.DB.Exec(query, ts, qrCodeID); err != nil {
		return fmt.Errorf("failed to touch qr code: %w", err)
	}
	return nil
}

func (s *BaseStore) CreateScan(scan *models.QRCodeScan) error {
	_, err := s.DB.NamedExec(`
		INSERT INTO qr_code_scans (qr_code_id, scanned_by, lesson_session_id, points_awarded, scanned_at)
		VALUES (:qr_code_id, :scanned_by, :lesson_session_id, :points_awarded, :scanned_at)
	`, scan)
	if err != nil {
		return fmt.Errorf("failed to create scan: %w", err)
	}
	return nil
}

func (s *BaseStore) ListScans(qrCodeID string) ([]models.QRCodeScan, error) {
	var scans []models.QRCodeScan
	query := s.Converter(`
		SELECT id, qr_code_id, scanned_by, lesson_session_id, points_awarded, scanned_at
		FROM qr_code_scans
		WHERE qr_code_id = ?
		ORDER BY scanned_at DESC, id DESC
	`)

	if err := s.DB.Select(&scans, query, qrCodeID); err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return scans, nil
}

// IncrementLessonPoints adds one point to the (student, session)
// balance, creating the row on first scan. The upsert is a single
// statement so concurrent scans serialize on the row and no increment
// is lost; the follow-up read happens inside the same transaction.
func (s *BaseStore) IncrementLessonPoints(studentID, sessionID int64) (int, error) {
	tx, err := s.DB.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	upsert := s.Converter(`
		INSERT INTO student_lesson_points (student_id, lesson_session_id, points)
		VALUES (?, ?, 1)
		ON CONFLICT (student_id, lesson_session_id)
		DO UPDATE SET points = student_lesson_points.points + 1
	`)
	if _, err := tx.Exec(upsert, studentID, sessionID); err != nil {
		return 0, fmt.Errorf("failed to increment lesson points: %w", err)
	}

	var points int
	query := s.Converter(`
		SELECT points
		FROM student_lesson_points
		WHERE student_id = ?
		AND lesson_session_id = ?
	`)
	if err := tx.Get(&points, query, studentID, sessionID); err != nil {
		return 0, fmt.Errorf("failed to read lesson points: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit lesson points: %w", err)
	}
	return points, nil
}

func (s *BaseStore) IncrementClassPoints(studentID, classroomID int64) (int, error) {
	tx, err := s.DB.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	upsert := s.Converter(`
		INSERT INTO student_class_points (student_id, classroom_id, points)
		VALUES (?, ?, 1)
		ON CONFLICT (student_id, classroom_id)
		DO UPDATE SET points = student_class_points.points + 1
	`)
	if _, err := tx.Exec(upsert, studentID, classroomID); err != nil {
		return 0, fmt.Errorf("failed to increment class points: %w", err)
	}

	var points int
	query := s.Converter(`
		SELECT points
		FROM student_class_points
		WHERE student_id = ?
		AND classroom_id = ?
	`)
	if err := tx.Get(&points, query, studentID, classroomID); err != nil {
		return 0, fmt.Errorf("failed to read class points: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit class points: %w", err)
	}
	return points, nil
}

// SetClassPoints replaces the (student, classroom) balance instead of
// incrementing it. Calling it twice with the same value is a no-op.
func (s *BaseStore) SetClassPoints(studentID, classroomID int64, points int) (int, error) {
	upsert := s.Converter(`
		INSERT INTO student_class_points (student_id, classroom_id, points)
		VALUES (?, ?, ?)
		ON CONFLICT (student_id, classroom_id)
		DO UPDATE SET points = excluded.points
	`)
	if _, err := s.DB.Exec(upsert, studentID, classroomID, points); err != nil {
		return 0, fmt.Errorf("failed to set class points: %w", err)
	}
	return points, nil
}

func (s *BaseStore) GetLessonPoints(studentID, sessionID int64) (*models.StudentLessonPoints, error) {
	var slp models.StudentLessonPoints
	query := s.Converter(`
		SELECT student_id, lesson_session_id, points
		FROM student_lesson_points
		WHERE student_id = ?
		AND lesson_session_id = ?
	`)

	err := s.DB.Get(&slp, query, studentID, sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson points: %w", err)
	}
	return &slp, nil
}

func (s *BaseStore) GetClassPoints(studentID, classroomID int64) (*models.StudentClassPoints, error) {
	var scp models.StudentClassPoints
	query := s.Converter(`
		SELECT student_id, classroom_id, points
		FROM student_class_points
		WHERE student_id = ?
		AND classroom_id = ?
	`)

	err := s.DB.Get(&scp, query, studentID, classroomID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class points: %w", err)
	}
	return &scp, nil
}

func (s *BaseStore) ListClassPoints(classroomID int64) ([]models.ClassPointsRow, error) {
	var rows []models.ClassPointsRow
	query := s.Converter(`
		SELECT u.id AS student_id, u.full_name, u.student_number, scp.points
		FROM student_class_points scp
		JOIN users u ON u.id = scp.student_id
		WHERE scp.classroom_id = ?
		ORDER BY scp.points DESC, u.id ASC
	`)

	if err := s.DB.Select(&rows, query, classroomID); err != nil {
		return nil, fmt.Errorf("failed to list class points: %w", err)
	}
	return rows, nil
}

func (s *BaseStore) ListLessonPoints(sessionID int64) ([]models.ClassPointsRow, error) {
	var rows []models.ClassPointsRow
	query := s.Converter(`
		SELECT u.id AS student_id, u.full_name, u.student_number, slp.points
		FROM student_lesson_points slp
		JOIN users u ON u.id = slp.student_id
		WHERE slp.lesson_session_id = ?
		ORDER BY slp.points DESC, u.id ASC
	`)

	if err := s.DB.Select(&rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list lesson points: %w", err)
	}
	return rows, nil
}

func (s *BaseStore) GetGroup(id int64) (*models.Group, error) {
	var group models.Group
	query := s.Converter(`
		SELECT id, lesson_session_id, group_number, group_name, created_at
		FROM session_groups
		WHERE id = ?
	`)

	err := s.DB.Get(&group, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// ListGroups returns the session's groups in creation order. Ranking
// relies on this ordering for its stable tie-break, so it must not
// change.
func (s *BaseStore) ListGroups(sessionID int64) ([]models.Group, error) {
	var groups []models.Group
	query := s.Converter(`
		SELECT id, lesson_session_id, group_number, group_name, created_at
		FROM session_groups
		WHERE lesson_session_id = ?
		ORDER BY id ASC
	`)

	if err := s.DB.Select(&groups, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

func (s *BaseStore) ListGroupMembers(groupID int64) ([]models.GroupMember, error) {
	var members []models.GroupMember
	query := s.Converter(`
		SELECT id, group_id, student_id, member_role
		FROM group_members
		WHERE group_id = ?
		ORDER BY id ASC
	`)

	if err := s.DB.Select(&members, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return members, nil
}

func (s *BaseStore) IsGroupMember(groupID, studentID int64) (bool, error) {
	var count int
	query := s.Converter(`
		SELECT COUNT(*)
		FROM group_members
		WHERE group_id = ?
		AND student_id = ?
	`)

	if err := s.DB.Get(&count, query, groupID, studentID); err != nil {
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}
	return count > 0, nil
}

func (s *BaseStore) GetOrCreateEvaluationLink(sessionID, groupID int64, token string, now int64) (*models.EvaluationLink, error) {
	insert := s.Converter(`
		INSERT INTO evaluation_links (token, lesson_session_id, group_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (lesson_session_id, group_id) DO NOTHING
	`)
	if _, err := s.DB.Exec(insert, token, sessionID, groupID, now); err != nil {
		return nil, fmt.Errorf("failed to create evaluation link: %w", err)
	}

	var link models.EvaluationLink
	query := s.Converter(`
		SELECT token, lesson_session_id, group_id, created_at
		FROM evaluation_links
		WHERE lesson_session_id = ?
		AND group_id = ?
	`)
	if err := s.DB.Get(&link, query, sessionID, groupID); err != nil {
		return nil, fmt.Errorf("failed to get evaluation link: %w", err)
	}
	return &link, nil
}

func (s *BaseStore) GetEvaluationLink(token string) (*models.EvaluationLink, error) {
	var link models.EvaluationLink
	query := s.Converter(`
		SELECT token, lesson_session_id, group_id, created_at
		FROM evaluation_links
		WHERE token = ?
	`)

	err := s.DB.Get(&link, query, token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation link: %w", err)
	}
	return &link, nil
}

func (s *BaseStore) ListEvaluationLinks(sessionID int64) ([]models.EvaluationLink, error) {
	var links []models.EvaluationLink
	query := s.Converter(`
		SELECT token, lesson_session_id, group_id, created_at
		FROM evaluation_links
		WHERE lesson_session_id = ?
		ORDER BY group_id ASC
	`)

	if err := s.DB.Select(&links, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list evaluation links: %w", err)
	}
	return links, nil
}

// UpsertEvaluation persists one submission: the peer_evaluations row
// keyed by (session, token) plus every contribution score, all in one
// transaction. Any failure rolls back the whole submission.
func (s *BaseStore) UpsertEvaluation(eval *models.PeerEvaluation, scores map[int64]int) error {
	tx, err := s.DB.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO peer_evaluations (
			lesson_session_id, evaluator_token, evaluator_group_id,
			first_place_group_id, second_place_group_id,
			first_place_reason, second_place_reason,
			class_comment, general_comment, created_at
		) VALUES (
			:lesson_session_id, :evaluator_token, :evaluator_group_id,
			:first_place_group_id, :second_place_group_id,
			:first_place_reason, :second_place_reason,
			:class_comment, :general_comment, :created_at
		)
		ON CONFLICT (lesson_session_id, evaluator_token) DO UPDATE SET
		evaluator_group_id = :evaluator_group_id,
		first_place_group_id = :first_place_group_id,
		second_place_group_id = :second_place_group_id,
		first_place_reason = :first_place_reason,
		second_place_reason = :second_place_reason,
		class_comment = :class_comment,
		general_comment = :general_comment
	`
	if _, err := tx.NamedExec(upsert, eval); err != nil {
		return fmt.Errorf("failed to upsert evaluation: %w", err)
	}

	query := s.Converter(`
		SELECT id
		FROM peer_evaluations
		WHERE lesson_session_id = ?
		AND evaluator_token = ?
	`)
	if err := tx.Get(&eval.ID, query, eval.LessonSessionID, eval.EvaluatorToken); err != nil {
		return fmt.Errorf("failed to read evaluation id: %w", err)
	}

	contribUpsert := s.Converter(`
		INSERT INTO contribution_evaluations (peer_evaluation_id, evaluatee_id, contribution_score)
		VALUES (?, ?, ?)
		ON CONFLICT (peer_evaluation_id, evaluatee_id)
		DO UPDATE SET contribution_score = excluded.contribution_score
	`)
	for evaluateeID, score := range scores {
		if _, err := tx.Exec(contribUpsert, eval.ID, evaluateeID, score); err != nil {
			return fmt.Errorf("failed to upsert contribution for student %d: %w", evaluateeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evaluation: %w", err)
	}
	return nil
}

func (s *BaseStore) ListEvaluations(sessionID int64) ([]models.PeerEvaluation, error) {
	var evals []models.PeerEvaluation
	query := s.Converter(`
		SELECT id, lesson_session_id, evaluator_token, evaluator_group_id,
		       first_place_group_id, second_place_group_id,
		       first_place_reason, second_place_reason,
		       class_comment, general_comment, created_at
		FROM peer_evaluations
		WHERE lesson_session_id = ?
		ORDER BY id ASC
	`)

	if err := s.DB.Select(&evals, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	return evals, nil
}

func (s *BaseStore) ListSessionContributions(sessionID int64) ([]models.ContributionRow, error) {
	var rows []models.ContributionRow
	query := s.Converter(`
		SELECT ce.evaluatee_id, ce.contribution_score
		FROM contribution_evaluations ce
		JOIN peer_evaluations pe ON pe.id = ce.peer_evaluation_id
		WHERE pe.lesson_session_id = ?
		ORDER BY ce.id ASC
	`)

	if err := s.DB.Select(&rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	return rows, nil
}
