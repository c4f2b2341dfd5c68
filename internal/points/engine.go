package points

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/moriyamalab/tokuten/internal/apperr"
	"github.com/moriyamalab/tokuten/internal/models"
	"github.com/moriyamalab/tokuten/internal/store"
)

// PointsPerScan is what one physical scan is worth. Scans are not
// deduplicated: the same code scanned twice awards two points.
const PointsPerScan = 1

// Engine turns scan events into durable point state.
type Engine struct {
	store store.Store
	now   func() time.Time
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// ScanResult reports what a scan resolved and the balances after it.
// Session and classroom may be nil when no same-day session exists and
// no class was specified; the scan is still recorded.
type ScanResult struct {
	QRCode       *models.StudentQRCode `json:"qr_code"`
	Session      *models.LessonSession `json:"session,omitempty"`
	ClassroomID  *int64                `json:"classroom_id,omitempty"`
	LessonPoints *int                  `json:"lesson_points,omitempty"`
	ClassPoints  *int                  `json:"class_points,omitempty"`
}

// RecordScan converts one scan action into an audit row plus point
// increments. The audit row is authoritative: a failed class-points
// update is logged and swallowed rather than rolling back the scan.
func (e *Engine) RecordScan(teacher *models.User, qrCodeID string, classroomID *int64) (*ScanResult, error) {
	qrCode, err := e.store.GetActiveQRCode(qrCodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve qr code: %w", err)
	}
	if qrCode == nil {
		return nil, apperr.NotFound("qr code")
	}

	if !teacher.IsTeacher() {
		return nil, apperr.Permission("only teachers may scan qr codes")
	}

	// An explicit class the actor does not teach is dropped, not an
	// error: the scan still counts.
	targetClassroom := classroomID
	if targetClassroom != nil {
		teaches, err := e.store.TeacherTeachesClassroom(teacher.ID, *targetClassroom)
		if err != nil {
			return nil, fmt.Errorf("failed to check classroom assignment: %w", err)
		}
		if !teaches {
			targetClassroom = nil
		}
	}

	today := e.now().Format("2006-01-02")
	session, err := e.store.FindCurrentSession(teacher.ID, today, targetClassroom)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current session: %w", err)
	}

	scan := &models.QRCodeScan{
		QRCodeID:      qrCode.QRCodeID,
		ScannedBy:     teacher.ID,
		PointsAwarded: PointsPerScan,
		ScannedAt:     e.now().Unix(),
	}
	if session != nil {
		scan.LessonSessionID = &session.ID
	}
	if err := e.store.CreateScan(scan); err != nil {
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	result := &ScanResult{
		QRCode:  qrCode,
		Session: session,
	}

	if session != nil {
		lessonPoints, err := e.store.IncrementLessonPoints(qrCode.StudentID, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update lesson points: %w", err)
		}
		result.LessonPoints = &lessonPoints
	}

	updateClassroom := targetClassroom
	if session != nil {
		updateClassroom = &session.ClassroomID
	}
	if updateClassroom != nil {
		result.ClassroomID = updateClassroom
		classPoints, err := e.store.IncrementClassPoints(qrCode.StudentID, *updateClassroom)
		if err != nil {
			logger.Error.Printf("Failed to update class points for student %d in class %d: %v",
				qrCode.StudentID, *updateClassroom, err)
		} else {
			result.ClassPoints = &classPoints
		}
	}

	if err := e.store.TouchQRCode(qrCode.QRCodeID, e.now().Unix()); err != nil {
		logger.Error.Printf("Failed to touch qr code %s: %v", qrCode.QRCodeID, err)
	}

	return result, nil
}

// SetClassPoints replaces the per-class balance for one student. The
// operation is idempotent; it never touches per-lesson totals.
func (e *Engine) SetClassPoints(actor *models.User, studentID int64, req *models.SetPointsRequest) (int, error) {
	if req.ClassID == nil {
		return 0, apperr.Validation("class_id", "class_id is required")
	}
	if req.Points < 0 {
		return 0, apperr.Validation("points", "points must not be negative")
	}

	student, err := e.store.GetStudent(studentID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve student: %w", err)
	}
	if student == nil {
		return 0, apperr.NotFound("student")
	}

	classroom, err := e.store.GetClassroom(*req.ClassID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve classroom: %w", err)
	}
	if classroom == nil {
		return 0, apperr.NotFound("classroom")
	}

	teaches, err := e.store.TeacherTeachesClassroom(actor.ID, classroom.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to check classroom assignment: %w", err)
	}
	if !teaches {
		return 0, apperr.Permission("actor does not teach this classroom")
	}

	points, err := e.store.SetClassPoints(student.ID, classroom.ID, req.Points)
	if err != nil {
		return 0, fmt.Errorf("failed to set class points: %w", err)
	}
	return points, nil
}

// IssueQRCode lazily creates the student's code on first access.
func (e *Engine) IssueQRCode(studentID int64) (*models.StudentQRCode, error) {
	student, err := e.store.GetStudent(studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve student: %w", err)
	}
	if student == nil {
		return nil, apperr.NotFound("student")
	}

	code, err := e.store.GetOrCreateQRCode(student.ID, uuid.NewString(), e.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to issue qr code: %w", err)
	}
	return code, nil
}

// SetQRCodeActive toggles a code without deleting its scan history.
func (e *Engine) SetQRCodeActive(actor *models.User, qrCodeID string, active bool) error {
	if !actor.IsTeacher() {
		return apperr.Permission("only teachers may manage qr codes")
	}
	if err := e.store.SetQRCodeActive(qrCodeID, active); err != nil {
		return fmt.Errorf("failed to update qr code: %w", err)
	}
	return nil
}

func (e *Engine) ScanHistory(qrCodeID string) ([]models.QRCodeScan, error) {
	scans, err := e.store.ListScans(qrCodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return scans, nil
}
