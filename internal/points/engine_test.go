package points

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moriyamalab/tokuten/internal/apperr"
	"github.com/moriyamalab/tokuten/internal/models"
	"github.com/moriyamalab/tokuten/internal/store/sqlite"
)

type fixture struct {
	store   *sqlite.SQLiteStore
	engine  *Engine
	teacher *models.User
	student *models.User
	now     time.Time
}

func setupFixture(t *testing.T) (*fixture, func()) {
	s, err := sqlite.NewSQLiteStore(":memory:", "../../migrations")
	require.NoError(t, err, "Failed to create store")

	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	_, err = s.DB.Exec(`
		INSERT INTO users (id, email, full_name, furigana, role, student_number, created_at) VALUES
		(1, 'taro@example.edu', 'Yamada Taro', '', 'teacher', NULL, ?),
		(2, 'hanako@example.edu', 'Sato Hanako', '', 'student', 'S001', ?),
		(3, 'kenji@example.edu', 'Tanaka Kenji', '', 'student', 'S003', ?)`,
		now.Unix(), now.Unix(), now.Unix(),
	)
	require.NoError(t, err)

	_, err = s.DB.Exec(`
		INSERT INTO classrooms (id, class_name, year, semester, created_at) VALUES
		(1, 'Seminar A', 2024, 'first', ?),
		(2, 'Seminar B', 2024, 'first', ?)`,
		now.Unix(), now.Unix(),
	)
	require.NoError(t, err)

	_, err = s.DB.Exec(`INSERT INTO classroom_teachers (classroom_id, teacher_id) VALUES (1, 1)`)
	require.NoError(t, err)

	_, err = s.DB.Exec(`
		INSERT INTO lesson_sessions (id, classroom_id, session_number, session_date, topic,
		                             has_quiz, has_peer_evaluation, peer_evaluation_closed, created_at)
		VALUES (1, 1, 1, '2024-01-15', 'Intro', 0, 0, 0, ?)`,
		now.Unix(),
	)
	require.NoError(t, err)

	engine := NewEngine(s)
	engine.now = func() time.Time { return now }

	teacher, err := s.GetUser(1)
	require.NoError(t, err)
	student, err := s.GetUser(2)
	require.NoError(t, err)

	f := &fixture{
		store:   s,
		engine:  engine,
		teacher: teacher,
		student: student,
		now:     now,
	}
	return f, func() { s.Close() }
}

func (f *fixture) issueCode(t *testing.T) *models.StudentQRCode {
	code, err := f.engine.IssueQRCode(2)
	require.NoError(t, err)
	require.NotNil(t, code)
	return code
}

func TestRecordScanAwardsOnePointPerScan(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	code := f.issueCode(t)

	for i := 1; i <= 3; i++ {
		result, err := f.engine.RecordScan(f.teacher, code.QRCodeID, nil)
		require.NoError(t, err)
		require.NotNil(t, result.Session)
		require.NotNil(t, result.LessonPoints)
		assert.Equal(t, i, *result.LessonPoints)
		require.NotNil(t, result.ClassPoints)
		assert.Equal(t, i, *result.ClassPoints)
	}

	scans, err := f.store.ListScans(code.QRCodeID)
	require.NoError(t, err)
	assert.Len(t, scans, 3)
}

func TestRecordScanWithoutSessionStillAudits(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	code := f.issueCode(t)
	f.engine.now = func() time.Time {
		return time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)
	}

	result, err := f.engine.RecordScan(f.teacher, code.QRCodeID, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Session)
	assert.Nil(t, result.LessonPoints)
	assert.Nil(t, result.ClassPoints)

	scans, err := f.store.ListScans(code.QRCodeID)
	require.NoError(t, err)
	assert.Len(t, scans, 1)

	slp, err := f.store.GetLessonPoints(2, 1)
	require.NoError(t, err)
	assert.Nil(t, slp)
}

func TestRecordScanDropsUntaughtClassroom(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	code := f.issueCode(t)
	f.engine.now = func() time.Time {
		return time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)
	}

	other := int64(2)
	result, err := f.engine.RecordScan(f.teacher, code.QRCodeID, &other)
	require.NoError(t, err)
	assert.Nil(t, result.ClassroomID)

	scp, err := f.store.GetClassPoints(2, 2)
	require.NoError(t, err)
	assert.Nil(t, scp)
}

func TestRecordScanExplicitTaughtClassroom(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	code := f.issueCode(t)

	taught := int64(1)
	result, err := f.engine.RecordScan(f.teacher, code.QRCodeID, &taught)
	require.NoError(t, err)
	require.NotNil(t, result.ClassroomID)
	assert.Equal(t, taught, *result.ClassroomID)
	require.NotNil(t, result.ClassPoints)
	assert.Equal(t, 1, *result.ClassPoints)
}

func TestRecordScanRejections(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	code := f.issueCode(t)

	t.Run("unknown code", func(t *testing.T) {
		_, err := f.engine.RecordScan(f.teacher, "no-such-code", nil)
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("deactivated code", func(t *testing.T) {
		require.NoError(t, f.engine.SetQRCodeActive(f.teacher, code.QRCodeID, false))
		_, err := f.engine.RecordScan(f.teacher, code.QRCodeID, nil)
		assert.True(t, apperr.IsNotFound(err))
		require.NoError(t, f.engine.SetQRCodeActive(f.teacher, code.QRCodeID, true))
	})

	t.Run("student may not scan", func(t *testing.T) {
		_, err := f.engine.RecordScan(f.student, code.QRCodeID, nil)
		assert.True(t, apperr.IsPermission(err))
	})
}

func TestSetClassPoints(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	classID := int64(1)

	t.Run("replaces the balance idempotently", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			points, err := f.engine.SetClassPoints(f.teacher, 2, &models.SetPointsRequest{
				Points:  12,
				ClassID: &classID,
			})
			require.NoError(t, err)
			assert.Equal(t, 12, points)
		}

		scp, err := f.store.GetClassPoints(2, 1)
		require.NoError(t, err)
		require.NotNil(t, scp)
		assert.Equal(t, 12, scp.Points)
	})

	t.Run("missing class id", func(t *testing.T) {
		_, err := f.engine.SetClassPoints(f.teacher, 2, &models.SetPointsRequest{Points: 5})
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("negative points", func(t *testing.T) {
		_, err := f.engine.SetClassPoints(f.teacher, 2, &models.SetPointsRequest{
			Points:  -1,
			ClassID: &classID,
		})
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("unknown student", func(t *testing.T) {
		_, err := f.engine.SetClassPoints(f.teacher, 999, &models.SetPointsRequest{
			Points:  5,
			ClassID: &classID,
		})
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("untaught classroom", func(t *testing.T) {
		other := int64(2)
		_, err := f.engine.SetClassPoints(f.teacher, 2, &models.SetPointsRequest{
			Points:  5,
			ClassID: &other,
		})
		assert.True(t, apperr.IsPermission(err))
	})
}

func TestIssueQRCodeIsStable(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	first := f.issueCode(t)
	second := f.issueCode(t)
	assert.Equal(t, first.QRCodeID, second.QRCodeID)

	_, err := f.engine.IssueQRCode(999)
	assert.True(t, apperr.IsNotFound(err))
}
