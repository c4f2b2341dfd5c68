// internal/store/sqlite/store_test.go
package sqlite

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moriyamalab/tokuten/internal/models"
)

// setupTestDB creates an in-memory SQLite database with the full schema
func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	s, err := NewSQLiteStore(":memory:", "../../../migrations")
	require.NoError(t, err, "Failed to create store")

	cleanup := func() {
		err := s.Close()
		require.NoError(t, err, "Failed to close database")
	}

	return s, cleanup
}

type testData struct {
	store *SQLiteStore
	now   time.Time
}

func setupTestData(t *testing.T) (*testData, func()) {
	s, cleanup := setupTestDB(t)
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	_, err := s.DB.Exec(`
		INSERT INTO users (id, email, full_name, furigana, role, student_number, created_at) VALUES
		(1, 'taro@example.edu', 'Yamada Taro', '', 'teacher', NULL, ?),
		(2, 'hanako@example.edu', 'Sato Hanako', '', 'student', 'S001', ?),
		(3, 'jiro@example.edu', 'Suzuki Jiro', '', 'student', 'S002', ?)`,
		now.Unix(), now.Unix(), now.Unix(),
	)
	require.NoError(t, err, "Failed to insert users")

	_, err = s.DB.Exec(`
		INSERT INTO classrooms (id, class_name, year, semester, created_at)
		VALUES (1, 'Seminar A', 2024, 'first', ?)`,
		now.Unix(),
	)
	require.NoError(t, err, "Failed to insert classroom")

	_, err = s.DB.Exec(`
		INSERT INTO classroom_teachers (classroom_id, teacher_id) VALUES (1, 1);
		INSERT INTO classroom_students (classroom_id, student_id) VALUES (1, 2), (1, 3);
	`)
	require.NoError(t, err, "Failed to insert rosters")

	_, err = s.DB.Exec(`
		INSERT INTO lesson_sessions (id, classroom_id, session_number, session_date, topic,
		                             has_quiz, has_peer_evaluation, peer_evaluation_closed, created_at)
		VALUES (1, 1, 1, '2024-01-15', 'Intro', 0, 1, 0, ?)`,
		now.Unix(),
	)
	require.NoError(t, err, "Failed to insert session")

	_, err = s.DB.Exec(`
		INSERT INTO session_groups (id, lesson_session_id, group_number, group_name, created_at) VALUES
		(1, 1, 1, 'Alpha', ?),
		(2, 1, 2, '', ?)`,
		now.Unix(), now.Unix(),
	)
	require.NoError(t, err, "Failed to insert groups")

	_, err = s.DB.Exec(`
		INSERT INTO group_members (group_id, student_id) VALUES (1, 2), (1, 3)`)
	require.NoError(t, err, "Failed to insert group members")

	return &testData{
		store: s,
		now:   now,
	}, cleanup
}

func TestMain(m *testing.M) {
	log.Println("Starting SQLite store tests...")
	code := m.Run()
	log.Println("Finished SQLite store tests")
	os.Exit(code)
}

func TestUserLookups(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	t.Run("get teacher", func(t *testing.T) {
		user, err := td.store.GetUser(1)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "teacher", user.Role)
		assert.True(t, user.IsTeacher())
	})

	t.Run("get student filters by role", func(t *testing.T) {
		student, err := td.store.GetStudent(2)
		require.NoError(t, err)
		require.NotNil(t, student)
		assert.Equal(t, "Sato Hanako", student.FullName)

		notStudent, err := td.store.GetStudent(1)
		require.NoError(t, err)
		assert.Nil(t, notStudent)
	})

	t.Run("teacher assignment check", func(t *testing.T) {
		teaches, err := td.store.TeacherTeachesClassroom(1, 1)
		require.NoError(t, err)
		assert.True(t, teaches)

		teaches, err = td.store.TeacherTeachesClassroom(2, 1)
		require.NoError(t, err)
		assert.False(t, teaches)
	})
}

func TestQRCodeLifecycle(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	var code *models.StudentQRCode

	t.Run("create on first access", func(t *testing.T) {
		var err error
		code, err = td.store.GetOrCreateQRCode(2, "token-hanako", td.now.Unix())
		require.NoError(t, err)
		require.NotNil(t, code)
		assert.Equal(t, "token-hanako", code.QRCodeID)
		assert.True(t, code.IsActive)
	})

	t.Run("second access keeps the first token", func(t *testing.T) {
		again, err := td.store.GetOrCreateQRCode(2, "token-other", td.now.Unix())
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, "token-hanako", again.QRCodeID)
	})

	t.Run("active lookup", func(t *testing.T) {
		got, err := td.store.GetActiveQRCode("token-hanako")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(2), got.StudentID)
	})

	t.Run("deactivated code is invisible to scans", func(t *testing.T) {
		require.NoError(t, td.store.SetQRCodeActive("token-hanako", false))

		got, err := td.store.GetActiveQRCode("token-hanako")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("touch records last use", func(t *testing.T) {
		ts := td.now.Add(time.Hour).Unix()
		require.NoError(t, td.store.TouchQRCode("token-hanako", ts))

		require.NoError(t, td.store.SetQRCodeActive("token-hanako", true))
		got, err := td.store.GetActiveQRCode("token-hanako")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.LastUsedAt)
		assert.Equal(t, ts, *got.LastUsedAt)
	})
}

func TestScansAndPointIncrements(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	_, err := td.store.GetOrCreateQRCode(2, "token-hanako", td.now.Unix())
	require.NoError(t, err)

	sessionID := int64(1)
	scan := &models.QRCodeScan{
		QRCodeID:        "token-hanako",
		ScannedBy:       1,
		LessonSessionID: &sessionID,
		PointsAwarded:   1,
		ScannedAt:       td.now.Unix(),
	}

	t.Run("scan audit is append-only", func(t *testing.T) {
		require.NoError(t, td.store.CreateScan(scan))
		require.NoError(t, td.store.CreateScan(scan))

		scans, err := td.store.ListScans("token-hanako")
		require.NoError(t, err)
		assert.Len(t, scans, 2)
	})

	t.Run("lesson points accumulate one per scan", func(t *testing.T) {
		points, err := td.store.IncrementLessonPoints(2, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, points)

		points, err = td.store.IncrementLessonPoints(2, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, points)
	})

	t.Run("class points accumulate independently", func(t *testing.T) {
		points, err := td.store.IncrementClassPoints(2, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, points)

		slp, err := td.store.GetLessonPoints(2, 1)
		require.NoError(t, err)
		require.NotNil(t, slp)
		assert.Equal(t, 2, slp.Points)
	})

	t.Run("set class points replaces and is idempotent", func(t *testing.T) {
		points, err := td.store.SetClassPoints(2, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, points)

		points, err = td.store.SetClassPoints(2, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, points)

		scp, err := td.store.GetClassPoints(2, 1)
		require.NoError(t, err)
		require.NotNil(t, scp)
		assert.Equal(t, 10, scp.Points)
	})

	t.Run("standings come back highest first", func(t *testing.T) {
		_, err := td.store.SetClassPoints(3, 1, 3)
		require.NoError(t, err)

		rows, err := td.store.ListClassPoints(1)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(2), rows[0].StudentID)
		assert.Equal(t, 10, rows[0].Points)
		assert.Equal(t, int64(3), rows[1].StudentID)
	})
}

func TestFindCurrentSession(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	t.Run("same-day session resolves", func(t *testing.T) {
		session, err := td.store.FindCurrentSession(1, "2024-01-15", nil)
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, int64(1), session.ID)
	})

	t.Run("most recently created wins on shared dates", func(t *testing.T) {
		_, err := td.store.DB.Exec(`
			INSERT INTO lesson_sessions (id, classroom_id, session_number, session_date, topic,
			                             has_quiz, has_peer_evaluation, peer_evaluation_closed, created_at)
			VALUES (2, 1, 2, '2024-01-15', 'Follow-up', 0, 0, 0, ?)`,
			td.now.Add(time.Hour).Unix(),
		)
		require.NoError(t, err)

		session, err := td.store.FindCurrentSession(1, "2024-01-15", nil)
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, int64(2), session.ID)
	})

	t.Run("no session for other days", func(t *testing.T) {
		session, err := td.store.FindCurrentSession(1, "2024-01-16", nil)
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("only taught classrooms count", func(t *testing.T) {
		session, err := td.store.FindCurrentSession(2, "2024-01-15", nil)
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestPeerEvaluationGate(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	t.Run("close and close again", func(t *testing.T) {
		found, err := td.store.SetPeerEvaluationClosed(1, true)
		require.NoError(t, err)
		assert.True(t, found)

		found, err = td.store.SetPeerEvaluationClosed(1, true)
		require.NoError(t, err)
		assert.True(t, found)

		session, err := td.store.GetSession(1)
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.True(t, session.PeerEvaluationClosed)
	})

	t.Run("unknown session reports not found", func(t *testing.T) {
		found, err := td.store.SetPeerEvaluationClosed(999, true)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestEvaluationPersistence(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	t.Run("links are stable per group", func(t *testing.T) {
		link, err := td.store.GetOrCreateEvaluationLink(1, 1, "link-one", td.now.Unix())
		require.NoError(t, err)
		assert.Equal(t, "link-one", link.Token)

		again, err := td.store.GetOrCreateEvaluationLink(1, 1, "link-two", td.now.Unix())
		require.NoError(t, err)
		assert.Equal(t, "link-one", again.Token)

		links, err := td.store.ListEvaluationLinks(1)
		require.NoError(t, err)
		assert.Len(t, links, 1)
	})

	groupID := int64(1)
	eval := &models.PeerEvaluation{
		LessonSessionID:    1,
		EvaluatorToken:     "link-one",
		EvaluatorGroupID:   &groupID,
		FirstPlaceGroupID:  1,
		SecondPlaceGroupID: 2,
		FirstPlaceReason:   "great demo",
		CreatedAt:          td.now.Unix(),
	}

	t.Run("submission lands with contributions", func(t *testing.T) {
		err := td.store.UpsertEvaluation(eval, map[int64]int{2: 5, 3: 3})
		require.NoError(t, err)

		evals, err := td.store.ListEvaluations(1)
		require.NoError(t, err)
		require.Len(t, evals, 1)
		assert.Equal(t, int64(1), evals[0].FirstPlaceGroupID)

		rows, err := td.store.ListSessionContributions(1)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("resubmission overwrites instead of duplicating", func(t *testing.T) {
		eval.FirstPlaceGroupID = 2
		eval.SecondPlaceGroupID = 1
		err := td.store.UpsertEvaluation(eval, map[int64]int{2: 4})
		require.NoError(t, err)

		evals, err := td.store.ListEvaluations(1)
		require.NoError(t, err)
		require.Len(t, evals, 1)
		assert.Equal(t, int64(2), evals[0].FirstPlaceGroupID)

		rows, err := td.store.ListSessionContributions(1)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, row := range rows {
			if row.EvaluateeID == 2 {
				assert.Equal(t, 4, row.ContributionScore)
			}
		}
	})
}
