package postgres

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/moriyamalab/tokuten/internal/models"
)

// setupTestDB spins up a throwaway Postgres and applies the migrations
func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	postgres, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err)

	dsn, err := postgres.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgresStore(dsn, "../../../migrations")
	require.NoError(t, err, "Failed to create store")

	cleanup := func() {
		s.Close()
		postgres.Terminate(ctx)
	}

	return s, cleanup
}

type testData struct {
	store *PostgresStore
	now   time.Time
}

func setupTestData(t *testing.T) (*testData, func()) {
	s, cleanup := setupTestDB(t)
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	_, err := s.DB.Exec(`
		INSERT INTO users (id, email, full_name, furigana, role, student_number, created_at) VALUES
		(1, 'taro@example.edu', 'Yamada Taro', '', 'teacher', NULL, $1),
		(2, 'hanako@example.edu', 'Sato Hanako', '', 'student', 'S001', $1),
		(3, 'jiro@example.edu', 'Suzuki Jiro', '', 'student', 'S002', $1)`,
		now.Unix(),
	)
	require.NoError(t, err, "Failed to insert users")

	_, err = s.DB.Exec(`
		INSERT INTO classrooms (id, class_name, year, semester, created_at)
		VALUES (1, 'Seminar A', 2024, 'first', $1)`,
		now.Unix(),
	)
	require.NoError(t, err, "Failed to insert classroom")

	_, err = s.DB.Exec(`
		INSERT INTO classroom_teachers (classroom_id, teacher_id) VALUES (1, 1)`)
	require.NoError(t, err, "Failed to insert teacher assignment")

	_, err = s.DB.Exec(`
		INSERT INTO lesson_sessions (id, classroom_id, session_number, session_date, topic,
		                             has_quiz, has_peer_evaluation, peer_evaluation_closed, created_at)
		VALUES (1, 1, 1, '2024-01-15', 'Intro', FALSE, TRUE, FALSE, $1)`,
		now.Unix(),
	)
	require.NoError(t, err, "Failed to insert session")

	_, err = s.DB.Exec(`
		INSERT INTO session_groups (id, lesson_session_id, group_number, group_name, created_at) VALUES
		(1, 1, 1, 'Alpha', $1),
		(2, 1, 2, '', $1)`,
		now.Unix(),
	)
	require.NoError(t, err, "Failed to insert groups")

	return &testData{
		store: s,
		now:   now,
	}, cleanup
}

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		log.Println("Skipping Postgres integration tests. Use -short=false to run them.")
		os.Exit(0)
	}
	log.Println("Starting Postgres store tests...")
	code := m.Run()
	log.Println("Finished Postgres store tests")
	os.Exit(code)
}

func TestQRCodeAndScans(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	code, err := td.store.GetOrCreateQRCode(2, "7c9a3c1e-0000-4000-8000-000000000001", td.now.Unix())
	require.NoError(t, err)
	require.NotNil(t, code)

	t.Run("get-or-create is stable", func(t *testing.T) {
		again, err := td.store.GetOrCreateQRCode(2, "7c9a3c1e-0000-4000-8000-000000000002", td.now.Unix())
		require.NoError(t, err)
		assert.Equal(t, code.QRCodeID, again.QRCodeID)
	})

	t.Run("scan rows accumulate", func(t *testing.T) {
		sessionID := int64(1)
		scan := &models.QRCodeScan{
			QRCodeID:        code.QRCodeID,
			ScannedBy:       1,
			LessonSessionID: &sessionID,
			PointsAwarded:   1,
			ScannedAt:       td.now.Unix(),
		}
		require.NoError(t, td.store.CreateScan(scan))
		require.NoError(t, td.store.CreateScan(scan))

		scans, err := td.store.ListScans(code.QRCodeID)
		require.NoError(t, err)
		assert.Len(t, scans, 2)
	})
}

func TestPointUpserts(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	t.Run("lesson points increment", func(t *testing.T) {
		points, err := td.store.IncrementLessonPoints(2, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, points)

		points, err = td.store.IncrementLessonPoints(2, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, points)
	})

	t.Run("class points replace", func(t *testing.T) {
		_, err := td.store.IncrementClassPoints(2, 1)
		require.NoError(t, err)

		points, err := td.store.SetClassPoints(2, 1, 7)
		require.NoError(t, err)
		assert.Equal(t, 7, points)

		scp, err := td.store.GetClassPoints(2, 1)
		require.NoError(t, err)
		require.NotNil(t, scp)
		assert.Equal(t, 7, scp.Points)
	})
}

// The increments are single-statement upserts, so concurrent scans of
// the same student must serialize on the row and lose nothing.
func TestConcurrentPointIncrements(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	const scans = 20

	t.Run("lesson points", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, scans)
		for i := 0; i < scans; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := td.store.IncrementLessonPoints(2, 1); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		slp, err := td.store.GetLessonPoints(2, 1)
		require.NoError(t, err)
		require.NotNil(t, slp)
		assert.Equal(t, scans, slp.Points)
	})

	t.Run("class points", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, scans)
		for i := 0; i < scans; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := td.store.IncrementClassPoints(2, 1); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		scp, err := td.store.GetClassPoints(2, 1)
		require.NoError(t, err)
		require.NotNil(t, scp)
		assert.Equal(t, scans, scp.Points)
	})
}

func TestEvaluationUpsert(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	link, err := td.store.GetOrCreateEvaluationLink(1, 1, "7c9a3c1e-0000-4000-8000-00000000000a", td.now.Unix())
	require.NoError(t, err)

	groupID := int64(1)
	eval := &models.PeerEvaluation{
		LessonSessionID:    1,
		EvaluatorToken:     link.Token,
		EvaluatorGroupID:   &groupID,
		FirstPlaceGroupID:  1,
		SecondPlaceGroupID: 2,
		CreatedAt:          td.now.Unix(),
	}

	require.NoError(t, td.store.UpsertEvaluation(eval, map[int64]int{2: 5, 3: 4}))

	t.Run("resubmission keyed by token", func(t *testing.T) {
		eval.FirstPlaceGroupID = 2
		eval.SecondPlaceGroupID = 1
		require.NoError(t, td.store.UpsertEvaluation(eval, map[int64]int{2: 3}))

		evals, err := td.store.ListEvaluations(1)
		require.NoError(t, err)
		require.Len(t, evals, 1)
		assert.Equal(t, int64(2), evals[0].FirstPlaceGroupID)
	})

	t.Run("contribution scores survive the join", func(t *testing.T) {
		rows, err := td.store.ListSessionContributions(1)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})
}
