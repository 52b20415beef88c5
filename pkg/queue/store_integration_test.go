package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/pkg/queue"
	"github.com/queryhive/queryhive/test/util"
)

// seedAgent inserts the user/connection/agent rows every run references.
func seedAgent(t *testing.T, pool *pgxpool.Pool) (userID, agentID string) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, display_name)
		 VALUES ('u1', 'u1@example.com', 'x', 'Test User')`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO connections (id, owner_user_id, kind, payload)
		 VALUES ('c1', 'u1', 'sqlite', '{"dataset_id": "demo"}')`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO agents (id, owner_user_id, name, connection_id, model_id)
		 VALUES ('a1', 'u1', 'Test Agent', 'c1', 'gpt-4o')`)
	require.NoError(t, err)

	return "u1", "a1"
}

// seedRun inserts a queued run with an explicit creation time so claim
// ordering is deterministic.
func seedRun(t *testing.T, pool *pgxpool.Pool, id string, createdAt time.Time) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO runs (id, agent_id, user_id, question, created_at)
		 VALUES ($1, 'a1', 'u1', $2, $3)`,
		id, "question for "+id, createdAt)
	require.NoError(t, err)
}

func runStatus(t *testing.T, pool *pgxpool.Pool, id string) string {
	t.Helper()
	var status string
	err := pool.QueryRow(context.Background(),
		`SELECT status FROM runs WHERE id = $1`, id).Scan(&status)
	require.NoError(t, err)
	return status
}

func TestStore_ClaimNext(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := queue.NewStore(pool)
	ctx := context.Background()

	seedAgent(t, pool)
	base := time.Now().Add(-time.Minute)
	seedRun(t, pool, "r-old", base)
	seedRun(t, pool, "r-new", base.Add(time.Second))

	run, err := store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "r-old", run.ID, "oldest run must be claimed first")
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, "worker-1", run.WorkerID)
	assert.Equal(t, 1, run.Attempts)
	assert.NotNil(t, run.StartedAt)

	run, err = store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "r-new", run.ID)

	_, err = store.ClaimNext(ctx, "worker-1")
	assert.ErrorIs(t, err, queue.ErrNoRunsAvailable)
}

func TestStore_Counts(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := queue.NewStore(pool)
	ctx := context.Background()

	seedAgent(t, pool)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		seedRun(t, pool, fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Second))
	}

	depth, err := store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	_, err = store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	depth, err = store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	running, err := store.CountRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, running)
}

func TestStore_FinishIsIdempotent(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := queue.NewStore(pool)
	ctx := context.Background()

	seedAgent(t, pool)
	seedRun(t, pool, "r1", time.Now())

	run, err := store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	execMS := int64(42)
	rows := 3
	err = store.Finish(ctx, run.ID, &queue.ExecutionResult{
		Status: models.RunStatusSuccess,
		Result: &models.RunResult{
			FormattedResponse: "answer",
			SQLQuery:          "SELECT 1",
			ExecutionMS:       &execMS,
			ResultRowsCount:   &rows,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", runStatus(t, pool, run.ID))

	// A late failure write must not clobber the terminal state.
	err = store.Finish(ctx, run.ID, &queue.ExecutionResult{
		Status:       models.RunStatusFailure,
		ErrorKind:    models.ErrKindInternal,
		ErrorMessage: "late delivery",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", runStatus(t, pool, run.ID))
}

func TestStore_FinishLeavesCancelledRunAlone(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := queue.NewStore(pool)
	ctx := context.Background()

	seedAgent(t, pool)
	seedRun(t, pool, "r1", time.Now())

	run, err := store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	// Cancelled through the API while the worker was still executing.
	_, err = pool.Exec(ctx, `UPDATE runs SET status = 'cancelled' WHERE id = $1`, run.ID)
	require.NoError(t, err)

	err = store.Finish(ctx, run.ID, &queue.ExecutionResult{
		Status: models.RunStatusSuccess,
		Result: &models.RunResult{FormattedResponse: "answer"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", runStatus(t, pool, run.ID))
}

func TestStore_RequeueOrphans(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := queue.NewStore(pool)
	ctx := context.Background()

	seedAgent(t, pool)
	base := time.Now().Add(-time.Minute)
	seedRun(t, pool, "r-retry", base)
	seedRun(t, pool, "r-spent", base.Add(time.Second))

	_, err := store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	// Simulate a dead worker: stale heartbeats, one run out of attempts.
	stale := time.Now().Add(-time.Hour)
	_, err = pool.Exec(ctx, `UPDATE runs SET heartbeat_at = $1`, stale)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE runs SET attempts = 3 WHERE id = 'r-spent'`)
	require.NoError(t, err)

	requeued, failed, err := store.RequeueOrphans(ctx, 2*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	assert.Equal(t, "queued", runStatus(t, pool, "r-retry"))
	assert.Equal(t, "failure", runStatus(t, pool, "r-spent"))

	var errKind string
	err = pool.QueryRow(ctx,
		`SELECT error_kind FROM runs WHERE id = 'r-spent'`).Scan(&errKind)
	require.NoError(t, err)
	assert.Equal(t, "internal_error", errKind)

	// Healthy heartbeats are never touched.
	requeued, failed, err = store.RequeueOrphans(ctx, 2*time.Minute, 3)
	require.NoError(t, err)
	assert.Zero(t, requeued+failed)
}

func TestStore_HeartbeatOnlyTouchesRunningRuns(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := queue.NewStore(pool)
	ctx := context.Background()

	seedAgent(t, pool)
	seedRun(t, pool, "r1", time.Now())

	require.NoError(t, store.Heartbeat(ctx, "r1"))

	var hb *time.Time
	err := pool.QueryRow(ctx,
		`SELECT heartbeat_at FROM runs WHERE id = 'r1'`).Scan(&hb)
	require.NoError(t, err)
	assert.Nil(t, hb, "queued run must not get a heartbeat")
}
