package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queryhive/queryhive/pkg/models"
)

// Store is the queue's persistence layer over the runs table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a queue store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CountRunning returns the number of runs currently in the running state.
func (s *Store) CountRunning(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = 'running'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting running runs: %w", err)
	}
	return n, nil
}

// QueueDepth returns the number of queued runs.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = 'queued'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting queued runs: %w", err)
	}
	return n, nil
}

// ClaimNext atomically claims the oldest queued run for a worker using
// FOR UPDATE SKIP LOCKED, so concurrent workers never claim the same run.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*models.Run, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("starting claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var run models.Run
	err = tx.QueryRow(ctx,
		`SELECT id, agent_id, user_id, chat_session_id, question, attempts, created_at
		 FROM runs
		 WHERE status = 'queued'
		 ORDER BY created_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`).
		Scan(&run.ID, &run.AgentID, &run.OwnerUserID, &run.ChatSessionID, &run.Question, &run.Attempts, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRunsAvailable
		}
		return nil, fmt.Errorf("querying queued run: %w", err)
	}

	now := time.Now()
	_, err = tx.Exec(ctx,
		`UPDATE runs
		 SET status = 'running', worker_id = $2, attempts = attempts + 1,
		     started_at = $3, heartbeat_at = $3
		 WHERE id = $1`,
		run.ID, workerID, now)
	if err != nil {
		return nil, fmt.Errorf("claiming run %s: %w", run.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	run.Status = models.RunStatusRunning
	run.WorkerID = workerID
	run.Attempts++
	run.StartedAt = &now
	return &run, nil
}

// Heartbeat refreshes the claim timestamp of a running run.
func (s *Store) Heartbeat(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET heartbeat_at = NOW() WHERE id = $1 AND status = 'running'`,
		runID)
	if err != nil {
		return fmt.Errorf("heartbeat for run %s: %w", runID, err)
	}
	return nil
}

// Finish writes the terminal state of a run. The status guard makes the
// write idempotent: a run that already reached a terminal state (for example
// cancelled through the API) is left untouched.
func (s *Store) Finish(ctx context.Context, runID string, result *ExecutionResult) error {
	var sqlUsed, resultData *string
	var execMS *int64
	var rowCount *int
	var fromCache bool
	if result.Result != nil {
		if result.Result.SQLQuery != "" {
			sqlUsed = &result.Result.SQLQuery
		}
		resultData = &result.Result.FormattedResponse
		execMS = result.Result.ExecutionMS
		rowCount = result.Result.ResultRowsCount
		fromCache = result.Result.FromCache
	}
	var errKind, errMsg *string
	if result.ErrorKind != "" {
		k := string(result.ErrorKind)
		errKind = &k
	}
	if result.ErrorMessage != "" {
		errMsg = &result.ErrorMessage
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE runs
		 SET status = $2, sql_used = $3, result_data = $4, execution_ms = $5,
		     result_rows_count = $6, from_cache = $7, error_kind = $8,
		     error_message = $9, finished_at = NOW()
		 WHERE id = $1 AND status IN ('queued', 'running')`,
		runID, result.Status, sqlUsed, resultData, execMS, rowCount, fromCache, errKind, errMsg)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	return nil
}

// RequeueOrphans requeues running runs whose heartbeat is older than the
// threshold and that still have attempts left; runs out of attempts are
// failed instead. Returns how many runs were touched.
func (s *Store) RequeueOrphans(ctx context.Context, threshold time.Duration, maxAttempts int) (requeued, failed int, err error) {
	cutoff := time.Now().Add(-threshold)

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs
		 SET status = 'queued', worker_id = NULL, started_at = NULL, heartbeat_at = NULL
		 WHERE status = 'running' AND heartbeat_at < $1 AND attempts < $2`,
		cutoff, maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("requeueing orphans: %w", err)
	}
	requeued = int(tag.RowsAffected())

	tag, err = s.pool.Exec(ctx,
		`UPDATE runs
		 SET status = 'failure', error_kind = 'internal_error',
		     error_message = 'worker lost after maximum delivery attempts',
		     finished_at = NOW()
		 WHERE status = 'running' AND heartbeat_at < $1 AND attempts >= $2`,
		cutoff, maxAttempts)
	if err != nil {
		return requeued, 0, fmt.Errorf("failing exhausted orphans: %w", err)
	}
	failed = int(tag.RowsAffected())
	return requeued, failed, nil
}
