// Package queue provides the database-backed run queue: claiming, worker
// pool, heartbeats, and orphan recovery.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/queryhive/queryhive/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoRunsAvailable indicates no queued runs are waiting.
	ErrNoRunsAvailable = errors.New("no runs available")

	// ErrAtCapacity indicates the global concurrent run limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// RunExecutor processes a claimed run end to end. The worker only handles
// claiming, heartbeat, and the terminal status write. A nil result means the
// run was interrupted by shutdown before reaching a terminal state; the
// worker then leaves the row for orphan redelivery.
type RunExecutor interface {
	Execute(ctx context.Context, run *models.Run) *ExecutionResult
}

// ExecutionResult is the terminal state of one run.
type ExecutionResult struct {
	Status       models.RunStatus
	Result       *models.RunResult
	ErrorKind    models.ErrorKind
	ErrorMessage string
}

// RunRegistry is the subset of WorkerPool used by workers to report which
// runs are in flight, for shutdown logging and health.
type RunRegistry interface {
	RegisterRun(runID string)
	UnregisterRun(runID string)
}

// WorkerHealth is per-worker health reporting.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	CurrentRunID  string    `json:"current_run_id,omitempty"`
	RunsProcessed int       `json:"runs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}

// PoolHealth is pool-wide health reporting.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveRuns       int            `json:"active_runs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}
