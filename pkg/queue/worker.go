package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/queryhive/queryhive/pkg/config"
	"github.com/queryhive/queryhive/pkg/models"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// runStore is the queue persistence surface workers use. *Store satisfies
// it; tests substitute fakes.
type runStore interface {
	CountRunning(ctx context.Context) (int, error)
	QueueDepth(ctx context.Context) (int, error)
	ClaimNext(ctx context.Context, workerID string) (*models.Run, error)
	Heartbeat(ctx context.Context, runID string) error
	Finish(ctx context.Context, runID string, result *ExecutionResult) error
	RequeueOrphans(ctx context.Context, threshold time.Duration, maxAttempts int) (int, int, error)
}

// Worker is a single queue worker that polls for and processes runs.
type Worker struct {
	id       string
	store    runStore
	config   *config.QueueConfig
	executor RunExecutor
	pool     RunRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id string, store runStore, cfg *config.QueueConfig, executor RunExecutor, pool RunRegistry) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// run. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing run", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the base interval with random jitter applied, so
// workers spread their claim attempts instead of thundering together.
func (w *Worker) pollInterval() time.Duration {
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return w.config.PollInterval
	}
	return w.config.PollInterval - jitter + rand.N(2*jitter)
}

// pollAndProcess checks capacity, claims a run, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	activeCount, err := w.store.CountRunning(ctx)
	if err != nil {
		return fmt.Errorf("checking active runs: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentRuns {
		return ErrAtCapacity
	}

	run, err := w.store.ClaimNext(ctx, w.id)
	if err != nil {
		return err
	}

	log := slog.With("run_id", run.ID, "worker_id", w.id)
	log.Info("Run claimed", "attempt", run.Attempts)

	w.setStatus(WorkerStatusWorking, run.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	runCtx, cancelRun := context.WithTimeout(ctx, w.config.RunTimeout)
	defer cancelRun()

	w.pool.RegisterRun(run.ID)
	defer w.pool.UnregisterRun(run.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(runCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, run.ID)

	result := w.executor.Execute(runCtx, run)
	if result == nil {
		result = w.synthesizeResult(runCtx)
	}
	cancelHeartbeat()

	if result == nil {
		// Shutdown interrupted the run before natural termination. Leave the
		// row running; the orphan scan requeues it for another worker.
		log.Info("Run interrupted by shutdown, leaving for redelivery")
		return nil
	}

	// Terminal write uses a background context; the run context may already
	// be cancelled or expired.
	if err := w.store.Finish(context.Background(), run.ID, result); err != nil {
		log.Error("Failed to write terminal run status", "error", err)
		return err
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	log.Info("Run processing complete", "status", result.Status)
	return nil
}

// synthesizeResult builds a terminal result when the executor returned nil,
// classifying by how the run context ended. A parent cancellation means
// shutdown; it returns nil so the run stays claimable by another worker.
func (w *Worker) synthesizeResult(runCtx context.Context) *ExecutionResult {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return &ExecutionResult{
			Status:       models.RunStatusFailure,
			ErrorKind:    models.ErrKindTimeout,
			ErrorMessage: fmt.Sprintf("run timed out after %v", w.config.RunTimeout),
		}
	case errors.Is(runCtx.Err(), context.Canceled):
		return nil
	default:
		return &ExecutionResult{
			Status:       models.RunStatusFailure,
			ErrorKind:    models.ErrKindInternal,
			ErrorMessage: "executor returned no result",
		}
	}
}

// runHeartbeat periodically refreshes heartbeat_at for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, runID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, runID); err != nil {
				slog.Warn("Heartbeat update failed", "run_id", runID, "error", err)
			}
		}
	}
}

func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}
