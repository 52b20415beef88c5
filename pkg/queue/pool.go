package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/queryhive/queryhive/pkg/config"
)

// WorkerPool manages a pool of queue workers and the orphan recovery task.
type WorkerPool struct {
	store    runStore
	config   *config.QueueConfig
	executor RunExecutor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// In-flight run ids, for shutdown logging.
	mu         sync.RWMutex
	activeRuns map[string]struct{}
	started    bool

	orphanMu         sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(store *Store, cfg *config.QueueConfig, executor RunExecutor) *WorkerPool {
	return &WorkerPool{
		store:      store,
		config:     cfg,
		executor:   executor,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
		activeRuns: make(map[string]struct{}),
	}
}

// Start spawns worker goroutines and the orphan recovery background task.
// Subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		worker := NewWorker(workerID, p.store, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanRecovery(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current runs.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeRunIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active runs to complete", "count", len(active), "run_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterRun records that a run is being processed on this process.
func (p *WorkerPool) RegisterRun(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeRuns[runID] = struct{}{}
}

// UnregisterRun removes the record when processing ends.
func (p *WorkerPool) UnregisterRun(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeRuns, runID)
}

func (p *WorkerPool) activeRunIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeRuns))
	for id := range p.activeRuns {
		ids = append(ids, id)
	}
	return ids
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	queueDepth, err := p.store.QueueDepth(ctx)
	if err != nil {
		slog.Error("Failed to query queue depth for health check", "error", err)
	}
	activeRuns, err := p.store.CountRunning(ctx)
	if err != nil {
		slog.Error("Failed to query active runs for health check", "error", err)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	p.orphanMu.Lock()
	lastScan := p.lastOrphanScan
	recovered := p.orphansRecovered
	p.orphanMu.Unlock()

	return &PoolHealth{
		IsHealthy:        true,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveRuns:       activeRuns,
		MaxConcurrent:    p.config.MaxConcurrentRuns,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}

// runOrphanRecovery periodically requeues runs whose worker disappeared.
// A run with a stale heartbeat and remaining attempts goes back to queued;
// one that exhausted its attempts is failed.
func (p *WorkerPool) runOrphanRecovery(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, failed, err := p.store.RequeueOrphans(ctx, p.config.OrphanThreshold, p.config.MaxAttempts)
			if err != nil {
				slog.Error("Orphan scan failed", "error", err)
				continue
			}
			p.orphanMu.Lock()
			p.lastOrphanScan = time.Now()
			p.orphansRecovered += requeued
			p.orphanMu.Unlock()
			if requeued > 0 || failed > 0 {
				slog.Info("Orphaned runs recovered", "requeued", requeued, "failed", failed)
			}
		}
	}
}
