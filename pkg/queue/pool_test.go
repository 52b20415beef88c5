package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryhive/queryhive/pkg/config"
	"github.com/queryhive/queryhive/pkg/models"
)

type fakeRunStore struct {
	mu       sync.Mutex
	queued   []*models.Run
	running  int
	finished map[string]*ExecutionResult
	orphans  struct {
		requeued, failed int
	}
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{finished: make(map[string]*ExecutionResult)}
}

func (s *fakeRunStore) CountRunning(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, nil
}

func (s *fakeRunStore) QueueDepth(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued), nil
}

func (s *fakeRunStore) ClaimNext(_ context.Context, workerID string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) == 0 {
		return nil, ErrNoRunsAvailable
	}
	run := s.queued[0]
	s.queued = s.queued[1:]
	s.running++
	run.Status = models.RunStatusRunning
	run.WorkerID = workerID
	run.Attempts++
	return run, nil
}

func (s *fakeRunStore) Heartbeat(_ context.Context, _ string) error { return nil }

func (s *fakeRunStore) Finish(_ context.Context, runID string, result *ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	s.finished[runID] = result
	return nil
}

func (s *fakeRunStore) RequeueOrphans(_ context.Context, _ time.Duration, _ int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, f := s.orphans.requeued, s.orphans.failed
	s.orphans.requeued, s.orphans.failed = 0, 0
	return r, f, nil
}

func (s *fakeRunStore) finishedResult(runID string) *ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished[runID]
}

type fakeExecutor struct {
	result  *ExecutionResult
	block   chan struct{} // when non-nil, Execute blocks until ctx ends
	mu      sync.Mutex
	runs    []string
	started chan string
}

func (e *fakeExecutor) Execute(ctx context.Context, run *models.Run) *ExecutionResult {
	e.mu.Lock()
	e.runs = append(e.runs, run.ID)
	e.mu.Unlock()
	if e.started != nil {
		e.started <- run.ID
	}
	if e.block != nil {
		<-ctx.Done()
		return nil
	}
	return e.result
}

func testQueueConfig() *config.QueueConfig {
	cfg := config.DefaultQueueConfig()
	cfg.WorkerCount = 1
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollIntervalJitter = 0
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.OrphanScanInterval = 10 * time.Millisecond
	return &cfg
}

func newTestPool(store runStore, exec RunExecutor, cfg *config.QueueConfig) *WorkerPool {
	return &WorkerPool{
		store:      store,
		config:     cfg,
		executor:   exec,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
		activeRuns: make(map[string]struct{}),
	}
}

func TestWorkerPool_ProcessesQueuedRun(t *testing.T) {
	store := newFakeRunStore()
	store.queued = []*models.Run{{ID: "run-1", Question: "q"}}
	exec := &fakeExecutor{result: &ExecutionResult{
		Status: models.RunStatusSuccess,
		Result: &models.RunResult{FormattedResponse: "answer"},
	}}

	pool := newTestPool(store, exec, testQueueConfig())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return store.finishedResult("run-1") != nil
	}, 2*time.Second, 5*time.Millisecond)

	result := store.finishedResult("run-1")
	assert.Equal(t, models.RunStatusSuccess, result.Status)
	assert.Equal(t, "answer", result.Result.FormattedResponse)
}

func TestWorkerPool_ShutdownLeavesRunningRunForRedelivery(t *testing.T) {
	store := newFakeRunStore()
	store.queued = []*models.Run{{ID: "run-1", Question: "q"}}
	exec := &fakeExecutor{block: make(chan struct{}), started: make(chan string, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	pool := newTestPool(store, exec, testQueueConfig())
	require.NoError(t, pool.Start(ctx))

	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	cancel()
	pool.Stop()

	// No terminal status was written; the row stays claimable by the orphan
	// scan on another worker.
	assert.Nil(t, store.finishedResult("run-1"))
}

func TestWorkerPool_CapacityBlocksClaims(t *testing.T) {
	store := newFakeRunStore()
	store.running = 100
	store.queued = []*models.Run{{ID: "run-1"}}
	exec := &fakeExecutor{result: &ExecutionResult{Status: models.RunStatusSuccess}}

	pool := newTestPool(store, exec, testQueueConfig())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	time.Sleep(50 * time.Millisecond)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Empty(t, exec.runs, "no run may start while at capacity")
}

func TestWorkerPool_OrphanRecoveryCounts(t *testing.T) {
	store := newFakeRunStore()
	store.orphans.requeued = 2

	pool := newTestPool(store, &fakeExecutor{}, testQueueConfig())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		pool.orphanMu.Lock()
		defer pool.orphanMu.Unlock()
		return pool.orphansRecovered == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerPool_HealthReportsDepth(t *testing.T) {
	store := newFakeRunStore()
	store.queued = []*models.Run{{ID: "a"}, {ID: "b"}}

	pool := newTestPool(store, &fakeExecutor{}, testQueueConfig())
	health := pool.Health(context.Background())
	assert.Equal(t, 2, health.QueueDepth)
	assert.Equal(t, 0, health.TotalWorkers)
}

func TestWorker_PollIntervalJitterBounds(t *testing.T) {
	cfg := config.DefaultQueueConfig()
	cfg.PollInterval = time.Second
	cfg.PollIntervalJitter = 500 * time.Millisecond
	w := NewWorker("w", newFakeRunStore(), &cfg, &fakeExecutor{}, newTestPool(newFakeRunStore(), &fakeExecutor{}, &cfg))

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}

func TestWorker_SynthesizeResultOnTimeout(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("w", newFakeRunStore(), cfg, &fakeExecutor{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	result := w.synthesizeResult(ctx)
	assert.Equal(t, models.RunStatusFailure, result.Status)
	assert.Equal(t, models.ErrKindTimeout, result.ErrorKind)
}

func TestWorker_SynthesizeResultOnShutdown(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("w", newFakeRunStore(), cfg, &fakeExecutor{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Shutdown cancellation must not synthesize a terminal status.
	assert.Nil(t, w.synthesizeResult(ctx))
}
