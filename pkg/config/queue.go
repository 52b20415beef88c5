package config

import "time"

// MaxRunTimeout is the hard ceiling on the per-run budget. Large-table
// deployments may raise RUN_TIMEOUT up to this value.
const MaxRunTimeout = 7200 * time.Second

// QueueConfig contains queue and worker pool configuration.
// These values control how queued runs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per process.
	// Each worker independently polls and processes runs.
	WorkerCount int

	// MaxConcurrentRuns is the global limit of runs in the running state,
	// enforced by a database COUNT(*) check before claiming.
	MaxConcurrentRuns int

	// PollInterval is the base interval for checking queued runs.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// RunTimeout is the per-run total budget (LLM calls + query execution).
	RunTimeout time.Duration

	// GracefulShutdownTimeout bounds the wait for in-flight runs on shutdown.
	GracefulShutdownTimeout time.Duration

	// HeartbeatInterval is how often a worker refreshes the claim heartbeat.
	HeartbeatInterval time.Duration

	// OrphanScanInterval is how often to scan for runs whose worker died.
	OrphanScanInterval time.Duration

	// OrphanThreshold is how long a running run may go without a heartbeat
	// before it is requeued for redelivery.
	OrphanThreshold time.Duration

	// MaxAttempts bounds redelivery of a run after worker crashes.
	MaxAttempts int
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:             4,
		MaxConcurrentRuns:       8,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		RunTimeout:              120 * time.Second,
		GracefulShutdownTimeout: 150 * time.Second,
		HeartbeatInterval:       15 * time.Second,
		OrphanScanInterval:      1 * time.Minute,
		OrphanThreshold:         2 * time.Minute,
		MaxAttempts:             3,
	}
}

// QueueFromEnv returns the defaults overridden by environment variables.
func QueueFromEnv() QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.WorkerCount = getEnvInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxConcurrentRuns = getEnvInt("WORKER_CONCURRENCY", cfg.MaxConcurrentRuns)
	cfg.RunTimeout = getEnvDuration("RUN_TIMEOUT", cfg.RunTimeout)
	// Orphan threshold tracks the run budget: redelivery must not race a
	// worker that is still legitimately inside its timeout.
	if grace := cfg.RunTimeout + 30*time.Second; grace > cfg.OrphanThreshold {
		cfg.OrphanThreshold = grace
	}
	cfg.GracefulShutdownTimeout = cfg.RunTimeout + 30*time.Second
	return cfg
}
