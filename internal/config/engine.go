package config

import "time"

// EngineConfig contains execution-engine worker pool configuration. These
// values control how pending executions are claimed, dispatched, and
// recovered after a crash (spec §5 "Concurrency & Resource Model").
type EngineConfig struct {
	// WorkerCount is the number of worker goroutines claiming executions
	// in this process. Each worker independently polls and drives
	// executions to completion.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentExecutions is validated (it must be at least 1) but is
	// not read by the engine's worker pool: no semaphore enforces it. The
	// number of executions driven at once is bounded by WorkerCount, since
	// each worker drives one execution at a time.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`

	// PollInterval is the base interval for checking claimable executions.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// ExecutionTimeout bounds how long a single execution's dispatch loop
	// may run end to end, independent of individual step timeouts; it is
	// a backstop against a misbehaving playbook, not a spec-mandated
	// threshold.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// executions to reach their next suspension point during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often a worker refreshes its owned
	// execution's heartbeat while it is EXECUTING.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often the orphan sweeper scans for
	// executions stuck EXECUTING past a stale heartbeat (spec §9 "orphan
	// recovery for crashed workers").
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long an execution can go without a
	// heartbeat before it is considered orphaned and requeued.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		WorkerCount:             5,
		MaxConcurrentExecutions: 25,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		ExecutionTimeout:        30 * time.Minute,
		GracefulShutdownTimeout: 2 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}
