package config

import (
	"errors"
	"fmt"
)

// Validator checks a fully-populated Config for fail-fast boot-time
// validation, mirroring the teacher's pkg/config/validator.go shape: one
// method per sub-config, aggregated by Validate.
type Validator struct {
	cfg *Config
}

// NewValidator returns a Validator bound to cfg. cfg itself may be
// partially populated (e.g. in table-driven unit tests that only set the
// sub-config under test).
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate runs every sub-config check and joins all failures, so a single
// boot-time error message lists everything wrong with the environment
// rather than forcing an operator through a fix-one-rerun loop.
func (v *Validator) Validate() error {
	var errs []error
	if err := v.validateDatabase(); err != nil {
		errs = append(errs, err)
	}
	if err := v.validateEngine(); err != nil {
		errs = append(errs, err)
	}
	if err := v.validateSecurity(); err != nil {
		errs = append(errs, err)
	}
	if err := v.validateApproval(); err != nil {
		errs = append(errs, err)
	}
	if err := v.validateRetention(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	db := v.cfg.Database
	if db == nil {
		return fmt.Errorf("database configuration is nil")
	}
	if db.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if db.MaxOpenConns < 1 {
		return fmt.Errorf("db_max_open_conns must be at least 1")
	}
	if db.MaxIdleConns < 0 {
		return fmt.Errorf("db_max_idle_conns cannot be negative")
	}
	if db.MaxIdleConns > db.MaxOpenConns {
		return fmt.Errorf("db_max_idle_conns (%d) cannot exceed db_max_open_conns (%d)", db.MaxIdleConns, db.MaxOpenConns)
	}
	return nil
}

func (v *Validator) validateEngine() error {
	q := v.cfg.Engine
	if q == nil {
		return fmt.Errorf("engine configuration is nil")
	}
	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50")
	}
	if q.MaxConcurrentExecutions < 1 {
		return fmt.Errorf("max_concurrent_executions must be at least 1")
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if q.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative")
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval")
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive")
	}
	if q.OrphanDetectionInterval <= 0 {
		return fmt.Errorf("orphan_detection_interval must be positive")
	}
	if q.OrphanThreshold <= 0 {
		return fmt.Errorf("orphan_threshold must be positive")
	}
	if q.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if q.HeartbeatInterval >= q.OrphanThreshold {
		return fmt.Errorf("heartbeat_interval must be less than orphan_threshold")
	}
	return nil
}

func (v *Validator) validateSecurity() error {
	s := v.cfg.Security
	if s == nil {
		return fmt.Errorf("security configuration is nil")
	}
	if s.LongWindowLimit <= 0 || s.BurstWindowLimit <= 0 {
		return fmt.Errorf("rate-limit window limits must be positive")
	}
	if s.BurstWindowLimit > s.LongWindowLimit {
		return fmt.Errorf("burst_window_limit (%d) cannot exceed long_window_limit (%d)", s.BurstWindowLimit, s.LongWindowLimit)
	}
	if s.ReplayWindow <= 0 {
		return fmt.Errorf("replay_window must be positive")
	}
	if s.TimestampSkew <= 0 {
		return fmt.Errorf("timestamp_skew must be positive")
	}
	return nil
}

func (v *Validator) validateApproval() error {
	a := v.cfg.Approval
	if a == nil {
		return fmt.Errorf("approval configuration is nil")
	}
	if a.SweepInterval <= 0 {
		return fmt.Errorf("approval sweep_interval must be positive")
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return fmt.Errorf("retention configuration is nil")
	}
	if r.AuditRetentionDays <= 0 {
		return fmt.Errorf("audit_retention_days must be positive")
	}
	if r.CleanupInterval <= 0 {
		return fmt.Errorf("retention cleanup_interval must be positive")
	}
	return nil
}
