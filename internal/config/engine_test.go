package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.Equal(t, 5, cfg.WorkerCount)
	assert.Equal(t, 25, cfg.MaxConcurrentExecutions)
	assert.Equal(t, 1*time.Second, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.PollIntervalJitter)
	assert.Equal(t, 2*time.Minute, cfg.GracefulShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.OrphanDetectionInterval)
	assert.Equal(t, 5*time.Minute, cfg.OrphanThreshold)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
}

func TestValidateEngine(t *testing.T) {
	tests := []struct {
		name    string
		engine  *EngineConfig
		wantErr bool
		errMsg  string
	}{
		{name: "valid defaults", engine: DefaultEngineConfig()},
		{name: "nil engine", engine: nil, wantErr: true, errMsg: "engine configuration is nil"},
		{
			name: "worker count too low",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.WorkerCount = 0
				return e
			}(),
			wantErr: true,
			errMsg:  "worker_count must be between 1 and 50",
		},
		{
			name: "worker count too high",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.WorkerCount = 51
				return e
			}(),
			wantErr: true,
			errMsg:  "worker_count must be between 1 and 50",
		},
		{
			name: "max concurrent executions zero",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.MaxConcurrentExecutions = 0
				return e
			}(),
			wantErr: true,
			errMsg:  "max_concurrent_executions must be at least 1",
		},
		{
			name: "poll interval zero",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.PollInterval = 0
				return e
			}(),
			wantErr: true,
			errMsg:  "poll_interval must be positive",
		},
		{
			name: "negative jitter",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.PollIntervalJitter = -1 * time.Second
				return e
			}(),
			wantErr: true,
			errMsg:  "poll_interval_jitter must be non-negative",
		},
		{
			name: "jitter equal to poll interval",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.PollInterval = 1 * time.Second
				e.PollIntervalJitter = 1 * time.Second
				return e
			}(),
			wantErr: true,
			errMsg:  "poll_interval_jitter must be less than poll_interval",
		},
		{
			name: "graceful shutdown timeout zero",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.GracefulShutdownTimeout = 0
				return e
			}(),
			wantErr: true,
			errMsg:  "graceful_shutdown_timeout must be positive",
		},
		{
			name: "orphan detection interval zero",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.OrphanDetectionInterval = 0
				return e
			}(),
			wantErr: true,
			errMsg:  "orphan_detection_interval must be positive",
		},
		{
			name: "orphan threshold zero",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.OrphanThreshold = 0
				return e
			}(),
			wantErr: true,
			errMsg:  "orphan_threshold must be positive",
		},
		{
			name: "heartbeat interval zero",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.HeartbeatInterval = 0
				return e
			}(),
			wantErr: true,
			errMsg:  "heartbeat_interval must be positive",
		},
		{
			name: "heartbeat interval equal to orphan threshold",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.OrphanThreshold = 1 * time.Minute
				e.HeartbeatInterval = 1 * time.Minute
				return e
			}(),
			wantErr: true,
			errMsg:  "heartbeat_interval must be less than orphan_threshold",
		},
		{
			name: "heartbeat interval less than orphan threshold is valid",
			engine: func() *EngineConfig {
				e := DefaultEngineConfig()
				e.OrphanThreshold = 5 * time.Minute
				e.HeartbeatInterval = 30 * time.Second
				return e
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database:  DefaultDatabaseConfig(),
				Engine:    tt.engine,
				Security:  DefaultSecurityConfig(),
				Approval:  DefaultApprovalConfig(),
				Retention: DefaultRetentionConfig(),
			}
			cfg.Database.Password = "x"
			v := NewValidator(cfg)
			err := v.validateEngine()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
