package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	db := DefaultDatabaseConfig()
	db.Password = "hunter2"
	return &Config{
		Database:  db,
		Engine:    DefaultEngineConfig(),
		Security:  DefaultSecurityConfig(),
		Approval:  DefaultApprovalConfig(),
		Retention: DefaultRetentionConfig(),
	}
}

func TestValidate_AllDefaultsPass(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).Validate())
}

func TestValidate_MissingDBPasswordFails(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = ""
	err := NewValidator(cfg).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD is required")
}

func TestValidate_BurstExceedsLongWindowFails(t *testing.T) {
	cfg := validConfig()
	cfg.Security.BurstWindowLimit = cfg.Security.LongWindowLimit + 1
	err := NewValidator(cfg).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "burst_window_limit")
}

func TestApplyTrustedIPs_ParsesCommaList(t *testing.T) {
	t.Setenv("WEBHOOK_TRUSTED_IPS", "10.0.0.1, 10.0.0.2,,192.168.1.1")
	sec := applyTrustedIPs(DefaultSecurityConfig())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "192.168.1.1"}, sec.TrustedIPs)
}

func TestDatabaseDSN_PrefersDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@host:5432/db")
	t.Setenv("DB_PASSWORD", "unused")
	cfg, err := loadDatabaseConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@host:5432/db", cfg.DSN())
}
