package config

import (
	"time"

	"github.com/cyberguard/soar-engine/internal/secfilter"
)

// SecurityConfig carries the security-filter thresholds of spec §4.A as a
// boot-time, environment-driven configuration surface; internal/secfilter
// only knows about secfilter.Config, so Into() translates between the two.
type SecurityConfig struct {
	LongWindow          time.Duration `yaml:"long_window"`
	LongWindowLimit     int64         `yaml:"long_window_limit"`
	BurstWindow         time.Duration `yaml:"burst_window"`
	BurstWindowLimit    int64         `yaml:"burst_window_limit"`
	IPCoolOff           time.Duration `yaml:"ip_cool_off"`
	ReplayWindow        time.Duration `yaml:"replay_window"`
	TimestampSkew       time.Duration `yaml:"timestamp_skew"`
	PlaybookFloodWindow time.Duration `yaml:"playbook_flood_window"`
	PlaybookFloodLimit  int64         `yaml:"playbook_flood_limit"`
	GlobalFloodWindow   time.Duration `yaml:"global_flood_window"`
	GlobalFloodLimit    int64         `yaml:"global_flood_limit"`

	// TrustedIPs bypasses all four sub-policies, sourced from the
	// WEBHOOK_TRUSTED_IPS environment variable (spec §6).
	TrustedIPs []string `yaml:"trusted_ips"`
}

// DefaultSecurityConfig returns the thresholds named in spec §4.A.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		LongWindow:          60 * time.Second,
		LongWindowLimit:     100,
		BurstWindow:         5 * time.Second,
		BurstWindowLimit:    20,
		IPCoolOff:           5 * time.Minute,
		ReplayWindow:        10 * time.Minute,
		TimestampSkew:       5 * time.Minute,
		PlaybookFloodWindow: time.Minute,
		PlaybookFloodLimit:  50,
		GlobalFloodWindow:   time.Minute,
		GlobalFloodLimit:    500,
	}
}

// ApprovalConfig governs the approval sweeper's polling cadence (spec
// §4.H "a periodic sweeper (fixed cadence, e.g., 30s)").
type ApprovalConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultApprovalConfig returns the spec's stated 30s sweep cadence.
func DefaultApprovalConfig() *ApprovalConfig {
	return &ApprovalConfig{SweepInterval: 30 * time.Second}
}

// Into translates the boot-time configuration surface into the
// secfilter.Config shape internal/secfilter actually runs on, expanding
// TrustedIPs into the lookup set Filter checks on every delivery.
func (c *SecurityConfig) Into() secfilter.Config {
	trusted := make(map[string]bool, len(c.TrustedIPs))
	for _, ip := range c.TrustedIPs {
		trusted[ip] = true
	}
	return secfilter.Config{
		LongWindow:          c.LongWindow,
		LongWindowLimit:     c.LongWindowLimit,
		BurstWindow:         c.BurstWindow,
		BurstWindowLimit:    c.BurstWindowLimit,
		IPCoolOff:           c.IPCoolOff,
		ReplayWindow:        c.ReplayWindow,
		TimestampSkew:       c.TimestampSkew,
		PlaybookFloodWindow: c.PlaybookFloodWindow,
		PlaybookFloodLimit:  c.PlaybookFloodLimit,
		GlobalFloodWindow:   c.GlobalFloodWindow,
		GlobalFloodLimit:    c.GlobalFloodLimit,
		TrustedIPs:          trusted,
	}
}
