package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// securityMetricsHandler handles GET /security/metrics (spec §6): counters
// for rate-limited, replayed, HMAC-invalid, and flood-blocked requests
// plus cache sizes.
func (s *Server) securityMetricsHandler(c *gin.Context) {
	m := s.security.Metrics()
	body := gin.H{
		"rate_limited":  m.RateLimited,
		"replayed":      m.Replayed,
		"hmac_invalid":  m.HMACInvalid,
		"flood_blocked": m.FloodBlocked,
	}
	if size := s.security.CacheSize(); size >= 0 {
		body["cache_size"] = size
	}
	c.JSON(http.StatusOK, body)
}

// securityConfigHandler handles GET /security/config (spec §6): the
// sanitized (no secrets) threshold configuration.
func (s *Server) securityConfigHandler(c *gin.Context) {
	cfg := s.security.Config()
	c.JSON(http.StatusOK, gin.H{
		"long_window_seconds":         cfg.LongWindow.Seconds(),
		"long_window_limit":           cfg.LongWindowLimit,
		"burst_window_seconds":        cfg.BurstWindow.Seconds(),
		"burst_window_limit":          cfg.BurstWindowLimit,
		"ip_cool_off_seconds":         cfg.IPCoolOff.Seconds(),
		"replay_window_seconds":       cfg.ReplayWindow.Seconds(),
		"timestamp_skew_seconds":      cfg.TimestampSkew.Seconds(),
		"playbook_flood_window_secs":  cfg.PlaybookFloodWindow.Seconds(),
		"playbook_flood_limit":        cfg.PlaybookFloodLimit,
		"global_flood_window_seconds": cfg.GlobalFloodWindow.Seconds(),
		"global_flood_limit":          cfg.GlobalFloodLimit,
		"trusted_ip_count":            len(cfg.TrustedIPs),
	})
}
