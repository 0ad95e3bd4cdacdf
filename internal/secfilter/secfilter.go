// Package secfilter implements the security filter (spec §4.A): one
// predicate, admit(request), composed of four sub-policies evaluated in
// order where the first rejection wins.
package secfilter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/time/rate"

	"github.com/cyberguard/soar-engine/internal/seccache"
	"github.com/cyberguard/soar-engine/internal/telemetry"
)

// RejectCode enumerates the admit() rejection codes (spec §4.A/§6).
type RejectCode string

// Canonical rejection codes.
const (
	RejectRateLimited      RejectCode = "rate_limited"
	RejectIPBlocked        RejectCode = "ip_blocked"
	RejectReplay           RejectCode = "replay_detected"
	RejectInvalidTimestamp RejectCode = "invalid_timestamp"
	RejectStaleTimestamp   RejectCode = "stale_timestamp"
	RejectMissingTimestamp RejectCode = "missing_timestamp"
	RejectBadSignature     RejectCode = "invalid_signature"
	RejectPlaybookFlood    RejectCode = "playbook_flood"
	RejectGlobalFlood      RejectCode = "global_flood"
)

// Request is everything the filter needs to evaluate a single inbound
// delivery.
type Request struct {
	ClientIP        string
	WebhookID       string
	PlaybookID      string
	WebhookSecret   string // the webhook's plaintext secret, used only for HMAC verification
	Payload         []byte // raw request body, pre-parse
	TimestampHeader string // optional, epoch seconds/millis or ISO 8601
	SignatureHeader string // optional, hex-encoded HMAC-SHA256
}

// Decision is the admit() verdict.
type Decision struct {
	Admitted    bool
	RejectCode  RejectCode
	RetryAfter  time.Duration
	Trusted     bool
}

// Config holds the tunable thresholds, all with the spec's stated
// defaults.
type Config struct {
	LongWindow        time.Duration
	LongWindowLimit   int64
	BurstWindow       time.Duration
	BurstWindowLimit  int64
	IPCoolOff         time.Duration
	ReplayWindow      time.Duration
	TimestampSkew     time.Duration
	PlaybookFloodWindow time.Duration
	PlaybookFloodLimit  int64
	GlobalFloodWindow   time.Duration
	GlobalFloodLimit    int64
	TrustedIPs          map[string]bool
}

// DefaultConfig returns the thresholds named in spec §4.A.
func DefaultConfig() Config {
	return Config{
		LongWindow:          60 * time.Second,
		LongWindowLimit:      100,
		BurstWindow:          5 * time.Second,
		BurstWindowLimit:     20,
		IPCoolOff:            5 * time.Minute,
		ReplayWindow:         10 * time.Minute,
		TimestampSkew:        5 * time.Minute,
		PlaybookFloodWindow:  time.Minute,
		PlaybookFloodLimit:   50,
		GlobalFloodWindow:    time.Minute,
		GlobalFloodLimit:     500,
		TrustedIPs:           map[string]bool{},
	}
}

// limiterSet is a keyed set of token-bucket limiters (per IP, per
// playbook, or the single global one), created lazily on first use.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	newLimiter func() *rate.Limiter
}

func newLimiterSet(newLimiter func() *rate.Limiter) *limiterSet {
	return &limiterSet{limiters: make(map[string]*rate.Limiter), newLimiter: newLimiter}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = s.newLimiter()
		s.limiters[key] = l
	}
	return l
}

// Filter evaluates admit(request). The IP/burst/flood sub-policies are
// enforced in-process with golang.org/x/time/rate token-bucket limiters
// (one bucket per IP/playbook, refilled at the window's allowed rate);
// the shared Cache carries only the state that must survive process
// restarts or be consistent across instances — replay nonces and the IP
// cool-off flag.
type Filter struct {
	cfg   Config
	cache seccache.Cache

	burstLimiters    *limiterSet
	longLimiters     *limiterSet
	playbookLimiters *limiterSet
	globalLimiter    *rate.Limiter

	metrics Metrics

	// Telemetry mirrors each rejection into the engine.step.dispatches'
	// sibling counter, secfilter.rejections. Left nil by New; a nil
	// Telemetry is a valid no-op.
	Telemetry *telemetry.Provider
}

// Metrics are the process-wide security-observability counters of spec §6
// `GET /security/metrics`. Updated with atomic adds only; never reset
// except by process restart.
type Metrics struct {
	RateLimited   int64
	Replayed      int64
	HMACInvalid   int64
	FloodBlocked  int64
}

// Metrics returns a snapshot of the filter's lifetime rejection counters.
func (f *Filter) Metrics() Metrics {
	return Metrics{
		RateLimited:  atomic.LoadInt64(&f.metrics.RateLimited),
		Replayed:     atomic.LoadInt64(&f.metrics.Replayed),
		HMACInvalid:  atomic.LoadInt64(&f.metrics.HMACInvalid),
		FloodBlocked: atomic.LoadInt64(&f.metrics.FloodBlocked),
	}
}

// Config returns the filter's sanitized threshold configuration for spec
// §6 `GET /security/config`. The returned Config carries no secrets, only
// the tunable thresholds.
func (f *Filter) Config() Config {
	return f.cfg
}

// sizer is implemented by cache backends that can report their entry
// count in O(1), currently only the in-memory backend. The Redis backend
// has no equivalent without an O(n) SCAN, so it's left unimplemented there.
type sizer interface {
	Size() int
}

// CacheSize reports the underlying cache's current entry count for spec
// §6 `GET /security/metrics` ("cache sizes"), or -1 if the backend
// doesn't support reporting one.
func (f *Filter) CacheSize() int {
	if s, ok := f.cache.(sizer); ok {
		return s.Size()
	}
	return -1
}

// New returns a Filter backed by cache using cfg's thresholds.
func New(cfg Config, cache seccache.Cache) *Filter {
	return &Filter{
		cfg:   cfg,
		cache: cache,
		burstLimiters: newLimiterSet(func() *rate.Limiter {
			return rate.NewLimiter(rate.Every(cfg.BurstWindow/time.Duration(cfg.BurstWindowLimit)), int(cfg.BurstWindowLimit))
		}),
		longLimiters: newLimiterSet(func() *rate.Limiter {
			return rate.NewLimiter(rate.Every(cfg.LongWindow/time.Duration(cfg.LongWindowLimit)), int(cfg.LongWindowLimit))
		}),
		playbookLimiters: newLimiterSet(func() *rate.Limiter {
			return rate.NewLimiter(rate.Every(cfg.PlaybookFloodWindow/time.Duration(cfg.PlaybookFloodLimit)), int(cfg.PlaybookFloodLimit))
		}),
		globalLimiter: rate.NewLimiter(rate.Every(cfg.GlobalFloodWindow/time.Duration(cfg.GlobalFloodLimit)), int(cfg.GlobalFloodLimit)),
	}
}

// Admit runs the four sub-policies in spec order; the first rejection
// wins.
func (f *Filter) Admit(ctx context.Context, req Request) (Decision, error) {
	if f.cfg.TrustedIPs[req.ClientIP] {
		return Decision{Admitted: true, Trusted: true}, nil
	}

	if dec, err := f.checkRateLimit(ctx, req); err != nil || !dec.Admitted {
		return dec, err
	}
	if dec, err := f.checkReplay(ctx, req); err != nil || !dec.Admitted {
		return dec, err
	}
	if dec, err := f.checkHMAC(ctx, req); err != nil || !dec.Admitted {
		return dec, err
	}
	if dec, err := f.checkFlood(ctx, req); err != nil || !dec.Admitted {
		return dec, err
	}
	return Decision{Admitted: true}, nil
}

func (f *Filter) checkRateLimit(ctx context.Context, req Request) (Decision, error) {
	blockKey := "ipblock:" + req.ClientIP
	if n, err := f.cache.Get(ctx, blockKey); err != nil {
		return Decision{}, err
	} else if n > 0 {
		atomic.AddInt64(&f.metrics.RateLimited, 1)
		f.Telemetry.RecordSecurityRejection(ctx, string(RejectIPBlocked))
		return Decision{RejectCode: RejectIPBlocked, RetryAfter: f.cfg.IPCoolOff}, nil
	}

	if !f.burstLimiters.get(req.ClientIP).Allow() {
		if _, err := f.cache.SetNX(ctx, blockKey, f.cfg.IPCoolOff); err != nil {
			return Decision{}, err
		}
		atomic.AddInt64(&f.metrics.RateLimited, 1)
		f.Telemetry.RecordSecurityRejection(ctx, string(RejectIPBlocked))
		return Decision{RejectCode: RejectIPBlocked, RetryAfter: f.cfg.IPCoolOff}, nil
	}

	if !f.longLimiters.get(req.ClientIP).Allow() {
		atomic.AddInt64(&f.metrics.RateLimited, 1)
		f.Telemetry.RecordSecurityRejection(ctx, string(RejectRateLimited))
		return Decision{RejectCode: RejectRateLimited, RetryAfter: f.cfg.LongWindow}, nil
	}

	return Decision{Admitted: true}, nil
}

func (f *Filter) checkReplay(ctx context.Context, req Request) (Decision, error) {
	if req.TimestampHeader != "" {
		ts, ok := parseTimestampHeader(req.TimestampHeader)
		if !ok {
			atomic.AddInt64(&f.metrics.Replayed, 1)
			f.Telemetry.RecordSecurityRejection(ctx, string(RejectInvalidTimestamp))
			return Decision{RejectCode: RejectInvalidTimestamp}, nil
		}
		if absDuration(time.Since(ts)) > f.cfg.TimestampSkew {
			atomic.AddInt64(&f.metrics.Replayed, 1)
			f.Telemetry.RecordSecurityRejection(ctx, string(RejectStaleTimestamp))
			return Decision{RejectCode: RejectStaleTimestamp}, nil
		}
	}

	canonical, err := canonicalize(req.Payload)
	if err != nil {
		return Decision{}, fmt.Errorf("secfilter: canonicalize payload: %w", err)
	}

	// Without a timestamp header the arrival instant stands in, so only a
	// delivery repeating the same timestamp header is a replay; a header-less
	// re-send is left to fingerprint dedup downstream.
	tsPart := req.TimestampHeader
	if tsPart == "" {
		tsPart = strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	h := sha256.New()
	h.Write([]byte(req.WebhookID))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(tsPart))
	nonce := "nonce:" + hex.EncodeToString(h.Sum(nil))

	fresh, err := f.cache.SetNX(ctx, nonce, f.cfg.ReplayWindow)
	if err != nil {
		return Decision{}, err
	}
	if !fresh {
		atomic.AddInt64(&f.metrics.Replayed, 1)
		f.Telemetry.RecordSecurityRejection(ctx, string(RejectReplay))
		return Decision{RejectCode: RejectReplay}, nil
	}
	return Decision{Admitted: true}, nil
}

func (f *Filter) checkHMAC(ctx context.Context, req Request) (Decision, error) {
	if req.SignatureHeader == "" {
		return Decision{Admitted: true}, nil
	}
	if req.TimestampHeader == "" {
		atomic.AddInt64(&f.metrics.HMACInvalid, 1)
		f.Telemetry.RecordSecurityRejection(ctx, string(RejectMissingTimestamp))
		return Decision{RejectCode: RejectMissingTimestamp}, nil
	}

	canonical, err := canonicalize(req.Payload)
	if err != nil {
		return Decision{}, fmt.Errorf("secfilter: canonicalize payload: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(req.WebhookSecret))
	mac.Write([]byte(req.TimestampHeader))
	mac.Write([]byte("."))
	mac.Write(canonical)
	expected := mac.Sum(nil)

	presented, err := hex.DecodeString(req.SignatureHeader)
	if err != nil || !hmac.Equal(expected, presented) {
		atomic.AddInt64(&f.metrics.HMACInvalid, 1)
		f.Telemetry.RecordSecurityRejection(ctx, string(RejectBadSignature))
		return Decision{RejectCode: RejectBadSignature}, nil
	}
	return Decision{Admitted: true}, nil
}

func (f *Filter) checkFlood(ctx context.Context, req Request) (Decision, error) {
	if req.PlaybookID != "" && !f.playbookLimiters.get(req.PlaybookID).Allow() {
		atomic.AddInt64(&f.metrics.FloodBlocked, 1)
		f.Telemetry.RecordSecurityRejection(ctx, string(RejectPlaybookFlood))
		return Decision{RejectCode: RejectPlaybookFlood, RetryAfter: f.cfg.PlaybookFloodWindow}, nil
	}
	if !f.globalLimiter.Allow() {
		atomic.AddInt64(&f.metrics.FloodBlocked, 1)
		f.Telemetry.RecordSecurityRejection(ctx, string(RejectGlobalFlood))
		return Decision{RejectCode: RejectGlobalFlood, RetryAfter: f.cfg.GlobalFloodWindow}, nil
	}
	return Decision{Admitted: true}, nil
}

func canonicalize(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return []byte("{}"), nil
	}
	return jcs.Transform(payload)
}

func parseTimestampHeader(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
