// Package normalize extracts the canonical event_time from an inbound
// alert payload and computes its deterministic dedup fingerprint
// (spec §4.D).
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/cyberguard/soar-engine/internal/pathval"
)

// DefaultBucketSeconds is the fingerprint time-bucket width used when a
// trigger/webhook does not override it.
const DefaultBucketSeconds = 60

// EventTimeSource tags where event_time was sourced from, persisted
// alongside the execution per spec §3.
type EventTimeSource string

// Canonical event_time sources, checked in this priority order.
const (
	SourcePayloadEventTime   EventTimeSource = "payload.event_time"
	SourcePayloadTimestamp   EventTimeSource = "payload.timestamp"
	SourcePayloadAtTimestamp EventTimeSource = "payload.@timestamp"
	SourceArrivalTime        EventTimeSource = "arrival_time"
)

// candidatePaths is the fallback chain from spec §4.D, checked in order.
var candidatePaths = []struct {
	path   string
	source EventTimeSource
}{
	{"event_time", SourcePayloadEventTime},
	{"timestamp", SourcePayloadTimestamp},
	{"@timestamp", SourcePayloadAtTimestamp},
}

// fingerprintFields is the pinned "stable identifying subset" of the
// payload used for dedup fingerprinting.
var fingerprintFields = []string{
	"rule.id",
	"alert.type",
	"data.srcip",
	"data.dstip",
	"data.user",
	"host.name",
	"severity",
}

// ResolveEventTime implements the fallback chain: payload.event_time,
// payload.timestamp, payload.@timestamp, else arrivalTime. Each candidate
// is parsed as RFC3339, then as epoch seconds, then as epoch milliseconds;
// the first candidate that parses wins.
func ResolveEventTime(payload any, arrivalTime time.Time) (time.Time, EventTimeSource) {
	for _, c := range candidatePaths {
		raw, ok := pathval.GetString(payload, c.path)
		if !ok || raw == "" {
			continue
		}
		if t, ok := parseTimestamp(raw); ok {
			return t, c.source
		}
	}
	return arrivalTime, SourceArrivalTime
}

func parseTimestamp(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		switch {
		case n > 1e14: // microseconds
			return time.UnixMicro(n).UTC(), true
		case n > 1e11: // milliseconds
			return time.UnixMilli(n).UTC(), true
		default: // seconds
			return time.Unix(n, 0).UTC(), true
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	}
	return time.Time{}, false
}

// missingFieldMarker fills in for a fingerprint field absent from the
// payload, so the fingerprint stays stable regardless of which optional
// fields a given alert source omits.
const missingFieldMarker = "∅"

// fingerprintSubset reads the pinned stable fields out of payload in a
// fixed key order so jcs.Marshal produces the same canonical bytes
// regardless of the payload's original key ordering.
func fingerprintSubset(payload any) map[string]string {
	subset := make(map[string]string, len(fingerprintFields))
	for _, f := range fingerprintFields {
		v, ok := pathval.GetString(payload, f)
		if !ok {
			v = missingFieldMarker
		}
		subset[f] = v
	}
	return subset
}

// Fingerprint computes H(webhook_id ‖ normalized_payload_subset ‖
// floor(event_time / bucket)) per spec §4.D, canonicalizing the subset
// with JCS (RFC 8785) before hashing so field ordering never affects the
// digest.
func Fingerprint(webhookID string, payload any, eventTime time.Time, bucketSeconds int64) (string, error) {
	if bucketSeconds <= 0 {
		bucketSeconds = DefaultBucketSeconds
	}
	bucket := eventTime.Unix() / bucketSeconds

	canonical, err := jcs.Marshal(fingerprintSubset(payload))
	if err != nil {
		return "", fmt.Errorf("normalize: canonicalize fingerprint subset: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(webhookID))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", bucket)

	return hex.EncodeToString(h.Sum(nil)), nil
}
