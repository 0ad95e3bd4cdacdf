// Package model defines the durable data types of the SOAR execution engine:
// webhooks, triggers, playbooks, executions, approvals, SLA policies, and
// audit events. Types here carry no persistence or dispatch behavior — see
// internal/store, internal/engine, and internal/validate for that.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// randomHex returns n random bytes hex-encoded (2n characters), uppercased.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the OS entropy source is broken; there is
		// no sane fallback that preserves the uniqueness guarantee callers rely on.
		panic(fmt.Sprintf("model: crypto/rand unavailable: %v", err))
	}
	return strings.ToUpper(hex.EncodeToString(buf))
}

// timestamp36 renders the current time as a base36 string, matching the
// compact sortable suffix used by playbook and SLA-policy identifiers.
func timestamp36(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 36)
}

// NewExecutionID returns an externally-visible execution identifier of the
// form EXE-YYYYMMDD-<6 hex uppercase>, e.g. EXE-20260731-9F3A2C.
func NewExecutionID(now time.Time) string {
	return fmt.Sprintf("EXE-%s-%s", now.UTC().Format("20060102"), randomHex(3))
}

// NewPlaybookID returns PB-<timestamp36>-<6 hex>.
func NewPlaybookID(now time.Time) string {
	return fmt.Sprintf("PB-%s-%s", timestamp36(now), randomHex(3))
}

// NewCaseID returns CASE-YYYYMMDD-<4 hex>. Case management itself is an
// external collaborator (see spec §1); this identifier format is retained so
// executions can carry a forward-compatible case reference.
func NewCaseID(now time.Time) string {
	return fmt.Sprintf("CASE-%s-%s", now.UTC().Format("20060102"), randomHex(2))
}

// NewSLAID returns SLA-<suffix>-<timestamp36>.
func NewSLAID(suffix string, now time.Time) string {
	return fmt.Sprintf("SLA-%s-%s", suffix, timestamp36(now))
}
