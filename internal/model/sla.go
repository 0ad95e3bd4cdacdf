package model

import "time"

// SLAScope is the resolution scope of an SLA policy (spec §3 "scope
// ∈ {playbook, severity, global}, resolved playbook → severity → global").
type SLAScope string

// Canonical SLA scopes, in resolution priority order.
const (
	SLAScopePlaybook SLAScope = "playbook"
	SLAScopeSeverity SLAScope = "severity"
	SLAScopeGlobal   SLAScope = "global"
)

// IsValid reports whether s is a canonical scope.
func (s SLAScope) IsValid() bool {
	return s == SLAScopePlaybook || s == SLAScopeSeverity || s == SLAScopeGlobal
}

// SLAThresholds are the three SLA dimensions tracked per execution.
type SLAThresholds struct {
	AcknowledgeMS int64 `json:"acknowledge_ms"`
	ContainmentMS int64 `json:"containment_ms"`
	ResolutionMS  int64 `json:"resolution_ms"`
}

// SLAPolicy is a resolvable SLA policy row (spec §3). At most one enabled
// policy may exist per (Scope, Key) — enforced by the persistence layer's
// partial unique index (spec §4.J) and mirrored by store-level validation.
type SLAPolicy struct {
	ID       string
	Scope    SLAScope
	Key      string // playbook_id when Scope==playbook, severity when Scope==severity, "" when Scope==global
	Thresholds SLAThresholds
	Enabled  bool
	Priority int

	CreatedAt time.Time
	UpdatedAt time.Time
}
