package model

import (
	"time"

	"github.com/Masterminds/semver/v3"
)

// StepType is the tagged-sum discriminator for a Step's variant payload
// (spec §9 "declarative step graph with polymorphic step types").
type StepType string

// Canonical step types.
const (
	StepEnrichment   StepType = "enrichment"
	StepCondition    StepType = "condition"
	StepApproval     StepType = "approval"
	StepAction       StepType = "action"
	StepNotification StepType = "notification"
)

// IsValid reports whether t is one of the canonical step types.
func (t StepType) IsValid() bool {
	switch t {
	case StepEnrichment, StepCondition, StepApproval, StepAction, StepNotification:
		return true
	default:
		return false
	}
}

// EndSentinel marks the implicit terminal target of a branch.
const EndSentinel = "__END__"

// FailurePolicy is the on_failure behavior of a step.
type FailurePolicy string

// Canonical on_failure values.
const (
	FailureStop     FailurePolicy = "stop"
	FailureContinue FailurePolicy = "continue"
	FailureRetry    FailurePolicy = "retry"
	FailureSkip     FailurePolicy = "skip"
)

// IsValid reports whether p is a canonical on_failure value.
func (p FailurePolicy) IsValid() bool {
	switch p {
	case FailureStop, FailureContinue, FailureRetry, FailureSkip:
		return true
	default:
		return false
	}
}

// SuccessAction is the on_success behavior of a step: continue to the next
// declared step, end the execution, or goto an explicit step id.
type SuccessAction struct {
	Mode string `json:"mode" yaml:"mode"` // "continue" (default), "end", or "goto"
	Goto string `json:"goto,omitempty" yaml:"goto,omitempty"`
}

// Success action modes.
const (
	SuccessContinue = "continue"
	SuccessEnd      = "end"
	SuccessGoto     = "goto"
)

// RetryPolicy governs the retry on_failure behavior.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`             // 1..10
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"` // 1..5
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
}

// ConditionSpec is the condition-step variant payload.
type ConditionSpec struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
	OnTrue   string   `json:"on_true" yaml:"on_true"`
	OnFalse  string   `json:"on_false" yaml:"on_false"`
}

// ApprovalSpec is the approval-step variant payload.
type ApprovalSpec struct {
	Approvers     []string      `json:"approvers" yaml:"approvers"`
	Message       string        `json:"message" yaml:"message"`
	TimeoutHours  float64       `json:"timeout_hours" yaml:"timeout_hours"`
	OnApproved    string        `json:"on_approved" yaml:"on_approved"`
	OnRejected    string        `json:"on_rejected" yaml:"on_rejected"`
	OnTimeout     string        `json:"on_timeout" yaml:"on_timeout"`
}

// ConnectorSpec is the variant payload shared by enrichment/action/notification
// steps: an opaque capability invocation (spec §9 "connectors as capability
// interface").
type ConnectorSpec struct {
	ConnectorID string         `json:"connector_id" yaml:"connector_id"`
	ActionType  string         `json:"action_type" yaml:"action_type"`
	OutputKeys  []string       `json:"output_keys,omitempty" yaml:"output_keys,omitempty"`
}

// Step is a single node of a Playbook's declarative step graph. It carries a
// shared header plus exactly one populated variant payload, selected by Type.
type Step struct {
	StepID  string        `json:"step_id" yaml:"step_id"`
	Name    string        `json:"name" yaml:"name"`
	Type    StepType      `json:"type" yaml:"type"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	OnSuccess SuccessAction `json:"on_success" yaml:"on_success"`
	OnFailure FailurePolicy `json:"on_failure" yaml:"on_failure"`
	Retry     *RetryPolicy  `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Input maps declarative variable-resolver expressions (see
	// internal/resolve) to named step inputs.
	Input map[string]string `json:"input,omitempty" yaml:"input,omitempty"`
	// Required lists Input keys that must resolve to a defined value.
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`

	Condition *ConditionSpec `json:"condition,omitempty" yaml:"condition,omitempty"`
	Approval  *ApprovalSpec  `json:"approval,omitempty" yaml:"approval,omitempty"`
	Connector *ConnectorSpec `json:"connector,omitempty" yaml:"connector,omitempty"`
}

// Playbook is the declarative step graph an Execution drives to completion.
type Playbook struct {
	ID          string
	Name        string
	Version     string // parsed on demand via ParsedVersion; stored as string for round-trip fidelity
	Enabled     bool
	ShadowMode  bool
	Steps       []Step

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParsedVersion parses Version as semver, enabling ordered comparison of
// playbook revisions instead of a raw string compare.
func (p *Playbook) ParsedVersion() (*semver.Version, error) {
	return semver.NewVersion(p.Version)
}

// NewerThan reports whether p's semantic version is strictly greater than
// other's. Both versions must parse as valid semver; a parse failure reports
// false along with the error.
func (p *Playbook) NewerThan(other *Playbook) (bool, error) {
	pv, err := p.ParsedVersion()
	if err != nil {
		return false, err
	}
	ov, err := other.ParsedVersion()
	if err != nil {
		return false, err
	}
	return pv.GreaterThan(ov), nil
}

// StepByID returns the step with the given id, if present.
func (p *Playbook) StepByID(id string) (*Step, bool) {
	for i := range p.Steps {
		if p.Steps[i].StepID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// EntryStepID returns the first declared step's id, the dispatch loop's
// entry point (spec §4.G).
func (p *Playbook) EntryStepID() string {
	if len(p.Steps) == 0 {
		return ""
	}
	return p.Steps[0].StepID
}
