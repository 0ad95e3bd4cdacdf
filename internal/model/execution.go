package model

import "time"

// ExecutionState is the top-level execution state machine of spec §4.G:
// EXECUTING → {WAITING_APPROVAL ⇌ EXECUTING} → {COMPLETED | FAILED}.
type ExecutionState string

// Canonical execution states.
const (
	ExecExecuting        ExecutionState = "EXECUTING"
	ExecWaitingApproval   ExecutionState = "WAITING_APPROVAL"
	ExecCompleted         ExecutionState = "COMPLETED"
	ExecFailed            ExecutionState = "FAILED"
)

// IsTerminal reports whether s is a terminal execution state.
func (s ExecutionState) IsTerminal() bool {
	return s == ExecCompleted || s == ExecFailed
}

// StepState is a single step's state machine: PENDING → EXECUTING →
// {COMPLETED | FAILED | SKIPPED}.
type StepState string

// Canonical step states.
const (
	StepPending   StepState = "PENDING"
	StepExecuting StepState = "EXECUTING"
	StepCompleted StepState = "COMPLETED"
	StepFailed    StepState = "FAILED"
	StepSkipped   StepState = "SKIPPED"
)

// IsTerminal reports whether s is a terminal step state.
func (s StepState) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// stepStateRank orders step states for the monotonic-advance invariant of
// spec §3 ("steps[*].state advances monotonically through its FSM").
var stepStateRank = map[StepState]int{
	StepPending:   0,
	StepExecuting: 1,
	StepCompleted: 2,
	StepFailed:    2,
	StepSkipped:   2,
}

// CanAdvance reports whether a transition from 'from' to 'to' respects the
// step FSM's monotonic ordering (terminal states never regress, and a step
// cannot jump backwards to PENDING once EXECUTING).
func CanAdvance(from, to StepState) bool {
	return stepStateRank[to] >= stepStateRank[from]
}

// ErrorDetail captures a terminal FAILED execution's error, per spec §7
// "every terminal FAILED execution carries {code, message, step_id?, timestamp}".
type ErrorDetail struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StepResult is the recorded outcome of one step dispatch.
type StepResult struct {
	StepID     string      `json:"step_id"`
	State      StepState   `json:"state"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	EndedAt    time.Time   `json:"ended_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	RetryCount int         `json:"retry_count"`
}

// BreachReason classifies why an SLA threshold was missed (spec §4.I).
type BreachReason string

// Canonical breach reasons.
const (
	BreachAutomationFailure      BreachReason = "automation_failure"
	BreachManualInterventionDelay BreachReason = "manual_intervention_delay"
	BreachExternalDependencyDelay BreachReason = "external_dependency_delay"
	BreachResourceExhaustion     BreachReason = "resource_exhaustion"
)

// SLADimension tracks a single threshold (acknowledge, containment,
// resolution) and whether/why it was breached.
type SLADimension struct {
	ThresholdMS int64         `json:"threshold_ms"`
	At          *time.Time    `json:"at,omitempty"`
	Breached    bool          `json:"breached"`
	BreachedBy  BreachReason  `json:"breached_reason,omitempty"`
}

// SLAStatus is the execution-embedded SLA tracking record (MTTA/MTTC/MTTR).
type SLAStatus struct {
	PolicyID     string        `json:"policy_id"`
	Acknowledge  SLADimension  `json:"acknowledge"`
	Containment  SLADimension  `json:"containment"`
	Resolution   SLADimension  `json:"resolution"`
}

// AnyBreached reports whether any SLA dimension has been marked breached.
func (s *SLAStatus) AnyBreached() bool {
	return s.Acknowledge.Breached || s.Containment.Breached || s.Resolution.Breached
}

// Execution is the durable execution record driven by the engine (spec §3).
// It is mutated only by the single logical worker that owns its ID until it
// reaches a terminal ExecutionState.
type Execution struct {
	ID           string
	PlaybookID   string
	PlaybookName string
	PlaybookVersion string

	State ExecutionState

	TriggerData     map[string]any
	TriggerSnapshot TriggerSnapshot

	EventTime       time.Time
	EventTimeSource string // "payload.event_time" | "payload.timestamp" | "payload.@timestamp" | "arrival_time"

	WebhookID   string
	Fingerprint string

	Steps       []StepResult
	CurrentStep string
	DispatchCount int // per-execution step-dispatch counter, capped at MAX_STEP_EXECUTIONS

	WebhookReceivedAt time.Time
	AcknowledgedAt    time.Time
	StartedAt         time.Time
	CompletedAt       *time.Time
	DurationMS        *int64

	WaitingApprovalSince *time.Time
	WaitingApprovalTotal time.Duration

	SLAStatus SLAStatus

	DropReason string
	Error      *ErrorDetail
	ApprovalID string

	ShadowMode bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepResultByID returns a pointer into e.Steps for the given step id,
// appending a fresh PENDING entry if none exists yet.
func (e *Execution) StepResultByID(stepID string) *StepResult {
	for i := range e.Steps {
		if e.Steps[i].StepID == stepID {
			return &e.Steps[i]
		}
	}
	e.Steps = append(e.Steps, StepResult{StepID: stepID, State: StepPending})
	return &e.Steps[len(e.Steps)-1]
}

// DispatchedTerminalCount returns the number of steps currently in a
// terminal (non-PENDING, non-EXECUTING) state — bounded by
// MAX_STEP_EXECUTIONS per the testable property in spec §8.
func (e *Execution) DispatchedTerminalCount() int {
	n := 0
	for _, s := range e.Steps {
		if s.State.IsTerminal() {
			n++
		}
	}
	return n
}

// Finalize marks the execution terminal, recording duration and, for
// FAILED executions, the error detail.
func (e *Execution) Finalize(state ExecutionState, now time.Time, errDetail *ErrorDetail) {
	e.State = state
	e.CompletedAt = &now
	dur := now.Sub(e.StartedAt).Milliseconds()
	e.DurationMS = &dur
	if state == ExecFailed {
		e.Error = errDetail
	}
	e.UpdatedAt = now
}
