package model

import "time"

// ApprovalDecision is the terminal outcome of an Approval.
type ApprovalDecision string

// Canonical approval decisions.
const (
	DecisionApproved  ApprovalDecision = "approved"
	DecisionRejected  ApprovalDecision = "rejected"
	DecisionTimedOut  ApprovalDecision = "timed_out"
	DecisionPending   ApprovalDecision = "" // zero value: not yet decided
)

// Approval references exactly one execution and one approval step (spec §3).
type Approval struct {
	ID          string
	ExecutionID string
	StepID      string
	Approvers   []string
	Message     string

	CreatedAt time.Time
	ExpiresAt time.Time

	Decision   ApprovalDecision
	Decider    string
	DecidedAt  *time.Time
}

// IsPending reports whether the approval has not yet been decided.
func (a *Approval) IsPending() bool {
	return a.Decision == DecisionPending
}

// IsExpired reports whether a pending approval's deadline has passed as of now.
func (a *Approval) IsExpired(now time.Time) bool {
	return a.IsPending() && !now.Before(a.ExpiresAt)
}
