// Package approval implements the approval store and resumption (spec
// §4.H): persisting pending approvals, accepting operator decisions, and
// sweeping expired ones back to the engine as timeouts.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cyberguard/soar-engine/internal/model"
)

// ErrAlreadyDecided is returned when a second decision is posted against
// an approval that already has one (spec §4.H).
var ErrAlreadyDecided = errors.New("approval: already decided")

// ErrNotFound is returned when the referenced approval does not exist.
var ErrNotFound = errors.New("approval: not found")

// Store persists Approval rows. Implemented by internal/store.
type Store interface {
	SaveApproval(ctx context.Context, a *model.Approval) error
	GetApproval(ctx context.Context, id string) (*model.Approval, error)
	// ListExpiredPending returns every pending approval whose ExpiresAt is
	// at or before asOf, backing the sweeper's "(state=pending,
	// expires_at)" index scan.
	ListExpiredPending(ctx context.Context, asOf time.Time) ([]*model.Approval, error)
}

// Resumer is the engine-side callback that resumes a suspended execution
// once its approval is decided.
type Resumer interface {
	ResumeFromApproval(ctx context.Context, executionID, stepID string, decision model.ApprovalDecision, decider string, decidedAt time.Time) error
}

// Auditor records the audit trail for approval decisions (spec §7 "audit
// events flow from every mutating component"). Implemented by
// internal/store.
type Auditor interface {
	SaveAuditEvent(ctx context.Context, e *model.AuditEvent) error
}

// Manager coordinates approval persistence and engine resumption.
type Manager struct {
	Store   Store
	Resumer Resumer

	// Audit records a decision audit event per decide/sweep when set. Left
	// nil by New; a nil Audit is a valid no-op.
	Audit Auditor

	log *slog.Logger
}

// New returns a Manager backed by store and resumer.
func New(store Store, resumer Resumer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{Store: store, Resumer: resumer, log: log.With("component", "approval")}
}

// auditDecision records one decision's audit event, tagged with a fresh
// UUIDv4 so retried sweeps or duplicate deliveries never collide on the
// audit log's (id) uniqueness constraint.
func (m *Manager) auditDecision(ctx context.Context, a *model.Approval, now time.Time) {
	if m.Audit == nil {
		return
	}
	decider := a.Decider
	if decider == "" {
		decider = "sweeper"
	}
	_ = m.Audit.SaveAuditEvent(ctx, &model.AuditEvent{
		ID:       uuid.New().String(),
		At:       now,
		Actor:    decider,
		Action:   "approval.decide",
		Resource: a.ID,
		Outcome:  model.OutcomeSuccess,
		Detail: map[string]any{
			"execution_id": a.ExecutionID,
			"step_id":      a.StepID,
			"decision":     string(a.Decision),
		},
	})
}

// Create persists a new pending Approval for an execution suspended at an
// approval step, with its absolute timeout computed as now + timeoutHours.
func (m *Manager) Create(ctx context.Context, id, executionID, stepID string, approvers []string, message string, timeoutHours float64, now time.Time) (*model.Approval, error) {
	a := &model.Approval{
		ID:          id,
		ExecutionID: executionID,
		StepID:      stepID,
		Approvers:   approvers,
		Message:     message,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(timeoutHours * float64(time.Hour))),
	}
	if err := m.Store.SaveApproval(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: create: %w", err)
	}
	return a, nil
}

// Decide records an operator's decision and resumes the owning execution.
// A second decision against the same approval fails with ErrAlreadyDecided
// without touching the execution.
func (m *Manager) Decide(ctx context.Context, approvalID string, decision model.ApprovalDecision, decider string, now time.Time) error {
	a, err := m.Store.GetApproval(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("approval: load %s: %w", approvalID, err)
	}
	if a == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, approvalID)
	}
	if !a.IsPending() {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, approvalID)
	}

	a.Decision = decision
	a.Decider = decider
	decidedAt := now
	a.DecidedAt = &decidedAt
	if err := m.Store.SaveApproval(ctx, a); err != nil {
		return fmt.Errorf("approval: save decision for %s: %w", approvalID, err)
	}
	m.auditDecision(ctx, a, now)

	return m.Resumer.ResumeFromApproval(ctx, a.ExecutionID, a.StepID, decision, decider, now)
}

// RunSweeper polls for expired pending approvals at a fixed cadence,
// marking each timed_out and resuming its execution, until ctx is
// cancelled. Mirrors the teacher's cleanup-service sweep loop shape.
func (m *Manager) RunSweeper(ctx context.Context, cadence time.Duration) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sweepOnce(ctx, time.Now()); err != nil {
				m.log.Error("approval sweep failed", "error", err)
			}
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context, now time.Time) error {
	expired, err := m.Store.ListExpiredPending(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired pending approvals: %w", err)
	}
	for _, a := range expired {
		a.Decision = model.DecisionTimedOut
		decidedAt := now
		a.DecidedAt = &decidedAt
		if err := m.Store.SaveApproval(ctx, a); err != nil {
			m.log.Error("mark approval timed_out failed", "approval_id", a.ID, "error", err)
			continue
		}
		m.auditDecision(ctx, a, now)
		if err := m.Resumer.ResumeFromApproval(ctx, a.ExecutionID, a.StepID, model.DecisionTimedOut, "", now); err != nil {
			m.log.Error("resume from timed-out approval failed", "approval_id", a.ID, "error", err)
		}
	}
	return nil
}
