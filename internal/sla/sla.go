// Package sla implements SLA accounting (spec §4.I): policy resolution,
// threshold tracking, and breach classification for MTTA/MTTC/MTTR.
package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberguard/soar-engine/internal/model"
)

// PolicyResolver looks up SLA policies by scope, the persistence-backed
// half of policy resolution.
type PolicyResolver interface {
	// GetSLAPolicy returns the enabled policy for (scope, key), or nil if
	// none exists.
	GetSLAPolicy(ctx context.Context, scope model.SLAScope, key string) (*model.SLAPolicy, error)
}

// Accountant drives the SLA bookkeeping on an Execution as it progresses.
type Accountant struct {
	Resolver PolicyResolver
}

// New returns an Accountant backed by resolver.
func New(resolver PolicyResolver) *Accountant {
	return &Accountant{Resolver: resolver}
}

// ResolvePolicy implements the playbook → severity → global resolution
// order of spec §4.I, returning the first match.
func (a *Accountant) ResolvePolicy(ctx context.Context, playbookID, severity string) (*model.SLAPolicy, error) {
	if p, err := a.Resolver.GetSLAPolicy(ctx, model.SLAScopePlaybook, playbookID); err != nil {
		return nil, fmt.Errorf("sla: resolve playbook-scoped policy: %w", err)
	} else if p != nil {
		return p, nil
	}
	if p, err := a.Resolver.GetSLAPolicy(ctx, model.SLAScopeSeverity, severity); err != nil {
		return nil, fmt.Errorf("sla: resolve severity-scoped policy: %w", err)
	} else if p != nil {
		return p, nil
	}
	if p, err := a.Resolver.GetSLAPolicy(ctx, model.SLAScopeGlobal, ""); err != nil {
		return nil, fmt.Errorf("sla: resolve global policy: %w", err)
	} else if p != nil {
		return p, nil
	}
	return nil, nil
}

// Initialize copies policy's thresholds into a fresh SLAStatus. A nil
// policy means no applicable SLA; the returned status carries zero
// thresholds and nothing will ever breach.
func Initialize(policy *model.SLAPolicy) model.SLAStatus {
	if policy == nil {
		return model.SLAStatus{}
	}
	return model.SLAStatus{
		PolicyID:    policy.ID,
		Acknowledge: model.SLADimension{ThresholdMS: policy.Thresholds.AcknowledgeMS},
		Containment: model.SLADimension{ThresholdMS: policy.Thresholds.ContainmentMS},
		Resolution:  model.SLADimension{ThresholdMS: policy.Thresholds.ResolutionMS},
	}
}

// RecordAcknowledge computes the acknowledge dimension immediately at
// execution insert, per spec §4.I.
func (a *Accountant) RecordAcknowledge(exec *model.Execution, now time.Time) {
	recordDimension(&exec.SLAStatus.Acknowledge, exec, now, exec.WebhookReceivedAt)
}

// RecordContainment computes the containment dimension the first time a
// non-shadow action-type step completes. Callers must only invoke this
// once, at that moment.
func (a *Accountant) RecordContainment(exec *model.Execution, now time.Time) {
	recordDimension(&exec.SLAStatus.Containment, exec, now, exec.StartedAt)
}

// RecordResolution computes the resolution dimension when the execution
// reaches a terminal state.
func (a *Accountant) RecordResolution(exec *model.Execution, now time.Time) {
	recordDimension(&exec.SLAStatus.Resolution, exec, now, exec.StartedAt)
}

func recordDimension(dim *model.SLADimension, exec *model.Execution, now, since time.Time) {
	if dim.ThresholdMS <= 0 {
		return
	}
	at := now
	dim.At = &at
	elapsed := now.Sub(since).Milliseconds()
	if elapsed > dim.ThresholdMS {
		dim.Breached = true
		dim.BreachedBy = classifyBreach(exec, now)
	}
}

// classifyBreach applies the heuristic of spec §4.I, in its stated
// priority order.
func classifyBreach(exec *model.Execution, breachAt time.Time) model.BreachReason {
	for _, s := range exec.Steps {
		if s.State == model.StepFailed && !s.EndedAt.After(breachAt) {
			return model.BreachAutomationFailure
		}
	}

	elapsed := breachAt.Sub(exec.StartedAt)
	waitingTotal := exec.WaitingApprovalTotal
	if exec.WaitingApprovalSince != nil {
		waitingTotal += breachAt.Sub(*exec.WaitingApprovalSince)
	}
	if elapsed > 0 && waitingTotal.Seconds()/elapsed.Seconds() > 0.5 {
		return model.BreachManualInterventionDelay
	}

	for _, s := range exec.Steps {
		if s.Error == string(model.ErrStepTimeout) {
			return model.BreachExternalDependencyDelay
		}
	}

	return model.BreachResourceExhaustion
}
