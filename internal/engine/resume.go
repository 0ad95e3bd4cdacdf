package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberguard/soar-engine/internal/model"
)

// ResumeFromApproval implements approval.Resumer (spec §4.H): it applies an
// operator decision (or the sweeper's timeout) to the execution suspended
// at stepID and hands it back to the worker pool for further dispatch by
// clearing ownership — this process's worker does not keep driving the
// execution inline, matching the "release the worker during
// WAITING_APPROVAL" rule of spec §5.
func (e *Engine) ResumeFromApproval(ctx context.Context, executionID, stepID string, decision model.ApprovalDecision, decider string, decidedAt time.Time) error {
	exec, err := e.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("engine: resume: load execution %s: %w", executionID, err)
	}
	if exec == nil {
		return fmt.Errorf("engine: resume: execution %s not found", executionID)
	}
	if exec.State.IsTerminal() {
		// The execution was independently cancelled or already finalized;
		// a late decision (e.g. a race with the sweeper) is a no-op.
		return nil
	}

	pb, err := e.Playbooks.GetPlaybook(ctx, exec.PlaybookID)
	if err != nil {
		return fmt.Errorf("engine: resume: load playbook %s: %w", exec.PlaybookID, err)
	}
	if pb == nil {
		return fmt.Errorf("engine: resume: playbook %s not found", exec.PlaybookID)
	}
	step, ok := pb.StepByID(stepID)
	if !ok || step.Approval == nil {
		return fmt.Errorf("engine: resume: %s is not an approval step of playbook %s", stepID, pb.ID)
	}

	result := exec.StepResultByID(stepID)
	if exec.WaitingApprovalSince != nil {
		exec.WaitingApprovalTotal += decidedAt.Sub(*exec.WaitingApprovalSince)
		exec.WaitingApprovalSince = nil
	}

	switch decision {
	case model.DecisionApproved:
		result.State = model.StepCompleted
		result.EndedAt = decidedAt
		exec.State = model.ExecExecuting
		if err := e.advanceTo(exec, step.Approval.OnApproved, decidedAt); err != nil {
			return err
		}
	case model.DecisionRejected:
		result.State = model.StepFailed
		result.Error = fmt.Sprintf("rejected by %s", decider)
		result.EndedAt = decidedAt
		exec.State = model.ExecExecuting
		if err := e.applyRejection(exec, step, decidedAt); err != nil {
			return err
		}
	case model.DecisionTimedOut:
		result.State = model.StepFailed
		result.Error = "approval timed out"
		result.EndedAt = decidedAt
		exec.State = model.ExecExecuting
		if err := e.applyTimeout(pb, exec, step, decidedAt); err != nil {
			return err
		}
	default:
		return fmt.Errorf("engine: resume: unrecognized decision %q", decision)
	}

	if exec.State.IsTerminal() && e.SLA != nil {
		e.SLA.RecordResolution(exec, decidedAt)
	}

	if err := e.Executions.SaveExecution(ctx, exec); err != nil {
		return fmt.Errorf("engine: resume: save execution %s: %w", executionID, err)
	}
	if !exec.State.IsTerminal() {
		return e.Executions.ReleaseExecution(ctx, executionID)
	}
	return nil
}

// applyRejection applies a rejected approval's on_rejected policy: "fail"
// and "stop" both finalize the execution FAILED (there is no further
// branching for a rejected approval), a step id is a goto (spec §4.H).
func (e *Engine) applyRejection(exec *model.Execution, step *model.Step, now time.Time) error {
	switch step.Approval.OnRejected {
	case "fail", "stop", "":
		return e.finalizeFailure(exec, step, string(model.ErrApprovalRejected), "approval rejected", now)
	default:
		return e.advanceTo(exec, step.Approval.OnRejected, now)
	}
}

// applyTimeout applies a timed-out approval's on_timeout policy (spec §4.H).
func (e *Engine) applyTimeout(pb *model.Playbook, exec *model.Execution, step *model.Step, now time.Time) error {
	switch step.Approval.OnTimeout {
	case "fail", "":
		return e.finalizeFailure(exec, step, string(model.ErrApprovalTimeout), "approval timed out", now)
	case "continue":
		return e.advanceTo(exec, nextDeclaredStep(pb, step.StepID), now)
	case "skip", model.EndSentinel:
		return e.finalizeSuccess(exec, now)
	default:
		return e.advanceTo(exec, step.Approval.OnTimeout, now)
	}
}
