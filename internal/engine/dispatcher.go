package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cyberguard/soar-engine/internal/approval"
	"github.com/cyberguard/soar-engine/internal/connector"
	"github.com/cyberguard/soar-engine/internal/model"
	"github.com/cyberguard/soar-engine/internal/resolve"
	"github.com/cyberguard/soar-engine/internal/sla"
	"github.com/cyberguard/soar-engine/internal/telemetry"
	"github.com/cyberguard/soar-engine/internal/trigger"
)

// MaxStepExecutions is the per-execution dispatch-count cap of spec §4.G.
const MaxStepExecutions = 100

// Engine drives one execution's step dispatch loop to a terminal state or a
// suspension point (WAITING_APPROVAL). A single Engine is shared by every
// worker goroutine; all of its dependencies are safe for concurrent use
// across the executions they're driving (spec §5 "single logical worker per
// execution, no two workers ever write the same execution").
type Engine struct {
	Executions ExecutionRepo
	Playbooks  PlaybookRepo
	Connectors *connector.Registry
	Conditions *trigger.Evaluator
	Approvals  *approval.Manager
	SLA        *sla.Accountant
	Now        func() time.Time

	// NewOwnerToken mints a fresh worker-claim token; set by the caller
	// that wires up Engine (internal/store/pg.NewOwnerToken in practice).
	NewOwnerToken func() (string, error)

	// Telemetry records a span and a counter sample per step dispatch when
	// set. Left nil by New; assigned by the caller that wires up Engine.
	// A nil Telemetry is a valid no-op.
	Telemetry *telemetry.Provider

	log *slog.Logger
}

// New returns a ready-to-use Engine.
func New(executions ExecutionRepo, playbooks PlaybookRepo, connectors *connector.Registry, conditions *trigger.Evaluator, approvals *approval.Manager, accountant *sla.Accountant, newOwnerToken func() (string, error), log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Executions:    executions,
		Playbooks:     playbooks,
		Connectors:    connectors,
		Conditions:    conditions,
		Approvals:     approvals,
		SLA:           accountant,
		Now:           time.Now,
		NewOwnerToken: newOwnerToken,
		log:           log.With("component", "engine"),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Drive runs exec's dispatch loop (spec §4.G) until it reaches a terminal
// state or suspends at an approval step, persisting after every step. ctx's
// cancellation is treated as an external cancel request (spec §4.G
// "Cancellation"): the in-flight step's outcome is discarded and the
// execution is marked FAILED with CANCELLED.
func (e *Engine) Drive(ctx context.Context, exec *model.Execution) error {
	pb, err := e.Playbooks.GetPlaybook(ctx, exec.PlaybookID)
	if err != nil {
		return fmt.Errorf("engine: load playbook %s: %w", exec.PlaybookID, err)
	}
	if pb == nil {
		return fmt.Errorf("engine: playbook %s not found", exec.PlaybookID)
	}

	for !exec.State.IsTerminal() && exec.State != model.ExecWaitingApproval {
		if ctx.Err() != nil {
			e.cancel(exec)
			break
		}

		if err := e.dispatchOne(ctx, exec, pb); err != nil {
			return fmt.Errorf("engine: dispatch %s: %w", exec.ID, err)
		}
		if err := e.Executions.SaveExecution(ctx, exec); err != nil {
			return fmt.Errorf("engine: save %s: %w", exec.ID, err)
		}
	}

	return e.Executions.SaveExecution(ctx, exec)
}

func (e *Engine) cancel(exec *model.Execution) {
	now := e.now()
	exec.Finalize(model.ExecFailed, now, &model.ErrorDetail{
		Code:      string(model.ErrCancelled),
		Message:   "execution cancelled",
		StepID:    exec.CurrentStep,
		Timestamp: now,
	})
	if e.SLA != nil {
		e.SLA.RecordResolution(exec, now)
	}
}

// dispatchOne runs exactly one iteration of the spec §4.G dispatch loop
// against exec.CurrentStep (or the playbook's entry step, on the very first
// call), mutating exec in place.
func (e *Engine) dispatchOne(ctx context.Context, exec *model.Execution, pb *model.Playbook) error {
	stepID := exec.CurrentStep
	if stepID == "" {
		stepID = pb.EntryStepID()
	}

	exec.DispatchCount++
	if exec.DispatchCount > MaxStepExecutions {
		now := e.now()
		exec.Finalize(model.ExecFailed, now, &model.ErrorDetail{
			Code:      string(model.ErrLoopDetected),
			Message:   fmt.Sprintf("exceeded %d step dispatches", MaxStepExecutions),
			StepID:    stepID,
			Timestamp: now,
		})
		if e.SLA != nil {
			e.SLA.RecordResolution(exec, now)
		}
		return nil
	}

	step, ok := pb.StepByID(stepID)
	if !ok {
		now := e.now()
		exec.Finalize(model.ExecFailed, now, &model.ErrorDetail{
			Code:      "UNKNOWN_STEP",
			Message:   fmt.Sprintf("playbook %s has no step %q", pb.ID, stepID),
			StepID:    stepID,
			Timestamp: now,
		})
		return nil
	}

	result := exec.StepResultByID(step.StepID)
	startedAt := e.now()
	result.State = model.StepExecuting
	result.StartedAt = startedAt
	exec.CurrentStep = step.StepID

	ctx, endSpan := e.Telemetry.StepSpan(ctx, step.StepID, string(step.Type))
	defer func() { endSpan(string(result.State)) }()

	rctx := e.resolveContext(exec, pb)
	inputs, err := rctx.ResolveInputs(step.Input, step.Required)
	if err != nil {
		return e.handleStepFailure(ctx, exec, pb, step, result, classifyResolveError(err))
	}

	switch step.Type {
	case model.StepCondition:
		return e.dispatchCondition(exec, step, result, rctx)
	case model.StepApproval:
		return e.dispatchApproval(ctx, exec, step, result)
	default:
		return e.dispatchConnectorStep(ctx, exec, pb, step, result, inputs)
	}
}

func (e *Engine) resolveContext(exec *model.Execution, pb *model.Playbook) resolve.Context {
	outputs := make(map[string]map[string]any, len(exec.Steps))
	for _, s := range exec.Steps {
		if s.Output != nil {
			outputs[s.StepID] = s.Output
		}
	}
	return resolve.Context{
		TriggerData: exec.TriggerData,
		StepOutputs: outputs,
		PlaybookMeta: map[string]any{
			"id":          pb.ID,
			"name":        pb.Name,
			"version":     pb.Version,
			"shadow_mode": pb.ShadowMode,
		},
	}
}

func classifyResolveError(err error) *model.ErrorDetail {
	return &model.ErrorDetail{Code: string(model.ErrMissingInput), Message: err.Error(), Timestamp: time.Now()}
}

// dispatchCondition evaluates a condition step's predicate and branches
// unconditionally to on_true/on_false — a condition step never falls
// through (spec §4.G step 7).
func (e *Engine) dispatchCondition(exec *model.Execution, step *model.Step, result *model.StepResult, rctx resolve.Context) error {
	cond := step.Condition
	resolved := rctx.Resolve(cond.Field)
	matched, err := e.Conditions.EvaluateCondition(cond, resolved)
	now := e.now()
	if err != nil {
		result.State = model.StepFailed
		result.Error = err.Error()
		result.EndedAt = now
		return e.finalizeFailure(exec, step, "CONDITION_EVAL_FAILED", err.Error(), now)
	}

	branch := cond.OnFalse
	branchName := "on_false"
	if matched {
		branch = cond.OnTrue
		branchName = "on_true"
	}

	result.State = model.StepCompleted
	result.EndedAt = now
	result.Output = map[string]any{
		"result":          matched,
		"evaluated_value": resolved,
		"branch_taken":    branchName,
		"next_step":       branch,
	}

	return e.advanceTo(exec, branch, now)
}

func (e *Engine) dispatchApproval(ctx context.Context, exec *model.Execution, step *model.Step, result *model.StepResult) error {
	spec := step.Approval
	now := e.now()
	approvalID := fmt.Sprintf("APR-%s-%s", exec.ID, step.StepID)
	if _, err := e.Approvals.Create(ctx, approvalID, exec.ID, step.StepID, spec.Approvers, spec.Message, spec.TimeoutHours, now); err != nil {
		return fmt.Errorf("create approval: %w", err)
	}

	exec.ApprovalID = approvalID
	exec.State = model.ExecWaitingApproval
	exec.WaitingApprovalSince = &now
	// result stays EXECUTING: it resumes (not re-dispatches) from ResumeFromApproval.
	return nil
}

func (e *Engine) dispatchConnectorStep(ctx context.Context, exec *model.Execution, pb *model.Playbook, step *model.Step, result *model.StepResult, inputs map[string]any) error {
	now := e.now()

	if pb.ShadowMode && step.Type == model.StepAction {
		result.State = model.StepCompleted
		result.EndedAt = now
		result.Output = map[string]any{
			"skipped": true,
			"reason":  "shadow_mode",
			"would_execute": map[string]any{
				"connector": step.Connector.ConnectorID,
				"action":    step.Connector.ActionType,
				"inputs":    inputs,
			},
		}
		return e.advanceOnSuccess(pb, exec, step, now)
	}

	var deadline time.Time
	if step.Timeout > 0 {
		deadline = now.Add(step.Timeout)
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	out, err := e.Connectors.Invoke(callCtx, connector.Invocation{
		ConnectorID: step.Connector.ConnectorID,
		ActionType:  step.Connector.ActionType,
		Inputs:      inputs,
		Deadline:    deadline,
	})
	if ctx.Err() != nil {
		// Cancelled while the call was in flight: its outcome is discarded.
		e.cancel(exec)
		return nil
	}
	endedAt := e.now()

	if err != nil {
		code := string(model.ErrConnectorFailure)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			code = string(model.ErrStepTimeout)
		}
		result.Error = err.Error()
		result.EndedAt = endedAt
		return e.handleStepFailureWithCode(ctx, exec, pb, step, result, code, err.Error())
	}

	result.State = model.StepCompleted
	result.EndedAt = endedAt
	result.Output = out.Output

	if step.Type == model.StepAction && !pb.ShadowMode && e.SLA != nil && exec.SLAStatus.Containment.At == nil {
		e.SLA.RecordContainment(exec, endedAt)
	}

	return e.advanceOnSuccess(pb, exec, step, endedAt)
}

// advanceOnSuccess applies a completed step's on_success policy (spec §4.G
// step 5): continue to the next declared step, end, or goto.
func (e *Engine) advanceOnSuccess(pb *model.Playbook, exec *model.Execution, step *model.Step, now time.Time) error {
	switch step.OnSuccess.Mode {
	case model.SuccessEnd:
		return e.finalizeSuccess(exec, now)
	case model.SuccessGoto:
		return e.advanceTo(exec, step.OnSuccess.Goto, now)
	default: // continue, or unset
		return e.advanceTo(exec, nextDeclaredStep(pb, step.StepID), now)
	}
}

// nextDeclaredStep returns the step id immediately following stepID in pb's
// declaration order, or the end sentinel if stepID is the last step.
func nextDeclaredStep(pb *model.Playbook, stepID string) string {
	for i, s := range pb.Steps {
		if s.StepID == stepID {
			if i+1 < len(pb.Steps) {
				return pb.Steps[i+1].StepID
			}
			return model.EndSentinel
		}
	}
	return model.EndSentinel
}

// advanceTo sets exec's current step to next, or finalizes COMPLETED if
// next is the end sentinel (spec §4.G step 9).
func (e *Engine) advanceTo(exec *model.Execution, next string, now time.Time) error {
	if next == model.EndSentinel || next == "" {
		return e.finalizeSuccess(exec, now)
	}
	exec.CurrentStep = next
	return nil
}

func (e *Engine) finalizeSuccess(exec *model.Execution, now time.Time) error {
	exec.Finalize(model.ExecCompleted, now, nil)
	if e.SLA != nil {
		e.SLA.RecordResolution(exec, now)
	}
	return nil
}

func (e *Engine) finalizeFailure(exec *model.Execution, step *model.Step, code, message string, now time.Time) error {
	exec.Finalize(model.ExecFailed, now, &model.ErrorDetail{
		Code: code, Message: message, StepID: step.StepID, Timestamp: now,
	})
	if e.SLA != nil {
		e.SLA.RecordResolution(exec, now)
	}
	return nil
}

// handleStepFailure applies on_failure using the error detail already
// classified by classifyResolveError.
func (e *Engine) handleStepFailure(ctx context.Context, exec *model.Execution, pb *model.Playbook, step *model.Step, result *model.StepResult, detail *model.ErrorDetail) error {
	now := e.now()
	result.Error = detail.Message
	result.EndedAt = now
	return e.handleStepFailureWithCode(ctx, exec, pb, step, result, detail.Code, detail.Message)
}

// handleStepFailureWithCode applies a failed step's on_failure policy
// (spec §4.G step 6): stop, continue, skip, or retry-with-backoff falling
// back to stop.
func (e *Engine) handleStepFailureWithCode(ctx context.Context, exec *model.Execution, pb *model.Playbook, step *model.Step, result *model.StepResult, code, message string) error {
	now := e.now()

	if step.OnFailure == model.FailureRetry && step.Retry != nil && result.RetryCount < clampAttempts(step.Retry.MaxAttempts) {
		result.RetryCount++
		delay := backoffDelay(step.Retry, result.RetryCount)
		e.log.Info("retrying failed step", "execution_id", exec.ID, "step_id", step.StepID, "attempt", result.RetryCount, "delay", delay)
		select {
		case <-ctx.Done():
			e.cancel(exec)
			return nil
		case <-time.After(delay):
		}
		// The next dispatchOne call re-enters this same step (CurrentStep
		// is unchanged) and counts against MAX_STEP_EXECUTIONS like any
		// other dispatch.
		result.State = model.StepPending
		return nil
	}

	switch step.OnFailure {
	case model.FailureContinue:
		result.State = model.StepFailed
		result.EndedAt = now
		return e.advanceOnSuccess(pb, exec, step, now)
	case model.FailureSkip:
		result.State = model.StepSkipped
		result.EndedAt = now
		return e.finalizeSuccess(exec, now)
	case model.FailureStop, model.FailureRetry: // retry falls back to stop once exhausted
		fallthrough
	default:
		result.State = model.StepFailed
		result.EndedAt = now
		return e.finalizeFailure(exec, step, code, message, now)
	}
}

func clampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

// backoffDelay computes the exponential backoff delay for retry attempt n
// (1-indexed), capped at policy.MaxDelay.
func backoffDelay(policy *model.RetryPolicy, attempt int) time.Duration {
	mult := policy.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	if mult > 5 {
		mult = 5
	}
	delay := float64(policy.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	return time.Duration(delay)
}
