// Package validate implements the playbook validator (spec §4.E): a
// fail-closed static pass over a playbook's step graph. Every issue found
// is fatal — a playbook with any Issue must not be enabled or executed.
package validate

import (
	"fmt"
	"regexp"

	"github.com/cyberguard/soar-engine/internal/model"
)

var stepIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// onTimeoutTerminals is the non-step-id vocabulary accepted for an
// approval step's on_timeout.
var onTimeoutTerminals = map[string]bool{
	"fail":            true,
	"continue":        true,
	"skip":            true,
	model.EndSentinel: true,
}

// Issue is a single fatal validation failure, anchored to the step that
// caused it (empty StepID for playbook-level issues).
type Issue struct {
	StepID string
	Reason string
}

func (i Issue) String() string {
	if i.StepID == "" {
		return i.Reason
	}
	return fmt.Sprintf("%s: %s", i.StepID, i.Reason)
}

// Result is the outcome of validating a playbook.
type Result struct {
	Issues []Issue
}

// Valid reports whether the playbook has no fatal issues.
func (r Result) Valid() bool {
	return len(r.Issues) == 0
}

// Validate runs every static check from spec §4.E against pb and returns
// every issue found; an empty Result.Issues means the step graph is
// well-formed and terminating.
func Validate(pb *model.Playbook) Result {
	var issues []Issue

	if len(pb.Steps) == 0 {
		return Result{Issues: []Issue{{Reason: "playbook has no steps"}}}
	}

	seen := make(map[string]bool, len(pb.Steps))
	byID := make(map[string]*model.Step, len(pb.Steps))
	for i := range pb.Steps {
		s := &pb.Steps[i]
		if !stepIDPattern.MatchString(s.StepID) {
			issues = append(issues, Issue{StepID: s.StepID, Reason: "step_id must match [a-z][a-z0-9_]*"})
		}
		if seen[s.StepID] {
			issues = append(issues, Issue{StepID: s.StepID, Reason: "duplicate step_id"})
		}
		seen[s.StepID] = true
		byID[s.StepID] = s
	}

	for i := range pb.Steps {
		s := &pb.Steps[i]
		issues = append(issues, validateStep(s, byID)...)
	}

	issues = append(issues, checkReachability(pb, byID)...)
	issues = append(issues, checkCycles(pb, byID)...)

	return Result{Issues: issues}
}

func validateStep(s *model.Step, byID map[string]*model.Step) []Issue {
	var issues []Issue

	if !s.Type.IsValid() {
		issues = append(issues, Issue{StepID: s.StepID, Reason: fmt.Sprintf("unknown step type %q", s.Type)})
		return issues
	}

	switch s.Type {
	case model.StepCondition:
		issues = append(issues, validateCondition(s, byID)...)
	case model.StepApproval:
		issues = append(issues, validateApproval(s, byID)...)
	case model.StepEnrichment, model.StepAction, model.StepNotification:
		issues = append(issues, validateConnectorStep(s)...)
	}

	if s.OnSuccess.Mode == model.SuccessGoto {
		if !resolvesToStep(s.OnSuccess.Goto, byID) {
			issues = append(issues, Issue{StepID: s.StepID, Reason: fmt.Sprintf("on_success.goto %q does not resolve", s.OnSuccess.Goto)})
		}
	}

	// An empty on_failure is accepted: the dispatcher treats it as stop.
	if s.Type != model.StepApproval && s.OnFailure != "" && !s.OnFailure.IsValid() {
		issues = append(issues, Issue{StepID: s.StepID, Reason: fmt.Sprintf("invalid on_failure %q", s.OnFailure)})
	}

	return issues
}

func validateCondition(s *model.Step, byID map[string]*model.Step) []Issue {
	var issues []Issue
	if s.Condition == nil {
		return []Issue{{StepID: s.StepID, Reason: "condition step missing condition spec"}}
	}
	if s.Condition.Field == "" {
		issues = append(issues, Issue{StepID: s.StepID, Reason: "condition.field is required"})
	}
	if !s.Condition.Operator.IsValid() {
		issues = append(issues, Issue{StepID: s.StepID, Reason: fmt.Sprintf("invalid condition.operator %q", s.Condition.Operator)})
	}
	if s.Condition.OnTrue == "" {
		issues = append(issues, Issue{StepID: s.StepID, Reason: "condition.on_true is required"})
	} else if !resolvesToStep(s.Condition.OnTrue, byID) {
		issues = append(issues, Issue{StepID: s.StepID, Reason: fmt.Sprintf("condition.on_true %q does not resolve", s.Condition.OnTrue)})
	}
	if s.Condition.OnFalse == "" {
		issues = append(issues, Issue{StepID: s.StepID, Reason: "condition.on_false is required"})
	} else if !resolvesToStep(s.Condition.OnFalse, byID) {
		issues = append(issues, Issue{StepID: s.StepID, Reason: fmt.Sprintf("condition.on_false %q does not resolve", s.Condition.OnFalse)})
	}
	return issues
}

func validateApproval(s *model.Step, byID map[string]*model.Step) []Issue {
	var issues []Issue
	if s.Approval == nil {
		return []Issue{{StepID: s.StepID, Reason: "approval step missing approval spec"}}
	}
	if len(s.Approval.Approvers) == 0 {
		issues = append(issues, Issue{StepID: s.StepID, Reason: "approval.approvers must be non-empty"})
	}
	if s.Approval.TimeoutHours <= 0 {
		issues = append(issues, Issue{StepID: s.StepID, Reason: "approval.timeout_hours is required"})
	}
	if s.Approval.OnTimeout == "" {
		issues = append(issues, Issue{StepID: s.StepID, Reason: "approval.on_timeout is required"})
	} else if !onTimeoutTerminals[s.Approval.OnTimeout] && !resolvesToStep(s.Approval.OnTimeout, byID) {
		issues = append(issues, Issue{StepID: s.StepID, Reason: fmt.Sprintf("approval.on_timeout %q does not resolve", s.Approval.OnTimeout)})
	}
	return issues
}

func validateConnectorStep(s *model.Step) []Issue {
	var issues []Issue
	if s.Connector == nil {
		return []Issue{{StepID: s.StepID, Reason: "step missing connector spec"}}
	}
	if s.Connector.ConnectorID == "" {
		issues = append(issues, Issue{StepID: s.StepID, Reason: "connector.connector_id is required"})
	}
	if s.Connector.ActionType == "" {
		issues = append(issues, Issue{StepID: s.StepID, Reason: "connector.action_type is required"})
	}
	return issues
}

func resolvesToStep(target string, byID map[string]*model.Step) bool {
	if target == model.EndSentinel {
		return true
	}
	_, ok := byID[target]
	return ok
}

// checkReachability walks the declared edges (on_success.goto, condition
// branches, approval outcomes, and fall-through to the next declared step)
// from the entry step and flags any step neither reached nor the entry
// itself.
func checkReachability(pb *model.Playbook, byID map[string]*model.Step) []Issue {
	entry := pb.EntryStepID()
	if entry == "" {
		return nil
	}

	reached := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		step, ok := byID[id]
		if !ok {
			continue
		}
		for _, next := range outEdges(step, pb, byID) {
			if next == model.EndSentinel || reached[next] {
				continue
			}
			reached[next] = true
			queue = append(queue, next)
		}
	}

	var issues []Issue
	for i := range pb.Steps {
		s := &pb.Steps[i]
		if s.StepID != entry && !reached[s.StepID] {
			issues = append(issues, Issue{StepID: s.StepID, Reason: "unreachable from entry step"})
		}
	}
	return issues
}

// outEdges enumerates the step ids a step can transition to. For
// non-branching steps the implicit successor is the next declared step
// (spec "steps execute in declared order" default), unless on_success
// overrides it.
func outEdges(s *model.Step, pb *model.Playbook, byID map[string]*model.Step) []string {
	switch s.Type {
	case model.StepCondition:
		if s.Condition == nil {
			return nil
		}
		return []string{s.Condition.OnTrue, s.Condition.OnFalse}
	case model.StepApproval:
		if s.Approval == nil {
			return nil
		}
		edges := []string{}
		for _, target := range []string{s.Approval.OnApproved, s.Approval.OnRejected, s.Approval.OnTimeout} {
			if target != "" && resolvesToStep(target, byID) {
				edges = append(edges, target)
			}
		}
		edges = append(edges, fallThrough(s, pb)...)
		return edges
	default:
		if s.OnSuccess.Mode == model.SuccessGoto && s.OnSuccess.Goto != "" {
			return []string{s.OnSuccess.Goto}
		}
		if s.OnSuccess.Mode == model.SuccessEnd {
			return nil
		}
		return fallThrough(s, pb)
	}
}

func fallThrough(s *model.Step, pb *model.Playbook) []string {
	for i := range pb.Steps {
		if pb.Steps[i].StepID == s.StepID && i+1 < len(pb.Steps) {
			return []string{pb.Steps[i+1].StepID}
		}
	}
	return nil
}

// checkCycles walks the same declared edges as checkReachability, from
// every step rather than just the entry, with a DFS recursion stack
// (unvisited/inStack/done). A back edge into a step still inStack closes a
// cycle; every step between that ancestor and the current one is flagged,
// since the step graph must terminate.
func checkCycles(pb *model.Playbook, byID map[string]*model.Step) []Issue {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(pb.Steps))
	cyclic := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		if id == model.EndSentinel {
			return
		}
		step, ok := byID[id]
		if !ok {
			return
		}
		switch state[id] {
		case inStack:
			for i := len(stack) - 1; i >= 0; i-- {
				cyclic[stack[i]] = true
				if stack[i] == id {
					break
				}
			}
			return
		case done:
			return
		}

		state[id] = inStack
		stack = append(stack, id)
		for _, next := range outEdges(step, pb, byID) {
			visit(next)
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for i := range pb.Steps {
		visit(pb.Steps[i].StepID)
	}

	var issues []Issue
	for i := range pb.Steps {
		s := &pb.Steps[i]
		if cyclic[s.StepID] {
			issues = append(issues, Issue{StepID: s.StepID, Reason: "step participates in a cycle"})
		}
	}
	return issues
}
