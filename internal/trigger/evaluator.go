// Package trigger implements the trigger predicate evaluator (spec §4.C):
// given a trigger's ordered predicate list and match combinator, decide
// whether an alert payload is accepted or dropped.
package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cyberguard/soar-engine/internal/model"
	"github.com/cyberguard/soar-engine/internal/pathval"
)

// DropReasonNotSatisfied is returned in Result.DropReason when predicates do
// not match, per spec §4.C.
const DropReasonNotSatisfied = "matching_rules_not_satisfied"

// Result is the evaluator's accept/drop verdict.
type Result struct {
	Matched    bool
	DropReason string
}

// Evaluator applies a Trigger's predicates to a payload. Compiled regexes
// are cached because the same trigger is evaluated on every delivery to its
// webhook.
type Evaluator struct {
	mu               sync.Mutex
	regexpsByPattern map[string]*regexp.Regexp
}

// New returns a ready-to-use Evaluator.
func New() *Evaluator {
	return &Evaluator{regexpsByPattern: make(map[string]*regexp.Regexp)}
}

// Evaluate applies trig's predicates to payload per the declared Match mode.
// An empty predicate list matches under either Match mode ("admit
// everything"); the evaluator does not require at least one predicate.
func (e *Evaluator) Evaluate(trig *model.Trigger, payload any) (Result, error) {
	if len(trig.Predicates) == 0 {
		return Result{Matched: true}, nil
	}

	switch trig.Match {
	case model.MatchAny:
		for _, p := range trig.Predicates {
			ok, err := e.evalOne(p, payload)
			if err != nil {
				return Result{}, err
			}
			if ok {
				return Result{Matched: true}, nil
			}
		}
		return Result{Matched: false, DropReason: DropReasonNotSatisfied}, nil
	default: // model.MatchAll and any unrecognized value fail closed to ALL semantics
		for _, p := range trig.Predicates {
			ok, err := e.evalOne(p, payload)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				return Result{Matched: false, DropReason: DropReasonNotSatisfied}, nil
			}
		}
		return Result{Matched: true}, nil
	}
}

// EvaluateCondition applies a condition step's predicate to a value already
// resolved by the variable resolver (spec §4.G "evaluate the predicate
// using the resolver"), the same operator semantics a trigger predicate
// uses against a raw payload field.
func (e *Evaluator) EvaluateCondition(cond *model.ConditionSpec, resolved any) (bool, error) {
	return e.evalResolved(cond.Operator, resolved, cond.Value)
}

func (e *Evaluator) evalOne(p model.Predicate, payload any) (bool, error) {
	resolved := pathval.Get(payload, p.Field)
	return e.evalResolved(p.Operator, resolved, p.Value)
}

func (e *Evaluator) evalResolved(operator model.Operator, resolved, want any) (bool, error) {
	switch operator {
	case model.OpExists:
		return !pathval.IsUndefined(resolved), nil
	case model.OpNotExists:
		return pathval.IsUndefined(resolved), nil
	}

	// Every remaining operator treats an undefined field as non-matching,
	// except not_equals/not_contains/not_in which are the logical negation
	// of their positive counterpart evaluated against an undefined value
	// (itself never equal/contained), so they report true.
	if pathval.IsUndefined(resolved) {
		switch operator {
		case model.OpNotEquals, model.OpNotContains, model.OpNotIn:
			return true, nil
		default:
			return false, nil
		}
	}

	p := model.Predicate{Operator: operator, Value: want}
	switch operator {
	case model.OpEquals:
		return looseEqual(resolved, p.Value), nil
	case model.OpNotEquals:
		return !looseEqual(resolved, p.Value), nil
	case model.OpLessThan, model.OpLessOrEqual, model.OpGreaterThan, model.OpGreaterEqual:
		return e.compareNumeric(p.Operator, resolved, p.Value)
	case model.OpContains:
		return containsValue(resolved, p.Value), nil
	case model.OpNotContains:
		return !containsValue(resolved, p.Value), nil
	case model.OpStartsWith:
		return strings.HasPrefix(pathval.Stringify(resolved), pathval.Stringify(p.Value)), nil
	case model.OpEndsWith:
		return strings.HasSuffix(pathval.Stringify(resolved), pathval.Stringify(p.Value)), nil
	case model.OpRegexMatch:
		return e.regexMatch(p.Value, pathval.Stringify(resolved))
	case model.OpIn:
		return e.inSet(resolved, p.Value)
	case model.OpNotIn:
		ok, err := e.inSet(resolved, p.Value)
		return !ok, err
	default:
		return false, fmt.Errorf("trigger: unknown operator %q", p.Operator)
	}
}

// looseEqual compares heterogeneous-type values for equals/not_equals:
// same-type values compare directly, differing types are false (per the
// spec's "comparison on heterogeneous types yields false except for
// equals/not_equals" — meaning equals/not_equals are well-defined *across*
// types, and the well-defined answer for mismatched types is "not equal").
func looseEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case int:
			return av == float64(bv)
		default:
			return false
		}
	case int:
		switch bv := b.(type) {
		case int:
			return av == bv
		case float64:
			return float64(av) == bv
		default:
			return false
		}
	case nil:
		return b == nil
	default:
		return false
	}
}

func (e *Evaluator) compareNumeric(op model.Operator, resolved, want any) (bool, error) {
	rf, rok := toFloat(resolved)
	wf, wok := toFloat(want)
	if !rok || !wok {
		return false, nil
	}
	switch op {
	case model.OpLessThan:
		return rf < wf, nil
	case model.OpLessOrEqual:
		return rf <= wf, nil
	case model.OpGreaterThan:
		return rf > wf, nil
	case model.OpGreaterEqual:
		return rf >= wf, nil
	default:
		return false, fmt.Errorf("trigger: %q is not a numeric comparison operator", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func containsValue(resolved, want any) bool {
	switch rv := resolved.(type) {
	case string:
		return strings.Contains(rv, pathval.Stringify(want))
	case []any:
		for _, item := range rv {
			if looseEqual(item, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (e *Evaluator) inSet(resolved, want any) (bool, error) {
	set, ok := want.([]any)
	if !ok {
		return false, fmt.Errorf("trigger: 'in'/'not_in' requires an array value")
	}
	for _, item := range set {
		if looseEqual(resolved, item) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) regexMatch(pattern any, s string) (bool, error) {
	pat, ok := pattern.(string)
	if !ok {
		return false, fmt.Errorf("trigger: regex_match requires a string pattern")
	}
	e.mu.Lock()
	re, cached := e.regexpsByPattern[pat]
	e.mu.Unlock()
	if !cached {
		compiled, err := regexp.Compile(pat)
		if err != nil {
			return false, fmt.Errorf("trigger: invalid regex %q: %w", pat, err)
		}
		re = compiled
		e.mu.Lock()
		e.regexpsByPattern[pat] = re
		e.mu.Unlock()
	}
	return re.MatchString(s), nil
}
