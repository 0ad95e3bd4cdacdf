package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/model"
)

func payload() map[string]any {
	return map[string]any{
		"rule":     map[string]any{"id": "5710", "level": float64(12)},
		"severity": "high",
		"data": map[string]any{
			"srcip": "10.0.0.5",
			"user":  "root",
		},
		"tags": []any{"bruteforce", "ssh"},
	}
}

func trig(match model.MatchMode, preds ...model.Predicate) *model.Trigger {
	return &model.Trigger{Match: match, Predicates: preds}
}

func TestEvaluate_EmptyPredicatesAlwaysMatch(t *testing.T) {
	e := New()
	res, err := e.Evaluate(trig(model.MatchAll), payload())
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestEvaluate_AllModeRequiresEveryPredicate(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "severity", Operator: model.OpEquals, Value: "high"},
		model.Predicate{Field: "data.user", Operator: model.OpEquals, Value: "admin"},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, DropReasonNotSatisfied, res.DropReason)
}

func TestEvaluate_AnyModeShortCircuitsOnFirstMatch(t *testing.T) {
	e := New()
	tr := trig(model.MatchAny,
		model.Predicate{Field: "severity", Operator: model.OpEquals, Value: "low"},
		model.Predicate{Field: "data.user", Operator: model.OpEquals, Value: "root"},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestEvaluate_ExistsAndNotExists(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "rule.id", Operator: model.OpExists},
		model.Predicate{Field: "rule.missing", Operator: model.OpNotExists},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestEvaluate_UndefinedFieldFailsPositiveOperators(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "nope.nope", Operator: model.OpEquals, Value: "x"},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestEvaluate_UndefinedFieldSatisfiesNegativeOperators(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "nope.nope", Operator: model.OpNotEquals, Value: "x"},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestEvaluate_NumericComparison(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "rule.level", Operator: model.OpGreaterEqual, Value: float64(10)},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestEvaluate_HeterogeneousTypesNeverMatchEquals(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "rule.level", Operator: model.OpEquals, Value: "12"},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.False(t, res.Matched, "comparing a number field against a string literal must not match")
}

func TestEvaluate_ContainsOnArray(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "tags", Operator: model.OpContains, Value: "ssh"},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestEvaluate_InOperatorRequiresArrayValue(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "severity", Operator: model.OpIn, Value: "not-an-array"},
	)
	_, err := e.Evaluate(tr, payload())
	assert.Error(t, err)
}

func TestEvaluate_InOperatorMatchesMembership(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "severity", Operator: model.OpIn, Value: []any{"low", "high"}},
	)
	res, err := e.Evaluate(tr, payload())
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestEvaluate_RegexMatchIsCachedAcrossCalls(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "data.srcip", Operator: model.OpRegexMatch, Value: `^10\.`},
	)
	for i := 0; i < 3; i++ {
		res, err := e.Evaluate(tr, payload())
		require.NoError(t, err)
		assert.True(t, res.Matched)
	}
	assert.Len(t, e.regexpsByPattern, 1)
}

func TestEvaluate_InvalidRegexIsAnError(t *testing.T) {
	e := New()
	tr := trig(model.MatchAll,
		model.Predicate{Field: "data.srcip", Operator: model.OpRegexMatch, Value: "("},
	)
	_, err := e.Evaluate(tr, payload())
	assert.Error(t, err)
}
