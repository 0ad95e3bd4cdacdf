// Package resolve implements the variable resolver (spec §4.F): declarative
// input mappings (trigger_data.*, steps.<id>.output.*, playbook.*,
// literal:*) and {{...}} template substitution.
package resolve

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cyberguard/soar-engine/internal/pathval"
)

// ErrMissingInput is returned when a step's required input resolves to
// undefined (spec §4.F, surfaced by the engine as MISSING_INPUT).
var ErrMissingInput = errors.New("resolve: required input is undefined")

const (
	prefixTriggerData = "trigger_data."
	prefixSteps       = "steps."
	prefixPlaybook    = "playbook."
	prefixLiteral     = "literal:"
)

var templatePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Context is the data an execution makes available to the resolver: the
// immutable trigger payload, completed steps' outputs, and the playbook's
// static metadata.
type Context struct {
	TriggerData  any
	StepOutputs  map[string]map[string]any
	PlaybookMeta map[string]any
}

// Resolve evaluates a single "<source>.<path>" or "literal:<raw>"
// expression against c. An unrecognized source or an unresolved path
// yields pathval.Undefined.
func (c Context) Resolve(expr string) any {
	switch {
	case strings.HasPrefix(expr, prefixLiteral):
		return strings.TrimPrefix(expr, prefixLiteral)
	case strings.HasPrefix(expr, prefixTriggerData):
		return pathval.Get(c.TriggerData, strings.TrimPrefix(expr, prefixTriggerData))
	case strings.HasPrefix(expr, prefixPlaybook):
		return pathval.Get(c.PlaybookMeta, strings.TrimPrefix(expr, prefixPlaybook))
	case strings.HasPrefix(expr, prefixSteps):
		return c.resolveStepOutput(strings.TrimPrefix(expr, prefixSteps))
	default:
		return pathval.Undefined
	}
}

// resolveStepOutput parses "<step_id>.output.<path>" out of the remainder
// after the "steps." prefix has been stripped.
func (c Context) resolveStepOutput(rest string) any {
	const marker = ".output."
	idx := strings.Index(rest, marker)
	if idx < 0 {
		return pathval.Undefined
	}
	stepID, path := rest[:idx], rest[idx+len(marker):]
	output, ok := c.StepOutputs[stepID]
	if !ok {
		return pathval.Undefined
	}
	return pathval.Get(output, path)
}

// ResolveInputs resolves every entry of a step's declared input map. Any
// key also listed in required that resolves to undefined makes the whole
// call fail with ErrMissingInput, naming the offending key.
func (c Context) ResolveInputs(input map[string]string, required []string) (map[string]any, error) {
	requiredSet := make(map[string]bool, len(required))
	for _, k := range required {
		requiredSet[k] = true
	}

	resolved := make(map[string]any, len(input))
	for key, expr := range input {
		v := c.Resolve(expr)
		if pathval.IsUndefined(v) {
			if requiredSet[key] {
				return nil, fmt.Errorf("%w: %q (expression %q)", ErrMissingInput, key, expr)
			}
			continue
		}
		resolved[key] = v
	}
	return resolved, nil
}

// Template replaces every {{<source>.<path>}} placeholder in s with its
// stringified resolution. Missing paths render as the empty string, never
// an error — templates are best-effort display text (spec §4.F).
func (c Context) Template(s string) string {
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := templatePattern.FindStringSubmatch(match)[1]
		v := c.Resolve(inner)
		if pathval.IsUndefined(v) {
			return ""
		}
		return pathval.Stringify(v)
	})
}
