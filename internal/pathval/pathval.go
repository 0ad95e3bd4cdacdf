// Package pathval resolves dotted field paths against untyped JSON-like
// payloads, shared by the trigger evaluator (internal/trigger), the event
// normalizer (internal/normalize), and the variable resolver
// (internal/resolve).
package pathval

import (
	"strconv"
	"strings"
)

// undefined is a distinguishable sentinel distinct from "value resolved to
// nil" — the spec's operators treat "undefined" and "present but null"
// differently (e.g. exists/not_exists).
type undefinedType struct{}

// Undefined is returned by Get when the dotted path does not resolve.
var Undefined = undefinedType{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

// Get resolves a dotted path through nested maps and numeric array indices.
// "data.srcip", "tags.0", "rule.id" are all valid paths. A missing key or an
// out-of-range/non-numeric array index yields Undefined, never an error —
// callers decide how to treat undefined per spec §4.C/§4.F.
func Get(root any, path string) any {
	if path == "" {
		return Undefined
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return Undefined
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return Undefined
			}
			cur = node[idx]
		default:
			return Undefined
		}
	}
	return cur
}

// GetString resolves a path and coerces the result to its string form.
// Undefined yields ("", false).
func GetString(root any, path string) (string, bool) {
	v := Get(root, path)
	if IsUndefined(v) {
		return "", false
	}
	return Stringify(v), true
}

// Stringify renders a resolved value as a template/fingerprint-stable string.
// Numbers use Go's default formatting (no trailing zeros), booleans render
// as "true"/"false", and nil renders as the empty string.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
