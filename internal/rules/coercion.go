// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"strconv"
	"strings"
)

/*
 * Value coercion for leaf evaluation.
 *
 * Event parameters arrive from JSON decoding (float64, string, bool,
 * json.Number) or from Go callers (int, int64, float32). A leaf needs either
 * a text view or a numeric view of the value depending on its operator.
 *
 *   - asText: lenient, every scalar has a text form; containers do not
 *   - asNumber: strict, numbers and numeric strings only; booleans rejected
 *
 * Nil, maps and lists coerce to nothing, which the caller treats as a
 * non-match rather than an error.
 */

// asText returns the string form of a scalar value.
func asText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// asNumber returns the float64 form of a numeric value or numeric string.
// Whitespace-only strings are not numbers.
func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToNumber exposes numeric coercion to callers that sum parameter values
// (e.g. item_price × quantity) with the same rules the evaluator applies.
func ToNumber(value any) (float64, bool) {
	return asNumber(value)
}
