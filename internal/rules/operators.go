// internal/rules/operators.go
package rules

import (
	"slices"
	"strings"
)

/*
 * Operator table and leaf comparison logic.
 *
 * The operator name table is positional: the index of a name is the ordinal
 * of the Operator. The same table drives parsing (name -> Operator) and
 * marshaling (Operator -> name), so the ordering must never change.
 *
 * Operand kinds:
 *   - combinators (and/or/not): no operand, children instead
 *   - text (contains ... neq): string operand
 *   - relational (lt/lte/gt/gte): number operand
 *   - set (i_is_any ... is_not_any): string list operand
 *
 * Case sensitivity: contains/not_contains/starts_with/eq/neq/is_any/is_not_any
 * compare exactly; the i_ variants fold case on both sides.
 */

// Operator enumerates rule operators. Values are ordinals into operatorNames.
type Operator int

const (
	OpUnknown Operator = iota
	OpAnd
	OpOr
	OpNot
	OpContains
	OpNotContains
	OpStartsWith
	OpIContains
	OpINotContains
	OpIStartsWith
	OpRegexMatch
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpIIsAny
	OpIIsNotAny
	OpIsAny
	OpIsNotAny
)

var operatorNames = [...]string{
	"unknown",
	"and",
	"or",
	"not",
	"contains",
	"not_contains",
	"starts_with",
	"i_contains",
	"i_not_contains",
	"i_starts_with",
	"regex_match",
	"eq",
	"neq",
	"lt",
	"lte",
	"gt",
	"gte",
	"i_is_any",
	"i_is_not_any",
	"is_any",
	"is_not_any",
}

// OperandKind describes which operand a leaf operator requires.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandString
	OperandNumber
	OperandSet
)

// ParseOperator looks up name case-insensitively. Unrecognized names yield OpUnknown.
func ParseOperator(name string) Operator {
	lower := strings.ToLower(name)
	for i, n := range operatorNames {
		if n == lower {
			return Operator(i)
		}
	}
	return OpUnknown
}

// String returns the wire name of the operator.
func (o Operator) String() string {
	if o < 0 || int(o) >= len(operatorNames) {
		return operatorNames[OpUnknown]
	}
	return operatorNames[o]
}

// IsCombinator reports whether o combines child expressions.
func (o Operator) IsCombinator() bool {
	return o == OpAnd || o == OpOr || o == OpNot
}

// OperandKind returns the operand a leaf with this operator must carry.
func (o Operator) OperandKind() OperandKind {
	switch o {
	case OpContains, OpNotContains, OpStartsWith,
		OpIContains, OpINotContains, OpIStartsWith,
		OpRegexMatch, OpEq, OpNeq:
		return OperandString
	case OpLt, OpLte, OpGt, OpGte:
		return OperandNumber
	case OpIIsAny, OpIIsNotAny, OpIsAny, OpIsNotAny:
		return OperandSet
	default:
		return OperandNone
	}
}

// compareLeaf applies the leaf operator to a resolved parameter value.
// Values that coerce to neither text nor number never match.
func (e *Engine) compareLeaf(leaf *Leaf, value any) bool {
	text, hasText := asText(value)
	num, hasNum := asNumber(value)
	if !hasText && !hasNum {
		return false
	}

	switch leaf.Operator {
	case OpContains:
		return hasText && strings.Contains(text, *leaf.String)
	case OpNotContains:
		return hasText && !strings.Contains(text, *leaf.String)
	case OpStartsWith:
		return hasText && strings.HasPrefix(text, *leaf.String)
	case OpIContains:
		return hasText && strings.Contains(strings.ToLower(text), strings.ToLower(*leaf.String))
	case OpINotContains:
		return hasText && !strings.Contains(strings.ToLower(text), strings.ToLower(*leaf.String))
	case OpIStartsWith:
		return hasText && strings.HasPrefix(strings.ToLower(text), strings.ToLower(*leaf.String))
	case OpRegexMatch:
		return hasText && e.regexMatch(*leaf.String, text)
	case OpEq:
		return hasText && text == *leaf.String
	case OpNeq:
		return hasText && text != *leaf.String
	case OpLt:
		return hasNum && num < *leaf.Number
	case OpLte:
		return hasNum && num <= *leaf.Number
	case OpGt:
		return hasNum && num > *leaf.Number
	case OpGte:
		return hasNum && num >= *leaf.Number
	case OpIIsAny:
		return hasText && containsFold(leaf.Set, text)
	case OpIIsNotAny:
		return hasText && !containsFold(leaf.Set, text)
	case OpIsAny:
		return hasText && slices.Contains(leaf.Set, text)
	case OpIsNotAny:
		return hasText && !slices.Contains(leaf.Set, text)
	default:
		return false
	}
}

// containsFold reports whether set holds s under Unicode case folding.
func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
