// internal/rules/expression.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/aem/internal/types"
)

/*
 * Rule expression tree.
 *
 * An Expression is a closed variant of exactly two shapes:
 *   - *Combinator: and/or/not over ordered children
 *   - *Leaf: one predicate over a dot-separated parameter path
 *
 * The interface is sealed through an unexported method so evaluation can be
 * a single type switch (see evaluate.go). Trees are immutable after
 * construction; constructors enforce the operand invariants so evaluation
 * never has to re-check them.
 */

// Expression is a node in a rule tree: *Combinator or *Leaf.
type Expression interface {
	expression()
}

// Combinator joins child expressions with and/or/not.
type Combinator struct {
	Operator Operator
	Children []Expression
}

// Leaf is a single predicate over one parameter path.
// Exactly one operand field is set, matching Operator.OperandKind().
type Leaf struct {
	Operator  Operator
	ParamPath []string
	String    *string
	Number    *float64
	Set       []string
}

func (*Combinator) expression() {}
func (*Leaf) expression()       {}

// NewCombinator builds an and/or/not node. Children may be empty only when
// built programmatically; the parser rejects empty lists.
func NewCombinator(op Operator, children []Expression) (*Combinator, error) {
	if !op.IsCombinator() {
		return nil, fmt.Errorf("%w: %s is not a combinator", types.ErrInvalidOperator, op)
	}
	for i, c := range children {
		if c == nil {
			return nil, fmt.Errorf("%w: child %d is nil", types.ErrEmptyExpression, i)
		}
	}
	return &Combinator{Operator: op, Children: children}, nil
}

// NewLeaf builds a predicate over paramPath (dot separated).
// operand must be a string, a number or a []string as the operator requires.
func NewLeaf(op Operator, paramPath string, operand any) (*Leaf, error) {
	kind := op.OperandKind()
	if kind == OperandNone {
		return nil, fmt.Errorf("%w: %s cannot be used on a parameter", types.ErrInvalidOperator, op)
	}
	if paramPath == "" {
		return nil, fmt.Errorf("%w: empty parameter path", types.ErrEmptyExpression)
	}
	path := strings.Split(paramPath, ".")
	if len(path) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}

	leaf := &Leaf{Operator: op, ParamPath: path}
	switch kind {
	case OperandString:
		s, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants a string, got %T", types.ErrOperandMismatch, op, operand)
		}
		if s == "" {
			return nil, fmt.Errorf("%w: %s on %s", types.ErrMissingOperand, op, paramPath)
		}
		leaf.String = &s
	case OperandNumber:
		n, ok := asOperandNumber(operand)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants a number, got %T", types.ErrOperandMismatch, op, operand)
		}
		leaf.Number = &n
	case OperandSet:
		set, ok := asOperandSet(operand)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants a list of strings, got %T", types.ErrOperandMismatch, op, operand)
		}
		if len(set) == 0 {
			return nil, fmt.Errorf("%w: %s on %s", types.ErrMissingOperand, op, paramPath)
		}
		if len(set) > types.MaxSetOperandValues {
			return nil, types.ErrTooManySetValues
		}
		leaf.Set = set
	}
	return leaf, nil
}

// asOperandNumber accepts native numbers only; numeric strings are not operands.
func asOperandNumber(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return asNumber(v)
}

// asOperandSet accepts []string or a JSON-decoded []any of strings.
func asOperandSet(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}

// Path returns the dot-joined parameter path.
func (l *Leaf) Path() string {
	return strings.Join(l.ParamPath, ".")
}

// operand returns the leaf operand in its JSON form.
func (l *Leaf) operand() any {
	switch {
	case l.String != nil:
		return *l.String
	case l.Number != nil:
		return *l.Number
	default:
		return l.Set
	}
}
