// internal/rules/parse.go
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/solatis/aem/internal/types"
)

/*
 * Rule parsing and marshaling.
 *
 * Wire dialect: every object has exactly one key.
 *   {"and": [ {...}, {...} ]}             combinator
 *   {"fb_content[*].id": {"is_any": [..]}} leaf: key = param path, value = {op: operand}
 *
 * The outer key is looked up in the operator table case-insensitively. A
 * combinator name selects the combinator branch; anything else (including
 * names that resolve to a leaf operator or to "unknown") is treated as a
 * parameter path and the operator is read from the nested single-key object.
 *
 * Parse failures are all-or-nothing: one bad child fails the whole tree.
 */

// Parse decodes a JSON rule into an Expression.
func Parse(data []byte) (Expression, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	return ParseMap(raw)
}

// ParseMap builds an Expression from an already decoded rule object.
func ParseMap(raw map[string]any) (Expression, error) {
	return parseNode(raw, 0)
}

func parseNode(raw map[string]any, depth int) (Expression, error) {
	if depth > types.MaxRuleDepth {
		return nil, types.ErrRuleTooDeep
	}
	key, value, err := singleEntry(raw)
	if err != nil {
		return nil, err
	}

	op := ParseOperator(key)
	if op.IsCombinator() {
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			return nil, fmt.Errorf("%w: %s needs a non-empty list", types.ErrEmptyExpression, op)
		}
		children := make([]Expression, 0, len(list))
		for i, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s child %d is not an object", types.ErrEmptyExpression, op, i)
			}
			child, err := parseNode(obj, depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		comb, err := NewCombinator(op, children)
		if err != nil {
			return nil, err
		}
		return comb, nil
	}

	// Leaf: key is the parameter path.
	inner, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: predicate on %q is not an object", types.ErrMissingOperand, key)
	}
	opName, operand, err := singleEntry(inner)
	if err != nil {
		return nil, err
	}
	if operand == nil {
		return nil, fmt.Errorf("%w: %s on %q", types.ErrMissingOperand, opName, key)
	}
	leaf, err := NewLeaf(ParseOperator(opName), key, operand)
	if err != nil {
		return nil, err
	}
	return leaf, nil
}

// singleEntry returns the only key/value of obj.
func singleEntry(obj map[string]any) (string, any, error) {
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one key, got %d", types.ErrEmptyExpression, len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, types.ErrEmptyExpression
}

// Marshal encodes an Expression in the same dialect Parse accepts.
func Marshal(expr Expression) ([]byte, error) {
	obj, err := toMap(expr)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func toMap(expr Expression) (map[string]any, error) {
	switch e := expr.(type) {
	case *Combinator:
		if e == nil {
			break
		}
		children := make([]any, 0, len(e.Children))
		for _, c := range e.Children {
			m, err := toMap(c)
			if err != nil {
				return nil, err
			}
			children = append(children, m)
		}
		return map[string]any{e.Operator.String(): children}, nil
	case *Leaf:
		if e == nil {
			break
		}
		return map[string]any{
			e.Path(): map[string]any{e.Operator.String(): e.operand()},
		}, nil
	}
	return nil, fmt.Errorf("%w: unsupported node %T", types.ErrEmptyExpression, expr)
}
