// internal/rules/evaluate.go
package rules

/*
 * Rule evaluation.
 *
 * A single recursive function over the Expression variant:
 *   - and: every child matches (empty and is true)
 *   - or:  some child matches (empty or is false)
 *   - not: no child matches; with several children this is "none of",
 *          not the negation of one operand
 *   - leaf: resolve the parameter path, then compare (fieldpath.go, operators.go)
 *
 * Evaluation is pure and never fails: a nil expression or a missing value
 * is simply a non-match.
 */

// Evaluate reports whether params satisfy expr using the default engine.
func Evaluate(expr Expression, params map[string]any) bool {
	return defaultEngine.Evaluate(expr, params)
}

// Evaluate reports whether params satisfy expr.
func (e *Engine) Evaluate(expr Expression, params map[string]any) bool {
	switch n := expr.(type) {
	case *Combinator:
		if n == nil {
			return false
		}
		switch n.Operator {
		case OpAnd:
			for _, c := range n.Children {
				if !e.Evaluate(c, params) {
					return false
				}
			}
			return true
		case OpOr:
			for _, c := range n.Children {
				if e.Evaluate(c, params) {
					return true
				}
			}
			return false
		case OpNot:
			for _, c := range n.Children {
				if e.Evaluate(c, params) {
					return false
				}
			}
			return true
		default:
			return false
		}
	case *Leaf:
		if n == nil {
			return false
		}
		return e.matchPath(n, params, n.ParamPath)
	default:
		return false
	}
}
