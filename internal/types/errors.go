package types

import "errors"

// Sentinel errors for rule parsing.
var (
	// ErrEmptyExpression indicates a rule object without keys or a combinator without children.
	ErrEmptyExpression = errors.New("rule expression is empty")

	// ErrInvalidOperator indicates an operator that cannot be used in this position.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrOperandMismatch indicates a leaf operand whose kind does not fit the operator.
	ErrOperandMismatch = errors.New("operand kind does not match operator")

	// ErrMissingOperand indicates a leaf without an operand or with an empty one.
	ErrMissingOperand = errors.New("missing operand")

	// ErrPathTooDeep indicates a parameter path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("parameter path exceeds maximum depth")

	// ErrRuleTooDeep indicates combinator nesting exceeds MaxRuleDepth.
	ErrRuleTooDeep = errors.New("rule nesting exceeds maximum depth")

	// ErrTooManySetValues indicates a set operand exceeds MaxSetOperandValues.
	ErrTooManySetValues = errors.New("set operand has too many values")
)

// Sentinel errors for the attribution model.
var (
	// ErrInvalidConfiguration indicates a configuration item missing required fields.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrMissingMatchingRule indicates a business scoped configuration without param_rule.
	ErrMissingMatchingRule = errors.New("business scoped configuration requires a matching rule")

	// ErrNoValueRules indicates a configuration without conversion value rules.
	ErrNoValueRules = errors.New("configuration has no conversion value rules")

	// ErrInvalidValueRule indicates a malformed conversion value rule.
	ErrInvalidValueRule = errors.New("invalid conversion value rule")

	// ErrInvalidDeepLink indicates a URL without usable al_applink_data.
	ErrInvalidDeepLink = errors.New("invalid deep link")
)

// Sentinel errors for reporting and persistence.
var (
	// ErrNotFound indicates a missing key in the durable store.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedVersion indicates a persisted blob written by a newer schema.
	ErrUnsupportedVersion = errors.New("unsupported persistence version")

	// ErrMalformedRecord indicates a persisted blob that cannot be framed.
	ErrMalformedRecord = errors.New("malformed persistence record")

	// ErrReporterStopped indicates the reporter run loop has exited.
	ErrReporterStopped = errors.New("reporter stopped")
)
