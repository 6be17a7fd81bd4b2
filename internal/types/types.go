// Package types provides domain primitives shared across the AEM reporter.
//
// Zero-dependency design: types.go and errors.go use only the standard library
// so that the rule engine and the attribution model can import them without
// pulling in storage or transport deps. ID utilities in ids.go import uuid.
package types

import "encoding/json"

// InvocationID identifies a single click attribution record.
// UUIDv7 time-ordering keeps persisted invocation lists roughly creation ordered.
type InvocationID string

// Params is the parameter bag of an in-app event.
// Values are scalars, nested Params/map[string]any, or lists ([]any).
type Params map[string]any

// Clone returns a shallow copy of p. Nested values are shared.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RawConfiguration is one undecoded configuration item as delivered by the server.
type RawConfiguration = json.RawMessage

// Resource limits enforced by the rule engine and the reporter.
const (
	// MaxPathDepth prevents stack overflow during recursive parameter resolution.
	MaxPathDepth = 16

	// MaxRuleDepth bounds combinator nesting accepted by the parser.
	MaxRuleDepth = 32

	// MaxSetOperandValues limits is_any/is_not_any operand size.
	MaxSetOperandValues = 1024

	// MaxRegexCacheSize caps the number of compiled regex_match patterns kept in memory.
	MaxRegexCacheSize = 512
)
