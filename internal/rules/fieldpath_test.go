// internal/rules/fieldpath_test.go
package rules

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/aem/internal/types"
)

func TestMatchPath_Normal(t *testing.T) {
	params := map[string]any{
		"fb_currency": "USD",
		"order": map[string]any{
			"items": []any{
				map[string]any{"sku": "A-1"},
				map[string]any{"sku": "B-2"},
			},
		},
		"fb_content": []any{
			map[string]any{"id": "abc", "quantity": 2.0},
			map[string]any{"id": "def", "quantity": 1.0},
		},
		"tags": []any{"sale", "new"},
		"typed": types.Params{
			"inner": types.Params{"k": "v"},
		},
	}

	tests := []struct {
		name string
		rule string
		want bool
	}{
		{name: "top level key", rule: `{"fb_currency": {"eq": "USD"}}`, want: true},
		{name: "wildcard any element", rule: `{"fb_content[*].id": {"eq": "def"}}`, want: true},
		{name: "wildcard no element", rule: `{"fb_content[*].id": {"eq": "xyz"}}`, want: false},
		{name: "nested wildcard", rule: `{"order.items[*].sku": {"starts_with": "B"}}`, want: true},
		{name: "terminal wildcard over scalars", rule: `{"tags[*]": {"eq": "new"}}`, want: true},
		{name: "wildcard relational", rule: `{"fb_content[*].quantity": {"gte": 2}}`, want: true},
		{name: "typed params bag", rule: `{"typed.inner.k": {"eq": "v"}}`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(mustParse(t, tt.rule), params); got != tt.want {
				t.Errorf("Evaluate(%s) = %v, want %v", tt.rule, got, tt.want)
			}
		})
	}
}

func TestMatchPath_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		params map[string]any
	}{
		{name: "missing key", rule: `{"a": {"eq": "x"}}`, params: map[string]any{}},
		{name: "nil value", rule: `{"a": {"neq": "x"}}`, params: map[string]any{"a": nil}},
		{name: "scalar where object expected", rule: `{"a.b": {"eq": "x"}}`, params: map[string]any{"a": "x"}},
		{name: "object where list expected", rule: `{"a[*].b": {"eq": "x"}}`, params: map[string]any{"a": map[string]any{"b": "x"}}},
		{name: "list without wildcard", rule: `{"a.b": {"eq": "x"}}`, params: map[string]any{"a": []any{map[string]any{"b": "x"}}}},
		{name: "empty list", rule: `{"a[*].b": {"neq": "x"}}`, params: map[string]any{"a": []any{}}},
		{name: "nil params", rule: `{"a": {"neq": "x"}}`, params: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Evaluate(mustParse(t, tt.rule), tt.params) {
				t.Errorf("Evaluate(%s) = true, want false", tt.rule)
			}
		})
	}
}

// Property: resolution never panics for arbitrary path shapes.
func TestMatchPath_PropertyNeverCrashes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	params := map[string]any{
		"key": []any{map[string]any{"key": "value"}, "scalar", nil},
	}

	properties.Property("resolution never crashes regardless of path", prop.ForAll(
		func(depth int, wildcardEvery int) bool {
			segs := make([]string, depth)
			for i := range segs {
				if wildcardEvery > 0 && i%wildcardEvery == 0 {
					segs[i] = "key[*]"
				} else {
					segs[i] = "key"
				}
			}

			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Evaluate() panicked: %v", r)
				}
			}()

			leaf, err := NewLeaf(OpEq, strings.Join(segs, "."), "value")
			if err != nil {
				return depth > types.MaxPathDepth
			}
			Evaluate(leaf, params)
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

// Property: wildcard matching is independent of element order.
func TestMatchPath_PropertyWildcardOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	leaf := mustLeaf(OpEq, "items[*].id", "target")

	properties.Property("match found at any position", prop.ForAll(
		func(n int, pos int) bool {
			items := make([]any, n)
			for i := range items {
				items[i] = map[string]any{"id": "other"}
			}
			items[pos%n] = map[string]any{"id": "target"}
			return Evaluate(leaf, map[string]any{"items": items})
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
