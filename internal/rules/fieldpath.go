// internal/rules/fieldpath.go
package rules

import (
	"strings"

	"github.com/solatis/aem/internal/types"
)

/*
 * Parameter path resolution for event parameter bags.
 *
 * Paths are dot-separated keys. A segment ending in the literal marker "[*]"
 * names a list: the leaf matches if ANY element of that list matches the
 * remaining path (first match wins, evaluation short-circuits).
 *
 *   "fb_currency"            -> params["fb_currency"]
 *   "fb_content[*].id"       -> any params["fb_content"][i]["id"]
 *   "order.items[*].sku"     -> any params["order"]["items"][i]["sku"]
 *   "tags[*]"                -> any params["tags"][i] (scalar elements)
 *
 * Missing keys, scalars where a container is expected, and nil values all
 * resolve to "no match"; resolution never returns an error to the caller.
 */

// wildcardSuffix marks a path segment that names a list.
const wildcardSuffix = "[*]"

// matchPath walks current along path and applies the leaf at the final segment.
func (e *Engine) matchPath(leaf *Leaf, current any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	bag, ok := asBag(current)
	if !ok {
		return false
	}

	seg := path[0]
	rest := path[1:]

	if strings.HasSuffix(seg, wildcardSuffix) {
		items, ok := asList(bag[strings.TrimSuffix(seg, wildcardSuffix)])
		if !ok {
			return false
		}
		for _, item := range items {
			if len(rest) == 0 {
				if item != nil && e.compareLeaf(leaf, item) {
					return true
				}
				continue
			}
			if e.matchPath(leaf, item, rest) {
				return true
			}
		}
		return false
	}

	value, ok := bag[seg]
	if !ok || value == nil {
		return false
	}
	if len(rest) > 0 {
		return e.matchPath(leaf, value, rest)
	}
	return e.compareLeaf(leaf, value)
}

// asBag views a nested parameter object as a string-keyed map.
func asBag(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case types.Params:
		return m, true
	default:
		return nil, false
	}
}

// asList views a parameter value as a list of elements.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	case []types.Params:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	case []string:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	default:
		return nil, false
	}
}
