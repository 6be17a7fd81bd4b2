package rules

import (
	"regexp"

	"github.com/maypok86/otter"

	"github.com/solatis/aem/internal/types"
)

// Engine evaluates rule expressions and caches compiled regex_match patterns.
// Patterns come from server configurations and repeat for every event, so
// compiling once per pattern keeps evaluation cheap.
type Engine struct {
	regexps otter.Cache[string, *regexp.Regexp]
	cached  bool
}

var defaultEngine = NewEngine(types.MaxRegexCacheSize)

// NewEngine creates an engine whose regex cache holds at most capacity patterns.
// If the cache cannot be built the engine still works, compiling on every use.
func NewEngine(capacity int) *Engine {
	cache, err := otter.MustBuilder[string, *regexp.Regexp](capacity).Build()
	if err != nil {
		return &Engine{}
	}
	return &Engine{regexps: cache, cached: true}
}

// regexMatch reports whether s matches pattern anchored at the start of s.
// Invalid patterns never match.
func (e *Engine) regexMatch(pattern, s string) bool {
	re := e.compile(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(s)
}

func (e *Engine) compile(pattern string) *regexp.Regexp {
	if e.cached {
		if re, ok := e.regexps.Get(pattern); ok {
			return re
		}
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil
	}
	if e.cached {
		e.regexps.Set(pattern, re)
	}
	return re
}

// Close releases the regex cache.
func (e *Engine) Close() {
	if e.cached {
		e.regexps.Close()
	}
}
