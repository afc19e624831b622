// Package filter provides keyword matching and the per-message derivation
// cache used by the forward pipeline.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/marselk/tgbridge/internal/models"
)

// DefaultPatternCacheSize bounds the compiled regex cache.
const DefaultPatternCacheSize = 256

// Engine evaluates keyword rules. Regex patterns are compiled once and kept
// in a bounded cache.
type Engine struct {
	patterns *lru.Cache[string, *regexp.Regexp]
}

// NewEngine creates a filter engine with a bounded pattern cache.
func NewEngine(cacheSize int) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultPatternCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create pattern cache: %w", err)
	}
	return &Engine{patterns: cache}, nil
}

// Match reports whether text matches keyword under the given mode.
func (e *Engine) Match(text, keyword string, mode models.KeywordMode, caseSensitive bool) (bool, error) {
	if keyword == "" {
		return false, nil
	}

	if mode != models.KeywordRegex && !caseSensitive {
		text = strings.ToLower(text)
		keyword = strings.ToLower(keyword)
	}

	switch mode {
	case models.KeywordContains:
		return strings.Contains(text, keyword), nil
	case models.KeywordExact:
		return text == keyword, nil
	case models.KeywordStartsWith:
		return strings.HasPrefix(text, keyword), nil
	case models.KeywordEndsWith:
		return strings.HasSuffix(text, keyword), nil
	case models.KeywordRegex:
		re, err := e.compile(keyword, caseSensitive)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	default:
		return false, fmt.Errorf("unknown keyword mode %q", mode)
	}
}

// MatchAny reports whether text matches at least one of the keywords.
// Malformed patterns are treated as non-matching; the first compile error is
// returned so callers can record the misconfiguration.
func (e *Engine) MatchAny(text string, keywords []string, mode models.KeywordMode, caseSensitive bool) (bool, error) {
	var firstErr error
	for _, kw := range keywords {
		ok, err := e.Match(text, kw, mode, caseSensitive)
		if err != nil && firstErr == nil {
			firstErr = err
			continue
		}
		if ok {
			return true, firstErr
		}
	}
	return false, firstErr
}

// Rewrite applies a regex replacement to text, using the cached compiled
// pattern. Replacement patterns are always case sensitive.
func (e *Engine) Rewrite(text, pattern, replacement string) (string, error) {
	re, err := e.compile(pattern, true)
	if err != nil {
		return text, err
	}
	return re.ReplaceAllString(text, replacement), nil
}

// compile returns a cached compiled pattern, compiling on first use.
func (e *Engine) compile(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	key := pattern
	if !caseSensitive {
		key = "(?i)" + pattern
	}
	if re, ok := e.patterns.Get(key); ok {
		return re, nil
	}
	re, err := regexp.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	e.patterns.Add(key, re)
	return re, nil
}

// PatternCacheLen returns the number of compiled patterns currently cached.
func (e *Engine) PatternCacheLen() int {
	return e.patterns.Len()
}
