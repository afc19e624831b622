package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marselk/tgbridge/internal/models"
)

func TestEngine_Match(t *testing.T) {
	engine, err := NewEngine(0)
	require.NoError(t, err)

	tests := []struct {
		name          string
		text          string
		keyword       string
		mode          models.KeywordMode
		caseSensitive bool
		want          bool
	}{
		{"contains hit", "new release available", "release", models.KeywordContains, false, true},
		{"contains miss", "new release available", "beta", models.KeywordContains, false, false},
		{"contains case insensitive", "New RELEASE", "release", models.KeywordContains, false, true},
		{"contains case sensitive miss", "New RELEASE", "release", models.KeywordContains, true, false},
		{"exact hit", "ping", "ping", models.KeywordExact, false, true},
		{"exact miss on substring", "ping pong", "ping", models.KeywordExact, false, false},
		{"starts with hit", "alert: disk full", "alert", models.KeywordStartsWith, false, true},
		{"starts with miss", "disk full alert", "alert", models.KeywordStartsWith, false, false},
		{"ends with hit", "report.pdf", ".pdf", models.KeywordEndsWith, false, true},
		{"regex hit", "build #1234 failed", `#\d+`, models.KeywordRegex, false, true},
		{"regex miss", "build failed", `#\d+`, models.KeywordRegex, false, false},
		{"regex case insensitive", "ERROR in module", "error", models.KeywordRegex, false, true},
		{"regex case sensitive miss", "ERROR in module", "error", models.KeywordRegex, true, false},
		{"empty keyword never matches", "anything", "", models.KeywordContains, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Match(tt.text, tt.keyword, tt.mode, tt.caseSensitive)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_Match_BadRegex(t *testing.T) {
	engine, err := NewEngine(0)
	require.NoError(t, err)

	got, err := engine.Match("text", "[unclosed", models.KeywordRegex, false)
	assert.Error(t, err)
	assert.False(t, got)
}

func TestEngine_MatchAny(t *testing.T) {
	engine, err := NewEngine(0)
	require.NoError(t, err)

	got, err := engine.MatchAny("the quick brown fox", []string{"cat", "fox"}, models.KeywordContains, false)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = engine.MatchAny("the quick brown fox", []string{"cat", "dog"}, models.KeywordContains, false)
	require.NoError(t, err)
	assert.False(t, got)

	// a malformed pattern is reported but does not block the others
	got, err = engine.MatchAny("the quick brown fox", []string{"[bad", "fox"}, models.KeywordRegex, false)
	assert.Error(t, err)
	assert.True(t, got)
}

func TestEngine_PatternCacheReuse(t *testing.T) {
	engine, err := NewEngine(4)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := engine.Match("abc123", `\d+`, models.KeywordRegex, false)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, engine.PatternCacheLen())

	// case sensitivity compiles a distinct pattern
	_, err = engine.Match("abc123", `\d+`, models.KeywordRegex, true)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.PatternCacheLen())
}

func TestEngine_PatternCacheBounded(t *testing.T) {
	engine, err := NewEngine(2)
	require.NoError(t, err)

	patterns := []string{"a+", "b+", "c+", "d+"}
	for _, p := range patterns {
		_, err := engine.Match("x", p, models.KeywordRegex, true)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, engine.PatternCacheLen())
}

func TestEngine_Rewrite(t *testing.T) {
	engine, err := NewEngine(0)
	require.NoError(t, err)

	out, err := engine.Rewrite("price: 100 USD", `(\d+) USD`, "$$$1")
	require.NoError(t, err)
	assert.Equal(t, "price: $100", out)

	out, err = engine.Rewrite("unchanged", "[bad", "x")
	assert.Error(t, err)
	assert.Equal(t, "unchanged", out)
}
