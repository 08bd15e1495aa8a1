package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompilesRules(t *testing.T) {
	rw, err := New([]Rule{
		{Pattern: "^/old/(.*)$", Replacement: "/new/$1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rw.Len())
}

func TestNewRejectsInvalidPattern(t *testing.T) {
	_, err := New([]Rule{{Pattern: "(unclosed", Replacement: "x"}})
	assert.Error(t, err)
}

func TestRewriteAppliesFirstMatch(t *testing.T) {
	rw, err := New([]Rule{
		{Pattern: "^https://a.example.com/(.*)$", Replacement: "https://backend.internal/a/$1"},
		{Pattern: "^https://b.example.com/(.*)$", Replacement: "https://backend.internal/b/$1"},
	})
	require.NoError(t, err)

	out, ok := rw.Rewrite("https://a.example.com/foo")
	assert.True(t, ok)
	assert.Equal(t, "https://backend.internal/a/foo", out)
}

func TestRewriteReturnsFalseWhenNoRuleMatches(t *testing.T) {
	rw, err := New([]Rule{{Pattern: "^https://a.example.com/(.*)$", Replacement: "/$1"}})
	require.NoError(t, err)

	out, ok := rw.Rewrite("https://c.example.com/foo")
	assert.False(t, ok)
	assert.Equal(t, "", out)
}

func TestRewriteFirstRuleWinsOnOverlap(t *testing.T) {
	rw, err := New([]Rule{
		{Pattern: "^https://example.com/api/.*$", Replacement: "/matched-first"},
		{Pattern: "^https://example.com/api/v1.*$", Replacement: "/matched-second"},
	})
	require.NoError(t, err)

	out, ok := rw.Rewrite("https://example.com/api/v1/users")
	assert.True(t, ok)
	assert.Equal(t, "/matched-first", out)
}

func TestLenReflectsRuleCount(t *testing.T) {
	rw, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rw.Len())
}
