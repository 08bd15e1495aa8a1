package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCombinesRepeatedRegularHeaders(t *testing.T) {
	b := New()
	require.NoError(t, b.Add("X-Custom", "a"))
	require.NoError(t, b.Add("x-custom", "b"))

	v, ok := b.Get("X-CUSTOM")
	require.True(t, ok)
	assert.Equal(t, "a,b", v)
	assert.Equal(t, 1, b.Len())
}

func TestAddRejectsDuplicatePseudoHeader(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(PseudoMethod, "GET"))
	err := b.Add(PseudoMethod, "POST")
	assert.ErrorIs(t, err, ErrDuplicatePseudo)
}

func TestSetReplacesExistingValue(t *testing.T) {
	b := New()
	require.NoError(t, b.Add("x-a", "1"))
	require.NoError(t, b.Add("x-a", "2"))
	b.Set("x-a", "3")

	v, _ := b.Get("x-a")
	assert.Equal(t, "3", v)
}

func TestDelRemovesHeaderAndKeepsIndexConsistent(t *testing.T) {
	b := New()
	require.NoError(t, b.Add("x-a", "1"))
	require.NoError(t, b.Add("x-b", "2"))
	require.NoError(t, b.Add("x-c", "3"))

	b.Del("x-b")
	assert.False(t, b.Has("x-b"))
	v, ok := b.Get("x-c")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestRangeExcludesPseudoHeaders(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(PseudoMethod, "GET"))
	require.NoError(t, b.Add("x-a", "1"))

	var seen []string
	b.Range(func(name, value string) { seen = append(seen, name) })
	assert.Equal(t, []string{"x-a"}, seen)
}

func TestRangeAllIncludesPseudoHeaders(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(PseudoMethod, "GET"))
	require.NoError(t, b.Add("x-a", "1"))

	count := 0
	b.RangeAll(func(name, value string) { count++ })
	assert.Equal(t, 2, count)
}

func TestCloneIsIndependent(t *testing.T) {
	b := New()
	require.NoError(t, b.Add("x-a", "1"))
	clone := b.Clone()
	clone.Set("x-a", "2")

	v, _ := b.Get("x-a")
	assert.Equal(t, "1", v)
	v, _ = clone.Get("x-a")
	assert.Equal(t, "2", v)
}

func TestValidateRequestRequiresMandatoryPseudoHeaders(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(PseudoMethod, "GET"))
	require.NoError(t, b.Add(PseudoPath, "/"))
	assert.ErrorIs(t, ValidateRequest(b), ErrMissingPseudo)

	require.NoError(t, b.Add(PseudoAuthority, "example.com"))
	require.NoError(t, b.Add(PseudoScheme, "https"))
	assert.NoError(t, ValidateRequest(b))
}

func TestValidateResponseRequiresStatus(t *testing.T) {
	b := New()
	assert.ErrorIs(t, ValidateResponse(b), ErrMissingPseudo)
	b.Set(PseudoStatus, "200")
	assert.NoError(t, ValidateResponse(b))
}

func TestForbiddenUpstream(t *testing.T) {
	for _, name := range []string{":authority", ":method", ":path", ":scheme", "method", "scheme", "version"} {
		assert.True(t, ForbiddenUpstream(name), "expected %q to be forbidden", name)
	}
	assert.False(t, ForbiddenUpstream("cookie"))
	assert.False(t, ForbiddenUpstream(PseudoStatus))
}

func TestNewStatusOnly(t *testing.T) {
	b := NewStatusOnly(400, 11)
	v, _ := b.Get(PseudoStatus)
	assert.Equal(t, "400", v)
	v, _ = b.Get("content-length")
	assert.Equal(t, "11", v)
}

func TestNewRedirect(t *testing.T) {
	b := NewRedirect(302, "http://www.example.com/get", 0)
	v, _ := b.Get(PseudoStatus)
	assert.Equal(t, "302", v)
	v, _ = b.Get("location")
	assert.Equal(t, "http://www.example.com/get", v)
}

func TestRawReplacesNewlinesWithNulAndTerminates(t *testing.T) {
	b := New()
	require.NoError(t, b.Add("content-type", "text/plain\ncharset=utf-8"))
	raw := b.Raw()
	assert.NotContains(t, raw, "\n")
	assert.Equal(t, byte(0), raw[len(raw)-1])
}
