package scope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveDoesNotTouchParent(t *testing.T) {
	parent := New(map[string]string{"source": "docs", "branch": "main"})
	child := parent.Derive(map[string]string{"branch": "published", "target": "site"})

	require.Equal(t, "published", child.Lookup("branch"))
	require.Equal(t, "site", child.Lookup("target"))
	require.Equal(t, "docs", child.Lookup("source"))

	// Parent keeps its bindings and never sees the overlay.
	require.Equal(t, "main", parent.Lookup("branch"))
	require.False(t, parent.Has("target"))

	child.Set("extra", "1")
	require.False(t, parent.Has("extra"))
}

func TestGetDistinguishesAbsentFromEmpty(t *testing.T) {
	sc := New(map[string]string{"empty": ""})

	v, ok := sc.Get("empty")
	require.True(t, ok)
	require.Empty(t, v)

	_, ok = sc.Get("missing")
	require.False(t, ok)
}

func TestEnvironExcludesReservedAndSorts(t *testing.T) {
	sc := New(map[string]string{"b": "2", "a": "1"})
	sc.SetRawArgs([]string{"x", "y"})
	sc.Set(ReservedPrefix+"build_id", "abc")

	require.Equal(t, []string{"a=1", "b=2"}, sc.Environ())
}

func TestRawArgsJoined(t *testing.T) {
	sc := New(nil)
	sc.SetRawArgs([]string{"site", "published", "hello", "world"})
	require.Equal(t, "site published hello world", sc.RawArgs())

	sc.SetRawArgs(nil)
	require.Empty(t, sc.RawArgs())
}
