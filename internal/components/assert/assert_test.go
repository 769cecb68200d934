package assert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type dependency struct{}

func TestNotNil(t *testing.T) {
	var typed *dependency
	var fn func()

	require.PanicsWithValue(t, "expected value to be not nil", func() { NotNil(nil) })
	require.PanicsWithValue(t, `expected "client" to be not nil`, func() { NotNil(typed, "client") })
	require.Panics(t, func() { NotNil(fn) })
	require.NotPanics(t, func() { NotNil(&dependency{}) })
	require.NotPanics(t, func() { NotNil(dependency{}) })
}

func TestNotEmptyStr(t *testing.T) {
	require.PanicsWithValue(t, `expected "tenant" to be a non-empty string`, func() { NotEmptyStr("", "tenant") })
	require.NotPanics(t, func() { NotEmptyStr("acme") })
}
