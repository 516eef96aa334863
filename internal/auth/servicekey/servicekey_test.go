package servicekey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateThenCheckRoundTrip(t *testing.T) {
	m := New([]byte("test-salt"))

	key := m.Generate(7, true)
	valid, root := m.Check(key)
	require.True(t, valid)
	require.True(t, root)
}

func TestCheckAcceptsNonRootKeyWithoutRootFlag(t *testing.T) {
	m := New([]byte("test-salt"))

	key := m.Generate(1, false)
	valid, root := m.Check(key)
	require.True(t, valid)
	require.False(t, root)
}

func TestCheckRejectsWrongSalt(t *testing.T) {
	m := New([]byte("test-salt"))
	other := New([]byte("other-salt"))

	key := m.Generate(1, true)
	valid, _ := other.Check(key)
	require.False(t, valid)
}

func TestCheckRejectsMalformedKey(t *testing.T) {
	m := New([]byte("test-salt"))
	valid, _ := m.Check("not-a-valid-key")
	require.False(t, valid)
}
