package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBindAndLookup(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Bind("s1", 100, "dev-1", map[string]any{"aud": "privchat"})

	uid, ok := r.GetUserID("s1")
	require.True(t, ok)
	require.Equal(t, uint64(100), uid)
	require.False(t, r.IsReady("s1"))
}

func TestMarkReadyTransitionsOnce(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Bind("s1", 100, "dev-1", nil)

	require.True(t, r.MarkReady("s1"))
	require.True(t, r.IsReady("s1"))
	require.False(t, r.MarkReady("s1"), "second call must report no transition")
}

func TestUnbindRemovesFromUserIndex(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Bind("s1", 100, "dev-1", nil)
	r.Bind("s2", 100, "dev-2", nil)

	require.ElementsMatch(t, []string{"s1", "s2"}, r.ListUserSessions(100))

	r.Unbind("s1")
	require.Equal(t, []string{"s2"}, r.ListUserSessions(100))
}

func TestCleanupExpiredRemovesStaleSessions(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	r.Bind("s1", 100, "dev-1", nil)

	time.Sleep(20 * time.Millisecond)
	expired := r.CleanupExpired()

	require.Equal(t, []string{"s1"}, expired)
	_, ok := r.GetUserID("s1")
	require.False(t, ok)
}

func TestUpdateClientPtsPerChannel(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Bind("s1", 100, "dev-1", nil)
	r.UpdateClientPts("s1", 500, 42)

	info, ok := r.GetSessionInfo("s1")
	require.True(t, ok)
	require.Equal(t, uint64(42), info.ClientPts[500])
}
