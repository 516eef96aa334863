package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) *TokenAuth {
	t.Helper()
	ta, err := New([]byte("0123456789012345678901234567890123456789"), "privchat", "privchat-clients", time.Hour)
	require.NoError(t, err)
	return ta
}

func TestIssueThenVerifyRoundTrip(t *testing.T) {
	ta := newTestAuth(t)
	jti := uuid.NewString()

	tok, expires, err := ta.Issue(100, "dev-1", "biz-1", "app-1", 1, jti, 0)
	require.NoError(t, err)
	require.True(t, expires.After(time.Now()))

	claims, err := ta.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "100", claims.Subject)
	require.Equal(t, "dev-1", claims.DeviceID)
	require.Equal(t, uint64(1), claims.SessionVersion)
	require.Equal(t, jti, claims.ID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	ta := newTestAuth(t)
	tok, _, err := ta.Issue(100, "dev-1", "biz-1", "app-1", 1, uuid.NewString(), time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = ta.Verify(tok)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	ta := newTestAuth(t)
	tok, _, err := ta.Issue(100, "dev-1", "biz-1", "app-1", 1, uuid.NewString(), 0)
	require.NoError(t, err)

	other, err := New([]byte("9876543210987654321098765432109876543210"), "privchat", "privchat-clients", time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestRevokeBlocksFutureVerifies(t *testing.T) {
	ta := newTestAuth(t)
	jti := uuid.NewString()
	tok, _, err := ta.Issue(100, "dev-1", "biz-1", "app-1", 1, jti, 0)
	require.NoError(t, err)

	_, err = ta.Verify(tok)
	require.NoError(t, err)

	ta.Revoke(jti)
	_, err = ta.Verify(tok)
	require.ErrorIs(t, err, ErrRevoked)
}
