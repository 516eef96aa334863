package loginrisk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/privchat/privchat/internal/store"
)

type fakeDevices struct {
	store.DeviceRepository
	byUser map[uint64][]*store.Device
}

func (f *fakeDevices) ListForUser(ctx context.Context, userID uint64) ([]*store.Device, error) {
	return f.byUser[userID], nil
}

type fakeLogins struct {
	store.LoginLogRepository
	byUser map[uint64][]*store.LoginLog
	jtis   map[string]bool
}

func (f *fakeLogins) ListByUser(ctx context.Context, userID uint64, since time.Time, limit int) ([]*store.LoginLog, error) {
	var out []*store.LoginLog
	for _, l := range f.byUser[userID] {
		if !l.CreatedAt.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLogins) IsTokenLogged(ctx context.Context, jti string) (bool, error) {
	return f.jtis[jti], nil
}

func TestScoreKnownDeviceKnownLocationIsClean(t *testing.T) {
	devices := &fakeDevices{byUser: map[uint64][]*store.Device{
		1: {{DeviceID: "dev-1"}},
	}}
	logins := &fakeLogins{byUser: map[uint64][]*store.LoginLog{
		1: {{IPAddress: "1.2.3.4", CreatedAt: time.Now().Add(-time.Hour)}},
	}}
	s := New(devices, logins)

	res, err := s.Score(context.Background(), 1, "dev-1", "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 0, res.Score)
	require.False(t, res.IsNewDevice)
	require.False(t, res.IsNewLocation)
	require.Equal(t, store.LoginSuccess, res.Status)
	require.Empty(t, res.Factors)
}

func TestScoreNewDeviceAddsFactor(t *testing.T) {
	devices := &fakeDevices{byUser: map[uint64][]*store.Device{1: {}}}
	logins := &fakeLogins{byUser: map[uint64][]*store.LoginLog{}}
	s := New(devices, logins)

	res, err := s.Score(context.Background(), 1, "new-dev", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, res.IsNewDevice)
	require.Contains(t, res.Factors, "new_device")
	require.Equal(t, newDeviceScore, res.Score)
}

func TestScoreFirstEverLoginIsNotFlaggedAsNewLocation(t *testing.T) {
	devices := &fakeDevices{byUser: map[uint64][]*store.Device{1: {{DeviceID: "dev-1"}}}}
	logins := &fakeLogins{byUser: map[uint64][]*store.LoginLog{}}
	s := New(devices, logins)

	res, err := s.Score(context.Background(), 1, "dev-1", "9.9.9.9")
	require.NoError(t, err)
	require.False(t, res.IsNewLocation)
}

func TestScoreUnseenIPWithHistoryIsNewLocation(t *testing.T) {
	devices := &fakeDevices{byUser: map[uint64][]*store.Device{1: {{DeviceID: "dev-1"}}}}
	logins := &fakeLogins{byUser: map[uint64][]*store.LoginLog{
		1: {{IPAddress: "1.2.3.4", CreatedAt: time.Now().Add(-time.Hour)}},
	}}
	s := New(devices, logins)

	res, err := s.Score(context.Background(), 1, "dev-1", "9.9.9.9")
	require.NoError(t, err)
	require.True(t, res.IsNewLocation)
	require.Contains(t, res.Factors, "new_location")
}

func TestScoreNewDeviceAndLocationIsBlocked(t *testing.T) {
	devices := &fakeDevices{byUser: map[uint64][]*store.Device{1: {}}}
	logins := &fakeLogins{byUser: map[uint64][]*store.LoginLog{
		1: {{IPAddress: "1.2.3.4", CreatedAt: time.Now().Add(-time.Hour)}},
	}}
	s := New(devices, logins)

	res, err := s.Score(context.Background(), 1, "new-dev", "9.9.9.9")
	require.NoError(t, err)
	require.Equal(t, newDeviceScore+newLocationScore, res.Score)
	require.Equal(t, store.LoginBlocked, res.Status)
}

func TestIsTokenLoggedCachesPositiveResult(t *testing.T) {
	logins := &fakeLogins{jtis: map[string]bool{"jti-1": true}}
	s := New(&fakeDevices{}, logins)

	ok, err := s.IsTokenLogged(context.Background(), "jti-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Flip the backing store; the cached result should still serve true
	// within the TTL window without a second lookup changing the outcome.
	logins.jtis["jti-1"] = false
	ok, err = s.IsTokenLogged(context.Background(), "jti-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIsTokenLoggedMissFallsThroughToStore(t *testing.T) {
	logins := &fakeLogins{jtis: map[string]bool{}}
	s := New(&fakeDevices{}, logins)

	ok, err := s.IsTokenLogged(context.Background(), "unknown")
	require.NoError(t, err)
	require.False(t, ok)
}
