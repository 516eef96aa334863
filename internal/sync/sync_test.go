package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	sessionpkg "github.com/privchat/privchat/internal/session"
	"github.com/privchat/privchat/internal/store"
)

type fakeMessages struct {
	mu   sync.Mutex
	rows map[uint64][]*store.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: make(map[uint64][]*store.Message)}
}

func (f *fakeMessages) seed(channelID uint64, pts ...uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pts {
		f.rows[channelID] = append(f.rows[channelID], &store.Message{ChannelID: channelID, Pts: p, MessageID: p})
	}
}

func (f *fakeMessages) Create(ctx context.Context, m *store.Message) error { return nil }
func (f *fakeMessages) FindByID(ctx context.Context, messageID uint64) (*store.Message, error) {
	return nil, store.ErrNotFound
}
func (f *fakeMessages) FindByDedupKey(ctx context.Context, senderID, localMessageID uint64) (*store.Message, error) {
	return nil, store.ErrNotFound
}
func (f *fakeMessages) ListByChannel(ctx context.Context, channelID uint64, limit int, beforeCreatedAt *time.Time) ([]*store.Message, error) {
	return nil, nil
}
func (f *fakeMessages) ListByChannelSincePts(ctx context.Context, channelID uint64, sincePts uint64, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for _, m := range f.rows[channelID] {
		if m.Pts > sincePts {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakeMessages) MaxPts(ctx context.Context, channelID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max uint64
	for _, m := range f.rows[channelID] {
		if m.Pts > max {
			max = m.Pts
		}
	}
	return max, nil
}
func (f *fakeMessages) Revoke(ctx context.Context, messageID, by uint64) error { return nil }
func (f *fakeMessages) Delete(ctx context.Context, messageID uint64) error     { return nil }

type fakeSettings struct {
	items       []store.UserSetting
	nextVersion uint64
}

func (f *fakeSettings) Set(ctx context.Context, userID uint64, key string, value any) (uint64, error) {
	return 0, nil
}
func (f *fakeSettings) ListSince(ctx context.Context, userID uint64, sinceVersion uint64, limit int) ([]store.UserSetting, uint64, bool, error) {
	var out []store.UserSetting
	for _, it := range f.items {
		if it.Version > sinceVersion {
			out = append(out, it)
		}
	}
	return out, f.nextVersion, false, nil
}

func TestSyncChannelReturnsMissingRangeAndMarksReady(t *testing.T) {
	messages := newFakeMessages()
	messages.seed(1, 1, 2, 3)
	sessions := sessionpkg.NewRegistry(time.Hour)
	sessions.Bind("s1", 100, "dev-1", nil)

	svc := New(messages, nil, sessions)
	page, err := svc.SyncChannel(context.Background(), "s1", 1, 0, 10)

	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	require.Equal(t, uint64(3), page.MaxPts)
	require.False(t, page.HasMore)
	require.True(t, sessions.IsReady("s1"))
}

func TestSyncChannelPaginates(t *testing.T) {
	messages := newFakeMessages()
	messages.seed(1, 1, 2, 3, 4, 5)
	sessions := sessionpkg.NewRegistry(time.Hour)
	sessions.Bind("s1", 100, "dev-1", nil)

	svc := New(messages, nil, sessions)
	page, err := svc.SyncChannel(context.Background(), "s1", 1, 0, 2)

	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	require.True(t, page.HasMore)
	require.False(t, sessions.IsReady("s1"), "must not mark ready until fully caught up")
}

func TestSyncChannelAlreadyCaughtUp(t *testing.T) {
	messages := newFakeMessages()
	messages.seed(1, 1, 2)
	sessions := sessionpkg.NewRegistry(time.Hour)
	sessions.Bind("s1", 100, "dev-1", nil)

	svc := New(messages, nil, sessions)
	page, err := svc.SyncChannel(context.Background(), "s1", 1, 2, 10)

	require.NoError(t, err)
	require.Empty(t, page.Messages)
	require.True(t, sessions.IsReady("s1"))
}

func TestSyncEntitiesDefaultsNextVersionToOneWhenEmpty(t *testing.T) {
	settings := &fakeSettings{}
	svc := New(nil, settings, nil)

	page, err := svc.SyncEntities(context.Background(), 100, 0, 10)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Equal(t, uint64(1), page.NextVersion)
}

func TestSyncEntitiesReturnsOnlyNewerVersions(t *testing.T) {
	settings := &fakeSettings{
		items: []store.UserSetting{
			{Key: "theme", Version: 1},
			{Key: "locale", Version: 2},
		},
		nextVersion: 3,
	}
	svc := New(nil, settings, nil)

	page, err := svc.SyncEntities(context.Background(), 100, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "locale", page.Items[0].Key)
	require.Equal(t, uint64(3), page.NextVersion)
}
