package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/privchat/privchat/internal/channel"
	"github.com/privchat/privchat/internal/conn"
	"github.com/privchat/privchat/internal/eventbus"
	"github.com/privchat/privchat/internal/gateway"
	"github.com/privchat/privchat/internal/message"
	"github.com/privchat/privchat/internal/pushplanner"
	"github.com/privchat/privchat/internal/session"
	"github.com/privchat/privchat/internal/store"
	"github.com/privchat/privchat/internal/wire"
)

func newTestChannelService(repo store.ChannelRepository) *channel.Service {
	return channel.New(repo, nil)
}

func TestOfflineAdapterNilQueueIsNoop(t *testing.T) {
	a := offlineAdapter{q: nil}
	err := a.Enqueue(context.Background(), 1, []byte("packet"))
	require.NoError(t, err)

	var _ message.OfflineQueue = a
}

type deviceListRepo struct {
	store.DeviceRepository
	devices []*store.Device
}

func (d *deviceListRepo) ListForUser(ctx context.Context, userID uint64) ([]*store.Device, error) {
	return d.devices, nil
}

func TestDeviceLookupFiltersToActiveSessionsAndMapsProvider(t *testing.T) {
	repo := &deviceListRepo{devices: []*store.Device{
		{DeviceID: "ios-active", DeviceType: store.DeviceIOS, SessionState: store.SessionActive},
		{DeviceID: "android-active", DeviceType: store.DeviceAndroid, SessionState: store.SessionActive},
		{DeviceID: "kicked", DeviceType: store.DeviceIOS, SessionState: store.SessionKicked},
	}}
	lookup := deviceLookup{devices: repo}

	targets, err := lookup.PushEligibleDevices(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	byDevice := make(map[string]string, len(targets))
	for _, tgt := range targets {
		byDevice[tgt.DeviceID] = tgt.ProviderName
	}
	require.Equal(t, "apns", byDevice["ios-active"])
	require.Equal(t, "fcm", byDevice["android-active"])
	require.NotContains(t, byDevice, "kicked")
}

var _ pushplanner.DeviceLookup = deviceLookup{}

func TestPingHandlerReturnsCurrentTimestamp(t *testing.T) {
	handler := pingHandler()
	before := time.Now().Unix()
	resp := handler(context.Background(), &gateway.Session{}, wire.PingRequest{})
	after := time.Now().Unix()

	require.GreaterOrEqual(t, resp.Timestamp, before)
	require.LessOrEqual(t, resp.Timestamp, after)
}

func TestDisconnectHandlerUnregistersConnAndSession(t *testing.T) {
	sessions := session.NewRegistry(time.Minute)
	sessions.Bind("sess-1", 1, "dev-1", nil)
	connReg := conn.NewRegistry()
	connReg.Register(1, "dev-1", "sess-1")

	handler := disconnectHandler(sessions, connReg)
	resp := handler(context.Background(), &gateway.Session{ID: "sess-1"}, wire.DisconnectRequest{Reason: "bye"})

	require.True(t, resp.Ack)
	_, ok := sessions.GetUserID("sess-1")
	require.False(t, ok)
	_, _, ok = connReg.Unregister("sess-1")
	require.False(t, ok, "session should already be unregistered")
}

type channelMembershipRepo struct {
	store.ChannelRepository
	members map[uint64]map[uint64]bool
}

func (r *channelMembershipRepo) GetParticipant(ctx context.Context, channelID, userID uint64) (*store.ChannelMember, error) {
	if r.members[channelID][userID] {
		return &store.ChannelMember{ChannelID: channelID, UserID: userID}, nil
	}
	return nil, store.ErrNotFound
}

func TestSubscribeHandlerOnlyReturnsChannelsUserBelongsTo(t *testing.T) {
	repo := &channelMembershipRepo{members: map[uint64]map[uint64]bool{
		10: {1: true},
		20: {2: true},
	}}
	channels := newTestChannelService(repo)
	handler := subscribeHandler(channels)

	resp := handler(context.Background(), &gateway.Session{UserID: 1}, wire.SubscribeRequest{ChannelIDs: []uint64{10, 20}})
	require.Equal(t, []uint64{10}, resp.Subscribed)
}

func TestRelayCommitsToPlannerPlansOnMessageCommitted(t *testing.T) {
	bus := eventbus.New()
	provider := &countingProvider{}
	lookup := &deviceListRepo{devices: []*store.Device{
		{DeviceID: "dev-1", DeviceType: store.DeviceAndroid, SessionState: store.SessionActive},
	}}
	planner := pushplanner.New(map[string]pushplanner.Provider{"fcm": provider}, deviceLookup{devices: lookup})

	go relayCommitsToPlanner(bus, planner)
	// Give the subscriber goroutine a moment to register before publishing.
	time.Sleep(10 * time.Millisecond)

	bus.Publish(eventbus.DomainEvent{
		Type:         eventbus.EventMessageCommitted,
		MessageID:    99,
		ChannelID:    5,
		RecipientIDs: []uint64{1},
	})

	require.Eventually(t, func() bool {
		return provider.calls() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRelayCommitsToPlannerCancelsOnMessageDelivered(t *testing.T) {
	bus := eventbus.New()
	provider := &countingProvider{}
	lookup := &deviceListRepo{devices: []*store.Device{
		{DeviceID: "dev-1", DeviceType: store.DeviceAndroid, SessionState: store.SessionActive},
	}}
	planner := pushplanner.New(map[string]pushplanner.Provider{"fcm": provider}, deviceLookup{devices: lookup})

	go relayCommitsToPlanner(bus, planner)
	time.Sleep(10 * time.Millisecond)

	bus.Publish(eventbus.DomainEvent{
		Type:         eventbus.EventMessageCommitted,
		MessageID:    99,
		ChannelID:    5,
		RecipientIDs: []uint64{1},
	})
	require.Eventually(t, func() bool { return provider.calls() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(eventbus.DomainEvent{
		Type:      eventbus.EventMessageDelivered,
		MessageID: 99,
		UserID:    1,
		DeviceID:  "dev-1",
	})

	require.Eventually(t, func() bool {
		intent, ok := planner.Get(99, "dev-1")
		return ok && intent.State == pushplanner.Cancelled
	}, time.Second, 5*time.Millisecond, "a realtime delivery should cancel the matching push intent")
}

func TestRelayCommitsToPlannerCancelsAllDevicesOnMessageRevoked(t *testing.T) {
	bus := eventbus.New()
	provider := &countingProvider{}
	lookup := &deviceListRepo{devices: []*store.Device{
		{DeviceID: "dev-1", DeviceType: store.DeviceAndroid, SessionState: store.SessionActive},
		{DeviceID: "dev-2", DeviceType: store.DeviceIOS, SessionState: store.SessionActive},
	}}
	planner := pushplanner.New(map[string]pushplanner.Provider{"fcm": provider}, deviceLookup{devices: lookup})

	go relayCommitsToPlanner(bus, planner)
	time.Sleep(10 * time.Millisecond)

	bus.Publish(eventbus.DomainEvent{
		Type:         eventbus.EventMessageCommitted,
		MessageID:    100,
		ChannelID:    5,
		RecipientIDs: []uint64{1},
	})
	require.Eventually(t, func() bool { return provider.calls() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(eventbus.DomainEvent{
		Type:      eventbus.EventMessageRevoked,
		MessageID: 100,
	})

	require.Eventually(t, func() bool {
		intent1, ok1 := planner.Get(100, "dev-1")
		intent2, ok2 := planner.Get(100, "dev-2")
		return ok1 && intent1.State == pushplanner.Cancelled && ok2 && intent2.State == pushplanner.Cancelled
	}, time.Second, 5*time.Millisecond, "a revoke should cancel every still-pending intent for the message")
}

type countingProvider struct {
	mu sync.Mutex
	n  int
}

func (p *countingProvider) Send(ctx context.Context, intent pushplanner.Intent, payload pushplanner.ProviderPayload) error {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
	return nil
}

func (p *countingProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}
