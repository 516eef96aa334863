package message

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/privchat/privchat/internal/channel"
	"github.com/privchat/privchat/internal/conn"
	"github.com/privchat/privchat/internal/ids"
	"github.com/privchat/privchat/internal/session"
	"github.com/privchat/privchat/internal/store"
	"github.com/privchat/privchat/internal/wire"
)

// fakeSink is a minimal conn.TransportSink recording every send.
type fakeSink struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSink) Send(ctx context.Context, sessionID string, packet []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sessionID)
	return nil
}

func (f *fakeSink) Disconnect(sessionID string, reason string) {}

func (f *fakeSink) sentTo(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if s == sessionID {
			return true
		}
	}
	return false
}

// fakeBus is a minimal EventPublisher recording every publish.
type fakeBus struct {
	mu        sync.Mutex
	committed []MessageCommittedEvent
	delivered []uint64 // message IDs
	revoked   []uint64
}

func (b *fakeBus) PublishMessageCommitted(ctx context.Context, evt MessageCommittedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed = append(b.committed, evt)
}

func (b *fakeBus) PublishMessageDelivered(ctx context.Context, messageID, userID uint64, deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered = append(b.delivered, messageID)
}

func (b *fakeBus) PublishMessageRevoked(ctx context.Context, messageID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked = append(b.revoked, messageID)
}

// fakeOfflineQueue is a minimal OfflineQueue recording enqueues and removals.
type fakeOfflineQueue struct {
	mu       sync.Mutex
	enqueued map[uint64]int
	removed  map[uint64][]uint64 // userID -> messageIDs removed
}

func newFakeOfflineQueue() *fakeOfflineQueue {
	return &fakeOfflineQueue{enqueued: make(map[uint64]int), removed: make(map[uint64][]uint64)}
}

func (q *fakeOfflineQueue) Enqueue(ctx context.Context, userID uint64, packet []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued[userID]++
	return nil
}

func (q *fakeOfflineQueue) RemoveMessageByID(ctx context.Context, userID, messageID uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed[userID] = append(q.removed[userID], messageID)
	return nil
}

// fakeChannelRepo is a minimal in-memory store.ChannelRepository.
type fakeChannelRepo struct {
	mu       sync.Mutex
	channels map[uint64]*store.Channel
	members  map[uint64]map[uint64]*store.ChannelMember
	nextID   uint64
}

func newFakeChannelRepo() *fakeChannelRepo {
	return &fakeChannelRepo{
		channels: make(map[uint64]*store.Channel),
		members:  make(map[uint64]map[uint64]*store.ChannelMember),
	}
}

func (f *fakeChannelRepo) Create(ctx context.Context, c *store.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	cp := *c
	f.channels[c.ID] = &cp
	f.members[c.ID] = make(map[uint64]*store.ChannelMember)
	return nil
}

func (f *fakeChannelRepo) Get(ctx context.Context, channelID uint64) (*store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[channelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChannelRepo) Update(ctx context.Context, c *store.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[c.ID] = c
	return nil
}

func (f *fakeChannelRepo) GetOrCreateDirectChannel(ctx context.Context, u1, u2 uint64, source string) (*store.Channel, bool, error) {
	return nil, false, nil
}

func (f *fakeChannelRepo) AddParticipant(ctx context.Context, channelID, userID uint64, role store.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[channelID] == nil {
		f.members[channelID] = make(map[uint64]*store.ChannelMember)
	}
	f.members[channelID][userID] = &store.ChannelMember{ChannelID: channelID, UserID: userID, Role: role}
	return nil
}

func (f *fakeChannelRepo) RemoveParticipant(ctx context.Context, channelID, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[channelID], userID)
	return nil
}

func (f *fakeChannelRepo) GetParticipants(ctx context.Context, channelID uint64) ([]*store.ChannelMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ChannelMember
	for _, m := range f.members[channelID] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeChannelRepo) GetParticipant(ctx context.Context, channelID, userID uint64) (*store.ChannelMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[channelID][userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeChannelRepo) UpdateParticipant(ctx context.Context, m *store.ChannelMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[m.ChannelID][m.UserID] = m
	return nil
}

func (f *fakeChannelRepo) ListChannelIDsByUser(ctx context.Context, userID uint64) ([]uint64, error) {
	return nil, nil
}

// fakeMessageRepo is a minimal in-memory store.MessageRepository.
type fakeMessageRepo struct {
	mu       sync.Mutex
	byID     map[uint64]*store.Message
	byDedup  map[[2]uint64]*store.Message
	maxPts   map[uint64]uint64
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		byID:    make(map[uint64]*store.Message),
		byDedup: make(map[[2]uint64]*store.Message),
		maxPts:  make(map[uint64]uint64),
	}
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.CreatedAt = time.Now()
	cp := *m
	f.byID[m.MessageID] = &cp
	f.byDedup[[2]uint64{m.SenderID, m.LocalMessageID}] = &cp
	if m.Pts > f.maxPts[m.ChannelID] {
		f.maxPts[m.ChannelID] = m.Pts
	}
	return nil
}

func (f *fakeMessageRepo) FindByID(ctx context.Context, messageID uint64) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeMessageRepo) FindByDedupKey(ctx context.Context, senderID, localMessageID uint64) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byDedup[[2]uint64{senderID, localMessageID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeMessageRepo) ListByChannel(ctx context.Context, channelID uint64, limit int, beforeCreatedAt *time.Time) ([]*store.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) ListByChannelSincePts(ctx context.Context, channelID uint64, sincePts uint64, limit int) ([]*store.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) MaxPts(ctx context.Context, channelID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPts[channelID], nil
}

func (f *fakeMessageRepo) Revoke(ctx context.Context, messageID, by uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[messageID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	m.Revoked = true
	m.RevokedAt = &now
	m.RevokedBy = &by
	return nil
}
func (f *fakeMessageRepo) Delete(ctx context.Context, messageID uint64) error { return nil }

func newTestDeps(t *testing.T) (*fakeChannelRepo, *fakeMessageRepo, *ids.Generator, *channel.Service, *conn.Registry) {
	t.Helper()
	channels := newFakeChannelRepo()
	messages := newFakeMessageRepo()
	gen, err := ids.NewGenerator(1, 1, messages)
	require.NoError(t, err)
	connReg := conn.NewRegistry()
	svc := channel.New(channels, nil)
	return channels, messages, gen, svc, connReg
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeChannelRepo, *fakeMessageRepo) {
	t.Helper()
	channels, messages, gen, svc, connReg := newTestDeps(t)

	p := New(Config{
		Channels:  svc,
		Messages:  messages,
		Members:   channels,
		Generator: gen,
		Conn:      connReg,
	})
	return p, channels, messages
}

func textPayload(t *testing.T, content string) []byte {
	t.Helper()
	b, err := json.Marshal(wire.SendMessagePayload{Content: content})
	require.NoError(t, err)
	return b
}

func TestSendMessageHappyPath(t *testing.T) {
	p, channels, _ := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))
	require.NoError(t, channels.AddParticipant(ctx, 1, 200, store.RoleMember))

	resp := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 1, ClientSeq: 1,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, "hello"),
	})

	require.Equal(t, wire.ReasonSuccess, resp.ReasonCode)
	require.NotZero(t, resp.ServerMessageID)
	require.Equal(t, uint64(1), resp.MessageSeq)
}

func TestSendMessageRejectsNonMember(t *testing.T) {
	p, channels, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))

	resp := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 999, ChannelID: 1, LocalMessageID: 1,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, "hi"),
	})
	require.Equal(t, wire.ReasonPermission, resp.ReasonCode)
}

func TestSendMessageUnknownChannel(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	resp := p.SendMessage(context.Background(), wire.SendMessageRequest{
		FromUID: 100, ChannelID: 999, LocalMessageID: 1,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, "hi"),
	})
	require.Equal(t, wire.ReasonChannelNotFound, resp.ReasonCode)
}

func TestSendMessageRejectsEmptyTextPayload(t *testing.T) {
	p, channels, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))

	resp := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 1,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, ""),
	})
	require.Equal(t, wire.ReasonValidation, resp.ReasonCode)
}

func TestSendMessageDedupReturnsSyntheticAck(t *testing.T) {
	p, channels, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))

	req := wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 42, ClientSeq: 7,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, "hi"),
	}
	first := p.SendMessage(ctx, req)
	second := p.SendMessage(ctx, req)

	require.Equal(t, wire.ReasonSuccess, first.ReasonCode)
	require.NotZero(t, first.ServerMessageID)

	require.Equal(t, wire.ReasonSuccess, second.ReasonCode)
	require.Zero(t, second.ServerMessageID)
	require.Zero(t, second.MessageSeq)
	require.Equal(t, req.ClientSeq, second.ClientSeq)
}

func TestSendMessageEchoesToReadySender(t *testing.T) {
	channels, messages, gen, svc, connReg := newTestDeps(t)
	sink := &fakeSink{}
	connReg.SetTransportSink(sink)
	sessions := session.NewRegistry(time.Minute)
	sessions.Bind("sess-100", 100, "dev-100", nil)
	sessions.MarkReady("sess-100")
	connReg.Register(100, "dev-100", "sess-100")

	p := New(Config{
		Channels: svc, Messages: messages, Members: channels,
		Generator: gen, Conn: connReg, Sessions: sessions,
	})
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))

	resp := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 1, ClientSeq: 1,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, "hello"),
	})
	require.Equal(t, wire.ReasonSuccess, resp.ReasonCode)

	require.Eventually(t, func() bool {
		return sink.sentTo("sess-100")
	}, time.Second, 5*time.Millisecond, "sender should receive an echo of their own message")
}

func TestFanOutSuppressesRealtimeBeforeReadyAndEnqueuesOffline(t *testing.T) {
	channels, messages, gen, svc, connReg := newTestDeps(t)
	sink := &fakeSink{}
	connReg.SetTransportSink(sink)
	sessions := session.NewRegistry(time.Minute)
	sessions.Bind("sess-200", 200, "dev-200", nil)
	// Deliberately not marked READY.
	connReg.Register(200, "dev-200", "sess-200")

	offline := newFakeOfflineQueue()
	bus := &fakeBus{}
	p := New(Config{
		Channels: svc, Messages: messages, Members: channels,
		Generator: gen, Conn: connReg, Sessions: sessions, Offline: offline, Bus: bus,
	})
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))
	require.NoError(t, channels.AddParticipant(ctx, 1, 200, store.RoleMember))

	resp := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 1, ClientSeq: 1,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, "hello"),
	})
	require.Equal(t, wire.ReasonSuccess, resp.ReasonCode)

	require.False(t, sink.sentTo("sess-200"), "a not-READY session must not receive a realtime push")
	require.Equal(t, 1, offline.enqueued[200], "a not-READY recipient must fall back to the offline queue")
	require.Empty(t, bus.delivered, "no MessageDelivered should fire when nothing was delivered realtime")
}

func TestSendMessageRejectsMentionAllFromMember(t *testing.T) {
	p, channels, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleMember))

	payload, err := json.Marshal(wire.SendMessagePayload{Content: "hey @everyone check this out"})
	require.NoError(t, err)

	resp := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 1,
		MessageType: uint32(store.MessageText), Payload: payload,
	})
	require.Equal(t, wire.ReasonPermission, resp.ReasonCode)
}

func TestSendMessageAllowsMentionAllFromOwner(t *testing.T) {
	p, channels, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))

	payload, err := json.Marshal(wire.SendMessagePayload{Content: "@all please read this"})
	require.NoError(t, err)

	resp := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 1,
		MessageType: uint32(store.MessageText), Payload: payload,
	})
	require.Equal(t, wire.ReasonSuccess, resp.ReasonCode)
}

func TestRevokeMessageRequiresOriginalSender(t *testing.T) {
	p, channels, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))
	require.NoError(t, channels.AddParticipant(ctx, 1, 200, store.RoleMember))

	send := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 1,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, "hi"),
	})
	require.Equal(t, wire.ReasonSuccess, send.ReasonCode)

	denied := p.RevokeMessage(ctx, 200, send.ServerMessageID)
	require.Equal(t, wire.ReasonPermission, denied.ReasonCode)
	require.False(t, denied.Ack)
}

func TestRevokeMessageScrubsOfflineQueueAndPublishes(t *testing.T) {
	channels, messages, gen, svc, connReg := newTestDeps(t)
	offline := newFakeOfflineQueue()
	bus := &fakeBus{}
	p := New(Config{
		Channels: svc, Messages: messages, Members: channels,
		Generator: gen, Conn: connReg, Offline: offline, Bus: bus,
	})
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))
	require.NoError(t, channels.AddParticipant(ctx, 1, 200, store.RoleMember))

	send := p.SendMessage(ctx, wire.SendMessageRequest{
		FromUID: 100, ChannelID: 1, LocalMessageID: 1,
		MessageType: uint32(store.MessageText), Payload: textPayload(t, "hi"),
	})
	require.Equal(t, wire.ReasonSuccess, send.ReasonCode)

	resp := p.RevokeMessage(ctx, 100, send.ServerMessageID)
	require.True(t, resp.Ack)
	require.Equal(t, wire.ReasonSuccess, resp.ReasonCode)

	require.Contains(t, offline.removed[200], send.ServerMessageID)
	require.NotContains(t, offline.removed, uint64(100), "the revoker's own mailbox is not scrubbed")
	require.Equal(t, []uint64{send.ServerMessageID}, bus.revoked)

	stored, err := messages.FindByID(ctx, send.ServerMessageID)
	require.NoError(t, err)
	require.True(t, stored.Revoked)
}

func TestSendMessagePtsMonotonicPerChannel(t *testing.T) {
	p, channels, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, channels.Create(ctx, &store.Channel{ChannelType: store.ChannelGroup}))
	require.NoError(t, channels.AddParticipant(ctx, 1, 100, store.RoleOwner))

	r1 := p.SendMessage(ctx, wire.SendMessageRequest{FromUID: 100, ChannelID: 1, LocalMessageID: 1, MessageType: uint32(store.MessageText), Payload: textPayload(t, "a")})
	r2 := p.SendMessage(ctx, wire.SendMessageRequest{FromUID: 100, ChannelID: 1, LocalMessageID: 2, MessageType: uint32(store.MessageText), Payload: textPayload(t, "b")})

	require.Equal(t, uint64(1), r1.MessageSeq)
	require.Equal(t, uint64(2), r2.MessageSeq)
}
