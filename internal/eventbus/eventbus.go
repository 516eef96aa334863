// Package eventbus implements an in-process typed publish/subscribe bus
// (spec §9's redesign note: an injected, bounded-channel bus rather than
// a global). A subscriber that falls behind has events dropped for it
// rather than blocking the publisher, and each drop is counted rather
// than silent.
//
// Grounded on server/hub.go's channel-based concurrency idiom (route/
// join/unreg as unbuffered or small-buffered channels feeding a single
// select loop) — generalized here into a fan-out registry instead of a
// single consumer loop, since multiple independent subscribers (push
// planner, presence, future indexers) all need every event.
package eventbus

import (
	"context"
	"sync"

	"github.com/privchat/privchat/internal/message"
	"github.com/privchat/privchat/internal/metrics"
)

// EventType discriminates the DomainEvent union.
type EventType int

const (
	EventMessageCommitted EventType = iota
	EventMessageDelivered
	EventMessageRevoked
	EventUserOnline
	EventUserOffline
)

// DomainEvent is the envelope published on the bus. Exactly the fields
// relevant to Type are populated; consumers switch on Type.
type DomainEvent struct {
	Type           EventType
	MessageID      uint64
	ChannelID      uint64
	SenderID       uint64
	RecipientIDs   []uint64
	MentionedIDs   []uint64
	DeviceID       string
	UserID         uint64
}

const subscriberBuffer = 256

// Bus is a fan-out publisher over bounded per-subscriber channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan DomainEvent
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]chan DomainEvent)}
}

// Subscribe registers a new named subscriber and returns its receive
// channel. name is the key Unsubscribe takes and the metrics label for
// dropped events; callers should pick a stable, human-readable
// identifier ("push-planner", "presence").
func (b *Bus) Subscribe(name string) <-chan DomainEvent {
	ch := make(chan DomainEvent, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[name] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[name]; ok {
		delete(b.subscribers, name)
		close(ch)
	}
}

// Publish fans evt out to every subscriber. A subscriber whose channel is
// full has the event dropped for it rather than blocking every other
// subscriber; the drop is counted under that subscriber's name.
func (b *Bus) Publish(evt DomainEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			metrics.EventBusLaggedTotal.WithLabelValues(name).Inc()
		}
	}
}

// PublishMessageCommitted adapts a message-pipeline commit into a
// DomainEvent, implementing message.EventPublisher so Pipeline can hold
// a Bus directly.
func (b *Bus) PublishMessageCommitted(ctx context.Context, evt message.MessageCommittedEvent) {
	b.Publish(DomainEvent{
		Type:         EventMessageCommitted,
		MessageID:    evt.Message.MessageID,
		ChannelID:    evt.Message.ChannelID,
		SenderID:     evt.Message.SenderID,
		RecipientIDs: evt.RecipientIDs,
		MentionedIDs: evt.MentionedIDs,
	})
}

// PublishMessageDelivered announces a successful realtime delivery to one
// recipient device, implementing message.EventPublisher. The push planner
// uses it to cancel the matching FCM/APNs intent before a duplicate push
// goes out to a device that already has the message.
func (b *Bus) PublishMessageDelivered(ctx context.Context, messageID, userID uint64, deviceID string) {
	b.Publish(DomainEvent{
		Type:      EventMessageDelivered,
		MessageID: messageID,
		UserID:    userID,
		DeviceID:  deviceID,
	})
}

// PublishMessageRevoked announces a revoke, implementing
// message.EventPublisher. The push planner cancels every still-pending
// intent for the message regardless of device.
func (b *Bus) PublishMessageRevoked(ctx context.Context, messageID uint64) {
	b.Publish(DomainEvent{
		Type:      EventMessageRevoked,
		MessageID: messageID,
	})
}
