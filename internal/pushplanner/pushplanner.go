// Package pushplanner implements the push-intent state machine (spec
// §4.K): for every committed message, one intent per offline/backgrounded
// device, tracked through Planned -> Sent -> (Delivered | Cancelled).
//
// Grounded on server/push/push.go's Receipt/Payload/Handler abstraction
// (kept as the provider-facing contract below) but adds the intent
// tracking the teacher never had: tinode fires a push unconditionally on
// every Receipt with no cancellation path (server/topic.go calls
// push.Push(receipt) directly), whereas spec §4.K names an explicit
// state machine so a push in flight can be cancelled by a realtime
// delivery or a revoke.
package pushplanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/privchat/privchat/internal/eventbus"
)

// IntentState is a push intent's lifecycle stage.
type IntentState int

const (
	Planned IntentState = iota
	Sent
	Delivered
	Cancelled
)

// Intent is one (message, device) push obligation.
type Intent struct {
	MessageID uint64
	DeviceID  string
	UserID    uint64
	State     IntentState
	PlannedAt time.Time
	SentAt    *time.Time
}

// Provider is implemented by each push backend (FCM, APNs).
type Provider interface {
	Send(ctx context.Context, intent Intent, payload ProviderPayload) error
}

// ProviderPayload is the provider-agnostic notification content.
type ProviderPayload struct {
	Title string
	Body  string
	Data  map[string]string
}

type intentKey struct {
	messageID uint64
	deviceID  string
}

// Planner tracks intents and dispatches them to registered providers.
type Planner struct {
	mu        sync.Mutex
	intents   map[intentKey]*Intent
	providers map[string]Provider // provider name ("fcm", "apns") -> provider
	// deviceLookup resolves which devices of a user should receive a push
	// (offline or backgrounded devices only; realtime-delivered devices
	// never get an intent planned for them).
	deviceLookup DeviceLookup
}

// DeviceLookup resolves the devices of userID eligible for push (i.e. not
// currently served by a realtime session).
type DeviceLookup interface {
	PushEligibleDevices(ctx context.Context, userID uint64) ([]DeviceTarget, error)
}

// DeviceTarget names a device and the provider that should be used for it.
type DeviceTarget struct {
	DeviceID     string
	ProviderName string // "fcm" or "apns"
}

// New builds a Planner backed by the given providers, keyed by name.
func New(providers map[string]Provider, lookup DeviceLookup) *Planner {
	return &Planner{
		intents:      make(map[intentKey]*Intent),
		providers:    providers,
		deviceLookup: lookup,
	}
}

// Plan creates one Planned intent per push-eligible device of every
// recipient and immediately attempts delivery.
func (p *Planner) Plan(ctx context.Context, evt eventbus.DomainEvent, payload ProviderPayload) {
	for _, userID := range evt.RecipientIDs {
		targets, err := p.deviceLookup.PushEligibleDevices(ctx, userID)
		if err != nil {
			continue
		}
		for _, t := range targets {
			p.planOne(ctx, evt.MessageID, userID, t, payload)
		}
	}
}

func (p *Planner) planOne(ctx context.Context, messageID, userID uint64, target DeviceTarget, payload ProviderPayload) {
	key := intentKey{messageID, target.DeviceID}

	p.mu.Lock()
	if _, exists := p.intents[key]; exists {
		p.mu.Unlock()
		return
	}
	intent := &Intent{MessageID: messageID, DeviceID: target.DeviceID, UserID: userID, State: Planned, PlannedAt: time.Now()}
	p.intents[key] = intent
	p.mu.Unlock()

	provider, ok := p.providers[target.ProviderName]
	if !ok {
		return
	}
	if err := provider.Send(ctx, *intent, payload); err != nil {
		return
	}

	p.mu.Lock()
	if intent.State == Planned {
		now := time.Now()
		intent.State = Sent
		intent.SentAt = &now
	}
	p.mu.Unlock()
}

// Cancel transitions a still-Planned or Sent intent to Cancelled, used
// when a realtime delivery reaches that device. Cancelling
// an already-Delivered or already-Cancelled intent is a no-op.
func (p *Planner) Cancel(messageID uint64, deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if intent, ok := p.intents[intentKey{messageID, deviceID}]; ok {
		if intent.State == Planned || intent.State == Sent {
			intent.State = Cancelled
		}
	}
}

// CancelMessage cancels every still-pending intent for messageID across
// every device, used when the message is revoked before all of its pushes
// have drained.
func (p *Planner) CancelMessage(messageID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, intent := range p.intents {
		if key.messageID != messageID {
			continue
		}
		if intent.State == Planned || intent.State == Sent {
			intent.State = Cancelled
		}
	}
}

// MarkDelivered transitions a Sent intent to Delivered, called on a push
// provider's delivery receipt (FCM/APNs confirm receipt asynchronously).
func (p *Planner) MarkDelivered(messageID uint64, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[intentKey{messageID, deviceID}]
	if !ok {
		return fmt.Errorf("pushplanner: no intent for message %d device %s", messageID, deviceID)
	}
	if intent.State == Sent {
		intent.State = Delivered
	}
	return nil
}

// Get returns a copy of an intent's current state, for tests and debugging.
func (p *Planner) Get(messageID uint64, deviceID string) (Intent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[intentKey{messageID, deviceID}]
	if !ok {
		return Intent{}, false
	}
	return *intent, true
}
