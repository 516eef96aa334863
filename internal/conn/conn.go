// Package conn implements the connection registry (spec §4.E): a thin
// layer above the transport mapping (user, device) to session, driving
// kick-out of replaced sessions and unicast push.
package conn

import (
	"context"
	"fmt"
	"sync"
)

// TransportSink is the back-reference the registry uses to reach the
// transport without importing it directly, per spec §9's design note.
type TransportSink interface {
	Send(ctx context.Context, sessionID string, packet []byte) error
	Disconnect(sessionID string, reason string)
}

type deviceKey struct {
	userID   uint64
	deviceID string
}

// Registry maps (user, device) to the current session, evicting the prior
// session on a new login for the same device.
type Registry struct {
	mu        sync.RWMutex
	sinkMu    sync.RWMutex
	sink      TransportSink
	byDevice  map[deviceKey]string
	byUser    map[uint64]map[string]bool // userID -> set of session IDs
	sessionOf map[string]deviceKey
}

// NewRegistry builds a Registry. SetTransportSink must be called before
// SendPushToUser or Register (to allow eviction) can do useful work, but
// the registry functions correctly with sink == nil for tests.
func NewRegistry() *Registry {
	return &Registry{
		byDevice:  make(map[deviceKey]string),
		byUser:    make(map[uint64]map[string]bool),
		sessionOf: make(map[string]deviceKey),
	}
}

// SetTransportSink wires the registry to the live transport.
func (r *Registry) SetTransportSink(sink TransportSink) {
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	r.sink = sink
}

func (r *Registry) transportSink() TransportSink {
	r.sinkMu.RLock()
	defer r.sinkMu.RUnlock()
	return r.sink
}

// Register binds sessionID to (userID, deviceID), forcibly disconnecting
// any prior session already registered for that device.
func (r *Registry) Register(userID uint64, deviceID, sessionID string) {
	key := deviceKey{userID, deviceID}

	r.mu.Lock()
	prior, hadPrior := r.byDevice[key]
	r.byDevice[key] = sessionID
	r.sessionOf[sessionID] = key
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]bool)
	}
	r.byUser[userID][sessionID] = true
	if hadPrior && prior != sessionID {
		delete(r.sessionOf, prior)
		delete(r.byUser[userID], prior)
	}
	r.mu.Unlock()

	if hadPrior && prior != sessionID {
		if sink := r.transportSink(); sink != nil {
			sink.Disconnect(prior, "replaced by new login")
		}
	}
}

// Unregister removes a session, returning the (user, device) it was bound
// to, if any.
func (r *Registry) Unregister(sessionID string) (userID uint64, deviceID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.sessionOf[sessionID]
	if !ok {
		return 0, "", false
	}
	delete(r.sessionOf, sessionID)
	if r.byDevice[key] == sessionID {
		delete(r.byDevice, key)
	}
	if users := r.byUser[key.userID]; users != nil {
		delete(users, sessionID)
		if len(users) == 0 {
			delete(r.byUser, key.userID)
		}
	}
	return key.userID, key.deviceID, true
}

// GetSessionsForDevice returns the session currently bound to (user, device), if any.
func (r *Registry) GetSessionsForDevice(userID uint64, deviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byDevice[deviceKey{userID, deviceID}]
	return sid, ok
}

// SendToSession pushes packet to exactly one already-resolved session,
// used when the caller (message fan-out) has already decided which
// session should receive it, e.g. after checking it is READY.
func (r *Registry) SendToSession(ctx context.Context, sessionID string, packet []byte) error {
	sink := r.transportSink()
	if sink == nil {
		return fmt.Errorf("conn: no transport sink configured")
	}
	return sink.Send(ctx, sessionID, packet)
}

// SendPushToUser pushes packet to every session currently registered for
// userID, returning the count of sessions the send was attempted on.
// Per-session send failures are not fatal to the whole fan-out.
func (r *Registry) SendPushToUser(ctx context.Context, userID uint64, packet []byte) (int, error) {
	sink := r.transportSink()
	if sink == nil {
		return 0, fmt.Errorf("conn: no transport sink configured")
	}

	r.mu.RLock()
	sessionIDs := make([]string, 0, len(r.byUser[userID]))
	for sid := range r.byUser[userID] {
		sessionIDs = append(sessionIDs, sid)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sid := range sessionIDs {
		if err := sink.Send(ctx, sid, packet); err == nil {
			delivered++
		}
	}
	return delivered, nil
}
