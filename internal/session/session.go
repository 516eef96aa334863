// Package session implements the session registry (spec §4.D): for each
// bound session, tracks user, device, JWT claims, client pts and the READY
// gate that separates authentication from realtime push eligibility.
package session

import (
	"sync"
	"time"
)

// Info is the per-session state held by the registry.
type Info struct {
	SessionID       string
	UserID          uint64
	DeviceID        string
	Claims          map[string]any
	AuthenticatedAt time.Time
	LastActiveAt    time.Time
	ClientPts       map[uint64]uint64 // channel_id -> last delivered pts
	Ready           bool
}

// Registry is a concurrent session_id -> Info map with TTL cleanup.
//
// Grounded on server/session.go's Session struct. Both maps sit behind
// one registry-wide sync.RWMutex; the registry is not sharded.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Info
	byUser   map[uint64]map[string]bool

	timeout time.Duration
}

// NewRegistry builds a Registry. timeout is the idle duration after which
// CleanupExpired removes a session.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Info),
		byUser:   make(map[uint64]map[string]bool),
		timeout:  timeout,
	}
}

// Bind registers a newly authenticated session. client_pts starts at zero
// per channel (populated lazily) and ready starts false.
func (r *Registry) Bind(sessionID string, userID uint64, deviceID string, claims map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.sessions[sessionID] = &Info{
		SessionID:       sessionID,
		UserID:          userID,
		DeviceID:        deviceID,
		Claims:          claims,
		AuthenticatedAt: now,
		LastActiveAt:    now,
		ClientPts:       make(map[uint64]uint64),
		Ready:           false,
	}
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]bool)
	}
	r.byUser[userID][sessionID] = true
}

// UpdateClientPts records the last pts delivered to this session for a
// channel, called when sync delivers a batch.
func (r *Registry) UpdateClientPts(sessionID string, channelID, pts uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[sessionID]; ok {
		info.ClientPts[channelID] = pts
		info.LastActiveAt = time.Now()
	}
}

// MarkReady transitions the session to READY. Returns true iff the
// transition actually happened (it was not already ready).
func (r *Registry) MarkReady(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sessions[sessionID]
	if !ok || info.Ready {
		return false
	}
	info.Ready = true
	return true
}

// IsReady reports whether a session is past the READY gate.
func (r *Registry) IsReady(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[sessionID]
	return ok && info.Ready
}

// GetUserID returns the user bound to a session, if any.
func (r *Registry) GetUserID(sessionID string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[sessionID]
	if !ok {
		return 0, false
	}
	return info.UserID, true
}

// GetSessionInfo returns a copy of the session's info.
func (r *Registry) GetSessionInfo(sessionID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// ListUserSessions returns every session_id bound to a user.
func (r *Registry) ListUserSessions(userID uint64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser[userID]))
	for sid := range r.byUser[userID] {
		out = append(out, sid)
	}
	return out
}

// Unbind removes a session from the registry.
func (r *Registry) Unbind(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	if users := r.byUser[info.UserID]; users != nil {
		delete(users, sessionID)
		if len(users) == 0 {
			delete(r.byUser, info.UserID)
		}
	}
}

// CleanupExpired removes every session whose last activity is older than
// the configured timeout, returning the removed session IDs.
func (r *Registry) CleanupExpired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.timeout)
	var expired []string
	for sid, info := range r.sessions {
		if info.LastActiveAt.Before(cutoff) {
			expired = append(expired, sid)
		}
	}
	for _, sid := range expired {
		info := r.sessions[sid]
		delete(r.sessions, sid)
		if users := r.byUser[info.UserID]; users != nil {
			delete(users, sid)
			if len(users) == 0 {
				delete(r.byUser, info.UserID)
			}
		}
	}
	return expired
}

// Touch refreshes LastActiveAt, called on every inbound packet.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[sessionID]; ok {
		info.LastActiveAt = time.Now()
	}
}
