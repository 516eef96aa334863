// Package sync implements the catch-up path (spec §4.J): replaying
// missed channel messages by pts range and resyncing user-settings
// entities by a version cursor, both invoked over the wire's RPC route.
//
// Grounded on server/store/adapter/adapter.go's range-query shape for
// MessageGetAll (a query-options struct bounding a result page) and
// server/session.go's post-{sub}/pre-READY replay of queued messages,
// generalized here into an explicit pts-range RPC instead of an
// implicit replay-on-subscribe.
package sync

import (
	"context"
	"fmt"

	"github.com/privchat/privchat/internal/session"
	"github.com/privchat/privchat/internal/store"
)

const defaultPageLimit = 200

// ChannelPage is one page of a channel catch-up.
type ChannelPage struct {
	Messages []*store.Message
	MaxPts   uint64
	HasMore  bool
}

// Service implements SyncChannel and SyncEntities.
type Service struct {
	messages store.MessageRepository
	settings store.UserSettingsRepository
	sessions *session.Registry
}

// New builds a Service.
func New(messages store.MessageRepository, settings store.UserSettingsRepository, sessions *session.Registry) *Service {
	return &Service{messages: messages, settings: settings, sessions: sessions}
}

// SyncChannel replays every message with pts in (clientPts, channel max],
// ascending, capped at limit per page. It records the session's new
// client_pts watermark and marks the session READY once the page reaches
// the channel's current max pts (i.e. the caller has fully caught up).
func (s *Service) SyncChannel(ctx context.Context, sessionID string, channelID, clientPts uint64, limit int) (ChannelPage, error) {
	if limit <= 0 || limit > defaultPageLimit {
		limit = defaultPageLimit
	}

	maxPts, err := s.messages.MaxPts(ctx, channelID)
	if err != nil {
		return ChannelPage{}, fmt.Errorf("sync: channel %d: max pts: %w", channelID, err)
	}
	if clientPts >= maxPts {
		if s.sessions != nil {
			s.sessions.UpdateClientPts(sessionID, channelID, clientPts)
			s.sessions.MarkReady(sessionID)
		}
		return ChannelPage{MaxPts: maxPts}, nil
	}

	msgs, err := s.messages.ListByChannelSincePts(ctx, channelID, clientPts, limit+1)
	if err != nil {
		return ChannelPage{}, fmt.Errorf("sync: channel %d: list since pts %d: %w", channelID, clientPts, err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	newClientPts := clientPts
	if len(msgs) > 0 {
		newClientPts = msgs[len(msgs)-1].Pts
	}
	if s.sessions != nil {
		s.sessions.UpdateClientPts(sessionID, channelID, newClientPts)
		if !hasMore && newClientPts >= maxPts {
			s.sessions.MarkReady(sessionID)
		}
	}

	return ChannelPage{Messages: msgs, MaxPts: maxPts, HasMore: hasMore}, nil
}

// EntityPage is one page of an entity (user-settings) catch-up.
type EntityPage struct {
	Items       []store.UserSetting
	NextVersion uint64
	HasMore     bool
}

// SyncEntities resyncs userID's settings since sinceVersion. Per the
// decided Open Question, this is a replace-on-fetch cursor: the caller
// overwrites its local copy of every returned key rather than applying
// incremental deltas, and a fresh client starts from sinceVersion=0 to
// fetch the complete current set with next_version=1 on an empty account.
func (s *Service) SyncEntities(ctx context.Context, userID, sinceVersion uint64, limit int) (EntityPage, error) {
	if limit <= 0 || limit > defaultPageLimit {
		limit = defaultPageLimit
	}
	items, nextVersion, hasMore, err := s.settings.ListSince(ctx, userID, sinceVersion, limit)
	if err != nil {
		return EntityPage{}, fmt.Errorf("sync: entities for user %d: %w", userID, err)
	}
	if nextVersion == 0 {
		nextVersion = 1
	}
	return EntityPage{Items: items, NextVersion: nextVersion, HasMore: hasMore}, nil
}
