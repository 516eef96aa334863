// Package channel implements the channel/membership service (spec §4.G):
// channel creation (direct/group), idempotent direct-channel lookup, join/
// leave, read-pointer tracking, and the role -> capability permission
// table.
//
// Grounded on server/hub.go's topicInit (p2p/group creation and the
// existing-vs-missing-subscription cases) and server/store/types/types.go's
// AccessMode bitflag, generalized here into the three discrete roles spec
// §3 names (Owner/Admin/Member) instead of a capability bitmask.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/privchat/privchat/internal/cache"
	"github.com/privchat/privchat/internal/store"
)

// Errors surfaced by the channel service, classified per spec §7.
var (
	ErrChannelNotFound   = errors.New("channel: not found")
	ErrNotMember         = errors.New("channel: not a participant")
	ErrCapacityExceeded  = errors.New("channel: capacity exceeded")
	ErrOwnerCannotLeave  = errors.New("channel: owner must transfer ownership before leaving")
	ErrRequiresApproval  = errors.New("channel: join requires approval")
)

// Capability names used by the role -> permission table.
type Capability int

const (
	CanSendMessage Capability = iota
	CanEditInfo
	CanSetAnnouncement
	CanSetAllMuted
	CanKick
	CanChangeRole
	CanInvite
)

// roleCapabilities is the fixed table from spec §3: Owner can do
// everything; Admin can kick/mute/edit-info; Member can post. Member
// never holds CanInvite: the table is fixed per role, and the channel's
// AllowMemberInvite setting is not consulted by Can.
var roleCapabilities = map[store.Role]map[Capability]bool{
	store.RoleOwner: {
		CanSendMessage: true, CanEditInfo: true, CanSetAnnouncement: true,
		CanSetAllMuted: true, CanKick: true, CanChangeRole: true, CanInvite: true,
	},
	store.RoleAdmin: {
		CanSendMessage: true, CanEditInfo: true, CanSetAnnouncement: true,
		CanSetAllMuted: true, CanKick: true, CanChangeRole: false, CanInvite: true,
	},
	store.RoleMember: {
		CanSendMessage: true, CanEditInfo: false, CanSetAnnouncement: false,
		CanSetAllMuted: false, CanKick: false, CanChangeRole: false, CanInvite: false,
	},
}

// Can reports whether role carries capability cap.
func Can(role store.Role, cap Capability) bool {
	return roleCapabilities[role][cap]
}

// CreateRequest is the caller-supplied subset of channel fields for CreateChannel.
type CreateRequest struct {
	ChannelType  store.ChannelType
	TargetUserID uint64 // for Direct: the sole other participant
	Name         string // for Group: required
	Metadata     store.ChannelMetadata
	Settings     store.ChannelSettings
	Source       string
}

// Response wraps the result of a channel mutation, matching the spec's
// ChannelResponse{channel, success, error?} shape.
type Response struct {
	Channel *store.Channel
	Created bool
	Error   error
}

// Service implements the channel/membership operations.
type Service struct {
	channels store.ChannelRepository
	cache    *cache.Cache
}

// New builds a Service.
func New(channels store.ChannelRepository, c *cache.Cache) *Service {
	return &Service{channels: channels, cache: c}
}

// CreateChannel creates a Direct or Group channel per spec §4.G. Direct
// creation is idempotent: an existing channel for the pair is returned
// instead of creating a duplicate.
func (s *Service) CreateChannel(ctx context.Context, creatorID uint64, req CreateRequest) Response {
	switch req.ChannelType {
	case store.ChannelDirect:
		ch, created, err := s.channels.GetOrCreateDirectChannel(ctx, creatorID, req.TargetUserID, req.Source)
		if err != nil {
			return Response{Error: fmt.Errorf("channel: create direct: %w", err)}
		}
		return Response{Channel: ch, Created: created}

	case store.ChannelGroup:
		if req.Name == "" {
			return Response{Error: errors.New("channel: group name is required")}
		}
		ch := &store.Channel{
			ChannelType: store.ChannelGroup,
			CreatorID:   creatorID,
			Metadata:    req.Metadata,
			Settings:    req.Settings,
			Status:      store.ChannelActive,
		}
		ch.Metadata.Name = req.Name
		if err := s.channels.Create(ctx, ch); err != nil {
			return Response{Error: fmt.Errorf("channel: create group: %w", err)}
		}
		if err := s.channels.AddParticipant(ctx, ch.ID, creatorID, store.RoleOwner); err != nil {
			return Response{Error: fmt.Errorf("channel: add owner: %w", err)}
		}
		return Response{Channel: ch, Created: true}

	default:
		return Response{Error: fmt.Errorf("channel: unsupported channel_type %v", req.ChannelType)}
	}
}

// GetOrCreateDirectChannel is the idempotent convenience used by friend
// acceptance and system-message paths.
func (s *Service) GetOrCreateDirectChannel(ctx context.Context, u, v uint64, source string) (*store.Channel, bool, error) {
	return s.channels.GetOrCreateDirectChannel(ctx, u, v, source)
}

// JoinChannel adds userID to channelID with capacity and invite-policy
// checks. If the channel requires approval and the joiner isn't an
// Owner/Admin inviting, the join is rejected with ErrRequiresApproval
// (the caller surfaces this as a pending-approval state).
func (s *Service) JoinChannel(ctx context.Context, channelID, userID uint64, role store.Role, invitedByRole *store.Role) error {
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrChannelNotFound
		}
		return fmt.Errorf("channel: join: get channel: %w", err)
	}

	members, err := s.channels.GetParticipants(ctx, channelID)
	if err != nil {
		return fmt.Errorf("channel: join: get participants: %w", err)
	}
	if ch.Metadata.MaxMembers > 0 && len(members) >= ch.Metadata.MaxMembers {
		return ErrCapacityExceeded
	}

	if ch.Settings.RequireApproval {
		invitedByAdminOrOwner := invitedByRole != nil && (*invitedByRole == store.RoleOwner || *invitedByRole == store.RoleAdmin)
		if !invitedByAdminOrOwner {
			return ErrRequiresApproval
		}
	}

	if err := s.channels.AddParticipant(ctx, channelID, userID, role); err != nil {
		return fmt.Errorf("channel: join: add participant: %w", err)
	}
	return nil
}

// LeaveChannel removes userID from channelID. Removing the Owner of a
// Group is rejected unless ownership is transferred first (not specified
// as core behavior; treated as an error here per spec §4.G).
func (s *Service) LeaveChannel(ctx context.Context, channelID, userID uint64) error {
	member, err := s.channels.GetParticipant(ctx, channelID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotMember
		}
		return fmt.Errorf("channel: leave: get participant: %w", err)
	}
	if member.Role == store.RoleOwner {
		return ErrOwnerCannotLeave
	}
	if err := s.channels.RemoveParticipant(ctx, channelID, userID); err != nil {
		return fmt.Errorf("channel: leave: remove participant: %w", err)
	}
	return nil
}

// MarkReadPts sets member.last_read_pts = max(current, readPts) and
// returns the resulting value. Unread count is computed by the caller as
// channel.max_pts - member.last_read_pts.
func (s *Service) MarkReadPts(ctx context.Context, channelID, userID, readPts uint64) (uint64, error) {
	member, err := s.channels.GetParticipant(ctx, channelID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotMember
		}
		return 0, fmt.Errorf("channel: mark read: get participant: %w", err)
	}
	if readPts > member.LastReadPts {
		member.LastReadPts = readPts
	}
	if err := s.channels.UpdateParticipant(ctx, member); err != nil {
		return 0, fmt.Errorf("channel: mark read: update participant: %w", err)
	}
	return member.LastReadPts, nil
}

// IsParticipant reports whether userID is a member of channelID.
func (s *Service) IsParticipant(ctx context.Context, channelID, userID uint64) (*store.ChannelMember, bool, error) {
	member, err := s.channels.GetParticipant(ctx, channelID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("channel: is participant: %w", err)
	}
	return member, true, nil
}
