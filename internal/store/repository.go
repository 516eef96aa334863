package store

import (
	"context"
	"time"
)

// UserRepository persists User rows. Username and email are enforced
// unique case-insensitively by the implementation.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	// CreateWithID inserts a user with a caller-supplied ID, used for
	// reserved system users (id in [1, SystemUserRangeEnd]).
	CreateWithID(ctx context.Context, u *User) error
	Get(ctx context.Context, id uint64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uint64) error
}

// DeviceRepository manages device lifecycle and the session-state predicate
// used by the auth handler.
type DeviceRepository interface {
	Upsert(ctx context.Context, d *Device) error
	Get(ctx context.Context, deviceID string) (*Device, error)
	Delete(ctx context.Context, deviceID string) error
	DeleteAllForUser(ctx context.Context, userID uint64) error
	ListForUser(ctx context.Context, userID uint64) ([]*Device, error)
	BumpSessionVersion(ctx context.Context, deviceID string) (uint64, error)
	SetSessionState(ctx context.Context, deviceID string, state SessionState, reason string) error

	// VerifyDeviceSession implements the spec's device-session predicate:
	// DeviceNotFound, SessionInactive, VersionMismatch or Valid.
	VerifyDeviceSession(ctx context.Context, userID uint64, deviceID string, tokenVersion uint64) (VerifyResult, error)
}

// VerifyResult is the outcome of VerifyDeviceSession.
type VerifyResult struct {
	Valid          bool
	DeviceNotFound bool
	SessionInactive bool
	InactiveState  SessionState
	InactiveReason string
	VersionMismatch bool
	TokenVersion   uint64
	CurrentVersion uint64
}

// ChannelRepository persists channels, groups, and their participants.
type ChannelRepository interface {
	Create(ctx context.Context, c *Channel) error
	Get(ctx context.Context, channelID uint64) (*Channel, error)
	Update(ctx context.Context, c *Channel) error

	// GetOrCreateDirectChannel is idempotent over the unordered pair
	// (u1, u2) and returns the channel plus whether it was just created.
	GetOrCreateDirectChannel(ctx context.Context, u1, u2 uint64, source string) (*Channel, bool, error)

	AddParticipant(ctx context.Context, channelID, userID uint64, role Role) error
	RemoveParticipant(ctx context.Context, channelID, userID uint64) error
	GetParticipants(ctx context.Context, channelID uint64) ([]*ChannelMember, error)
	GetParticipant(ctx context.Context, channelID, userID uint64) (*ChannelMember, error)
	UpdateParticipant(ctx context.Context, m *ChannelMember) error
	ListChannelIDsByUser(ctx context.Context, userID uint64) ([]uint64, error)
}

// MessageRepository persists the append-only commit log.
type MessageRepository interface {
	// Create rejects a duplicate message_id or duplicate (channel_id, pts)
	// with ErrDuplicateMessage.
	Create(ctx context.Context, m *Message) error
	FindByID(ctx context.Context, messageID uint64) (*Message, error)
	FindByDedupKey(ctx context.Context, senderID, localMessageID uint64) (*Message, error)
	ListByChannel(ctx context.Context, channelID uint64, limit int, beforeCreatedAt *time.Time) ([]*Message, error)
	// ListByChannelSincePts returns messages with pts in (sincePts, max], ascending.
	ListByChannelSincePts(ctx context.Context, channelID uint64, sincePts uint64, limit int) ([]*Message, error)
	MaxPts(ctx context.Context, channelID uint64) (uint64, error)
	Revoke(ctx context.Context, messageID, by uint64) error
	Delete(ctx context.Context, messageID uint64) error
}

// LoginLogRepository records login attempts. is_token_logged has a caller
// side 30s TTL cache (see internal/loginrisk) to absorb reconnect storms.
type LoginLogRepository interface {
	Insert(ctx context.Context, l *LoginLog) error
	IsTokenLogged(ctx context.Context, jti string) (bool, error)
	ListByUser(ctx context.Context, userID uint64, since time.Time, limit int) ([]*LoginLog, error)
}

// PresenceRepository tracks last-seen timestamps.
type PresenceRepository interface {
	Upsert(ctx context.Context, userID uint64, lastSeenAt time.Time) error
	UpsertBatch(ctx context.Context, userIDs []uint64, lastSeenAt time.Time) error
	Get(ctx context.Context, userID uint64) (time.Time, error)
	CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// UserSettingsRepository backs the per-user strictly-increasing entity sync
// cursor for settings.
type UserSettingsRepository interface {
	Set(ctx context.Context, userID uint64, key string, value any) (version uint64, err error)
	ListSince(ctx context.Context, userID uint64, sinceVersion uint64, limit int) (items []UserSetting, nextVersion uint64, hasMore bool, err error)
}

// UserSetting is one key/value/version row.
type UserSetting struct {
	Key       string
	Value     any
	Version   uint64
	UpdatedAt time.Time
}

// Repositories bundles every repository for convenient dependency injection.
type Repositories struct {
	Users         UserRepository
	Devices       DeviceRepository
	Channels      ChannelRepository
	Messages      MessageRepository
	LoginLogs     LoginLogRepository
	Presence      PresenceRepository
	UserSettings  UserSettingsRepository
}
