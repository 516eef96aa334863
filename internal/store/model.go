// Package store defines the persistence contracts for privchat: users,
// devices, channels, messages, login logs and presence. Implementations
// never cache; caching is a separate concern (see internal/cache).
package store

import "time"

// UserType distinguishes normal accounts from system/bot accounts.
type UserType int

const (
	UserNormal UserType = iota
	UserSystem
	UserBot
)

// UserStatus is the lifecycle state of a user account.
type UserStatus int

const (
	UserActive UserStatus = iota
	UserInactive
	UserSuspended
	UserDeleted
)

// SystemUserRangeEnd is the upper bound (inclusive) of reserved system-user IDs.
const SystemUserRangeEnd = 99

// User is a registered account.
type User struct {
	ID              uint64
	Username        string
	PasswordHash    string // bcrypt, cost >= 10; empty for passwordless accounts
	Phone           string
	Email           string
	DisplayName     string
	AvatarURL       string
	UserType        UserType
	Status          UserStatus
	PrivacySettings map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastActiveAt    time.Time
}

// IsSystem reports whether the user occupies the reserved system range.
func (u *User) IsSystem() bool {
	return u.ID >= 1 && u.ID <= SystemUserRangeEnd
}

// DeviceType enumerates client platforms.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceIOS
	DeviceAndroid
	DeviceMacOS
	DeviceWindows
	DeviceLinux
	DeviceWeb
)

// SessionState is the per-device session lifecycle state.
type SessionState int

const (
	SessionActive SessionState = iota
	SessionKicked
)

// Device is a registered client install for a user.
type Device struct {
	DeviceID         string // UUID
	UserID           uint64
	BusinessSystemID string
	AppID            string
	DeviceType       DeviceType
	TokenJTI         string
	SessionVersion   uint64
	SessionState     SessionState
	KickedAt         *time.Time
	KickedReason     string
	LastActiveAt     time.Time
	CreatedAt        time.Time
	IPAddress        string
}

// ChannelType distinguishes direct messages, groups and system channels.
type ChannelType int

const (
	ChannelDirect ChannelType = iota
	ChannelGroup
	ChannelSystem
)

// ChannelStatus is the lifecycle state of a channel.
type ChannelStatus int

const (
	ChannelActive ChannelStatus = iota
	ChannelArchived
	ChannelDeleted
	ChannelBanned
)

// ChannelMetadata carries display attributes.
type ChannelMetadata struct {
	Name         string
	Description  string
	AvatarURL    string
	Announcement string
	IsPublic     bool
	MaxMembers   int
}

// ChannelSettings carries channel-level policy knobs.
type ChannelSettings struct {
	IsMutedAll        bool
	RequireApproval   bool
	AllowMemberInvite bool
}

// Channel is a direct or group conversation.
type Channel struct {
	ID              uint64
	ChannelType     ChannelType
	CreatorID       uint64
	Metadata        ChannelMetadata
	Settings        ChannelSettings
	Status          ChannelStatus
	GroupID         *uint64
	DirectUser1ID   *uint64 // min(u1, u2) for Direct channels
	DirectUser2ID   *uint64 // max(u1, u2) for Direct channels
	LastMessageID   *uint64
	LastMessageAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Role is a channel member's permission role.
type Role int

const (
	RoleMember Role = iota
	RoleAdmin
	RoleOwner
)

// ChannelMember is a user's membership record in a channel.
type ChannelMember struct {
	ChannelID        uint64
	UserID           uint64
	Role             Role
	IsMuted          bool
	LastReadPts      uint64
	LastReadMessage  *uint64
	JoinedAt         time.Time
	LastActiveAt     time.Time
}

// MessageType enumerates the content kinds a message may carry.
type MessageType int

const (
	MessageText MessageType = iota
	MessageImage
	MessageVideo
	MessageVoice
	MessageAudio
	MessageFile
	MessageLocation
	MessageContactCard
	MessageSticker
	MessageForward
	MessageSystem
)

// Message is a single committed chat message.
type Message struct {
	MessageID         uint64
	ChannelID         uint64
	SenderID          uint64
	Pts               uint64
	LocalMessageID    uint64
	Content           string
	Metadata          map[string]any
	MessageType       MessageType
	ReplyToMessageID  *uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Deleted           bool
	DeletedAt         *time.Time
	Revoked           bool
	RevokedAt         *time.Time
	RevokedBy         *uint64
}

// LoginStatus is the outcome recorded for a login attempt.
type LoginStatus int

const (
	LoginSuccess LoginStatus = iota
	LoginSuspicious
	LoginBlocked
)

// LoginLog records one token-issuance event for risk auditing.
type LoginLog struct {
	LogID               uint64
	UserID               uint64
	DeviceID             string
	TokenJTI             string
	TokenCreatedAt       time.Time
	TokenFirstUsedAt     *time.Time
	DeviceType           DeviceType
	DeviceName           string
	DeviceModel          string
	OSVersion            string
	AppID                string
	AppVersion           string
	IPAddress            string
	UserAgent            string
	LoginMethod          string
	AuthSource           string
	Status               LoginStatus
	RiskScore            int
	IsNewDevice          bool
	IsNewLocation        bool
	RiskFactors          []string
	NotificationSent     bool
	NotificationMethod   string
	NotificationSentAt   *time.Time
	Metadata             map[string]any
	CreatedAt            time.Time
}
