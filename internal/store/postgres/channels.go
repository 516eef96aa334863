package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/privchat/privchat/internal/store"
)

// ChannelRepo implements store.ChannelRepository.
type ChannelRepo struct {
	db *sqlx.DB
}

type channelRow struct {
	ID            uint64         `db:"channel_id"`
	ChannelType   int            `db:"channel_type"`
	CreatorID     uint64         `db:"creator_id"`
	Name          sql.NullString `db:"name"`
	Description   sql.NullString `db:"description"`
	AvatarURL     sql.NullString `db:"avatar_url"`
	Announcement  sql.NullString `db:"announcement"`
	IsPublic      bool           `db:"is_public"`
	MaxMembers    sql.NullInt32  `db:"max_members"`
	IsMutedAll    bool           `db:"is_muted_all"`
	RequireAppr   bool           `db:"require_approval"`
	AllowInvite   bool           `db:"allow_member_invite"`
	Status        int            `db:"status"`
	GroupID       sql.NullInt64  `db:"group_id"`
	DirectUser1ID sql.NullInt64  `db:"direct_user1_id"`
	DirectUser2ID sql.NullInt64  `db:"direct_user2_id"`
	LastMessageID sql.NullInt64  `db:"last_message_id"`
	LastMessageAt sql.NullTime   `db:"last_message_at"`
	CreatedAt     sql.NullTime   `db:"created_at"`
	UpdatedAt     sql.NullTime   `db:"updated_at"`
}

func (r *channelRow) toModel() *store.Channel {
	c := &store.Channel{
		ID:          r.ID,
		ChannelType: store.ChannelType(r.ChannelType),
		CreatorID:   r.CreatorID,
		Metadata: store.ChannelMetadata{
			Name:         r.Name.String,
			Description:  r.Description.String,
			AvatarURL:    r.AvatarURL.String,
			Announcement: r.Announcement.String,
			IsPublic:     r.IsPublic,
			MaxMembers:   int(r.MaxMembers.Int32),
		},
		Settings: store.ChannelSettings{
			IsMutedAll:        r.IsMutedAll,
			RequireApproval:   r.RequireAppr,
			AllowMemberInvite: r.AllowInvite,
		},
		Status:    store.ChannelStatus(r.Status),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if r.GroupID.Valid {
		v := uint64(r.GroupID.Int64)
		c.GroupID = &v
	}
	if r.DirectUser1ID.Valid {
		v := uint64(r.DirectUser1ID.Int64)
		c.DirectUser1ID = &v
	}
	if r.DirectUser2ID.Valid {
		v := uint64(r.DirectUser2ID.Int64)
		c.DirectUser2ID = &v
	}
	if r.LastMessageID.Valid {
		v := uint64(r.LastMessageID.Int64)
		c.LastMessageID = &v
	}
	if r.LastMessageAt.Valid {
		c.LastMessageAt = &r.LastMessageAt.Time
	}
	return c
}

// Create inserts a new channel; Postgres assigns channel_id via BIGSERIAL
// unless GroupID is already set (Group channels reuse group_id as channel_id).
func (r *ChannelRepo) Create(ctx context.Context, c *store.Channel) error {
	row := `INSERT INTO privchat_channels
		(channel_id, channel_type, creator_id, name, description, avatar_url, announcement,
		 is_public, max_members, is_muted_all, require_approval, allow_member_invite, status,
		 group_id, direct_user1_id, direct_user2_id, created_at, updated_at)`
	var err error
	args := []any{int(c.ChannelType), c.CreatorID, nullableString(c.Metadata.Name),
		nullableString(c.Metadata.Description), nullableString(c.Metadata.AvatarURL),
		nullableString(c.Metadata.Announcement), c.Metadata.IsPublic, nullableInt(c.Metadata.MaxMembers),
		c.Settings.IsMutedAll, c.Settings.RequireApproval, c.Settings.AllowMemberInvite,
		int(c.Status), nullableUint(c.GroupID), nullableUint(c.DirectUser1ID), nullableUint(c.DirectUser2ID),
		c.CreatedAt, c.UpdatedAt}

	if c.GroupID != nil {
		// Group channel: channel_id == group_id, supplied by the caller.
		query := row + ` VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`
		args = append([]any{*c.GroupID}, args...)
		_, err = r.db.ExecContext(ctx, query, args...)
		c.ID = *c.GroupID
	} else {
		query := `INSERT INTO privchat_channels
			(channel_type, creator_id, name, description, avatar_url, announcement,
			 is_public, max_members, is_muted_all, require_approval, allow_member_invite, status,
			 group_id, direct_user1_id, direct_user2_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			RETURNING channel_id`
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create channel: direct pair already exists: %w", err)
		}
		return fmt.Errorf("postgres: create channel: %w", err)
	}
	return nil
}

// Get loads a channel by ID.
func (r *ChannelRepo) Get(ctx context.Context, channelID uint64) (*store.Channel, error) {
	var row channelRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM privchat_channels WHERE channel_id = $1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get channel: %w", err)
	}
	return row.toModel(), nil
}

// Update persists mutable channel fields (metadata, settings, status,
// last-message pointer).
func (r *ChannelRepo) Update(ctx context.Context, c *store.Channel) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE privchat_channels SET
			name=$1, description=$2, avatar_url=$3, announcement=$4, is_public=$5,
			max_members=$6, is_muted_all=$7, require_approval=$8, allow_member_invite=$9,
			status=$10, last_message_id=$11, last_message_at=$12, updated_at=$13
		WHERE channel_id=$14`,
		nullableString(c.Metadata.Name), nullableString(c.Metadata.Description),
		nullableString(c.Metadata.AvatarURL), nullableString(c.Metadata.Announcement),
		c.Metadata.IsPublic, nullableInt(c.Metadata.MaxMembers), c.Settings.IsMutedAll,
		c.Settings.RequireApproval, c.Settings.AllowMemberInvite, int(c.Status),
		nullableUint(c.LastMessageID), c.LastMessageAt, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("postgres: update channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetOrCreateDirectChannel is idempotent over the unordered pair (u1, u2),
// relying on the unique index over (channel_type=direct, LEAST(u1,u2),
// GREATEST(u1,u2)).
func (r *ChannelRepo) GetOrCreateDirectChannel(ctx context.Context, u1, u2 uint64, source string) (*store.Channel, bool, error) {
	lo, hi := u1, u2
	if lo > hi {
		lo, hi = hi, lo
	}

	var row channelRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM privchat_channels
		WHERE channel_type = $1 AND direct_user1_id = $2 AND direct_user2_id = $3`,
		int(store.ChannelDirect), lo, hi)
	if err == nil {
		return row.toModel(), false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("postgres: lookup direct channel: %w", err)
	}

	now := nowUTC()
	c := &store.Channel{
		ChannelType:   store.ChannelDirect,
		CreatorID:     u1,
		DirectUser1ID: &lo,
		DirectUser2ID: &hi,
		Status:        store.ChannelActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO privchat_channels
			(channel_type, creator_id, direct_user1_id, direct_user2_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (channel_type, least(direct_user1_id, direct_user2_id), greatest(direct_user1_id, direct_user2_id)) WHERE channel_type = 0
		DO NOTHING
		RETURNING channel_id`,
		int(store.ChannelDirect), u1, lo, hi, int(store.ChannelActive), now, now).Scan(&c.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race to a concurrent insert; fetch the winner.
		if err2 := r.db.GetContext(ctx, &row, `
			SELECT * FROM privchat_channels
			WHERE channel_type = $1 AND direct_user1_id = $2 AND direct_user2_id = $3`,
			int(store.ChannelDirect), lo, hi); err2 != nil {
			return nil, false, fmt.Errorf("postgres: refetch direct channel after race: %w", err2)
		}
		return row.toModel(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: create direct channel: %w", err)
	}
	return c, true, nil
}

// AddParticipant inserts a channel membership row.
func (r *ChannelRepo) AddParticipant(ctx context.Context, channelID, userID uint64, role store.Role) error {
	now := nowUTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO privchat_group_members (group_id, user_id, role, joined_at, last_active_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		channelID, userID, int(role), now)
	if err != nil {
		return fmt.Errorf("postgres: add participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes a channel membership row.
func (r *ChannelRepo) RemoveParticipant(ctx context.Context, channelID, userID uint64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM privchat_group_members WHERE group_id=$1 AND user_id=$2`, channelID, userID)
	if err != nil {
		return fmt.Errorf("postgres: remove participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type memberRow struct {
	ChannelID      uint64       `db:"group_id"`
	UserID         uint64       `db:"user_id"`
	Role           int          `db:"role"`
	IsMuted        bool         `db:"is_muted"`
	LastReadPts    uint64       `db:"last_read_pts"`
	LastReadMsgID  sql.NullInt64 `db:"last_read_message_id"`
	JoinedAt       sql.NullTime `db:"joined_at"`
	LastActiveAt   sql.NullTime `db:"last_active_at"`
}

func (m *memberRow) toModel() *store.ChannelMember {
	cm := &store.ChannelMember{
		ChannelID:    m.ChannelID,
		UserID:       m.UserID,
		Role:         store.Role(m.Role),
		IsMuted:      m.IsMuted,
		LastReadPts:  m.LastReadPts,
		JoinedAt:     m.JoinedAt.Time,
		LastActiveAt: m.LastActiveAt.Time,
	}
	if m.LastReadMsgID.Valid {
		v := uint64(m.LastReadMsgID.Int64)
		cm.LastReadMessage = &v
	}
	return cm
}

// GetParticipants lists every member of a channel.
func (r *ChannelRepo) GetParticipants(ctx context.Context, channelID uint64) ([]*store.ChannelMember, error) {
	var rows []memberRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM privchat_group_members WHERE group_id = $1`, channelID); err != nil {
		return nil, fmt.Errorf("postgres: get participants: %w", err)
	}
	out := make([]*store.ChannelMember, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// GetParticipant loads one member's row.
func (r *ChannelRepo) GetParticipant(ctx context.Context, channelID, userID uint64) (*store.ChannelMember, error) {
	var row memberRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM privchat_group_members WHERE group_id=$1 AND user_id=$2`, channelID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get participant: %w", err)
	}
	return row.toModel(), nil
}

// UpdateParticipant persists mutable member fields (role, mute, read pointer).
func (r *ChannelRepo) UpdateParticipant(ctx context.Context, m *store.ChannelMember) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE privchat_group_members SET
			role=$1, is_muted=$2, last_read_pts=$3, last_read_message_id=$4, last_active_at=$5
		WHERE group_id=$6 AND user_id=$7`,
		int(m.Role), m.IsMuted, m.LastReadPts, nullableUint(m.LastReadMessage), m.LastActiveAt,
		m.ChannelID, m.UserID)
	if err != nil {
		return fmt.Errorf("postgres: update participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListChannelIDsByUser returns every channel a user participates in,
// covering both direct channels (by direct_user columns) and group
// channels (by membership row).
func (r *ChannelRepo) ListChannelIDsByUser(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.SelectContext(ctx, &ids, `
		SELECT channel_id FROM privchat_channels
		WHERE channel_type = $1 AND (direct_user1_id = $2 OR direct_user2_id = $2)
		UNION
		SELECT group_id FROM privchat_group_members WHERE user_id = $2`,
		int(store.ChannelDirect), userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list channel ids by user: %w", err)
	}
	return ids, nil
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullableUint(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}
