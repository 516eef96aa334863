package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/privchat/privchat/internal/store"
)

// MessageRepo implements store.MessageRepository against privchat_messages.
type MessageRepo struct {
	db *sqlx.DB
}

type messageRow struct {
	MessageID      uint64         `db:"message_id"`
	ChannelID      uint64         `db:"channel_id"`
	SenderID       uint64         `db:"sender_id"`
	Pts            uint64         `db:"pts"`
	LocalMessageID sql.NullInt64  `db:"local_message_id"`
	Content        string         `db:"content"`
	Metadata       []byte         `db:"metadata"`
	MessageType    int            `db:"message_type"`
	ReplyTo        sql.NullInt64  `db:"reply_to_message_id"`
	CreatedAt      sql.NullTime   `db:"created_at"`
	UpdatedAt      sql.NullTime   `db:"updated_at"`
	Deleted        bool           `db:"deleted"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
	Revoked        bool           `db:"revoked"`
	RevokedAt      sql.NullTime   `db:"revoked_at"`
	RevokedBy      sql.NullInt64  `db:"revoked_by"`
}

func (r *messageRow) toModel() (*store.Message, error) {
	m := &store.Message{
		MessageID:   r.MessageID,
		ChannelID:   r.ChannelID,
		SenderID:    r.SenderID,
		Pts:         r.Pts,
		Content:     r.Content,
		MessageType: store.MessageType(r.MessageType),
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
		Deleted:     r.Deleted,
		Revoked:     r.Revoked,
	}
	if r.LocalMessageID.Valid {
		m.LocalMessageID = uint64(r.LocalMessageID.Int64)
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: decode message metadata: %w", err)
		}
	}
	if r.ReplyTo.Valid {
		v := uint64(r.ReplyTo.Int64)
		m.ReplyToMessageID = &v
	}
	if r.DeletedAt.Valid {
		m.DeletedAt = &r.DeletedAt.Time
	}
	if r.RevokedAt.Valid {
		m.RevokedAt = &r.RevokedAt.Time
	}
	if r.RevokedBy.Valid {
		v := uint64(r.RevokedBy.Int64)
		m.RevokedBy = &v
	}
	return m, nil
}

// Create persists a new message. It returns store.ErrDuplicateMessage on a
// duplicate message_id or duplicate (channel_id, pts), per spec §4.B.
func (r *MessageRepo) Create(ctx context.Context, m *store.Message) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encode message metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO privchat_messages
			(message_id, channel_id, sender_id, pts, local_message_id, content, metadata,
			 message_type, reply_to_message_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.MessageID, m.ChannelID, m.SenderID, m.Pts, nullableUint64(m.LocalMessageID),
		m.Content, metadata, int(m.MessageType), nullableUint(m.ReplyToMessageID),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrDuplicateMessage
		}
		return fmt.Errorf("postgres: create message: %w", err)
	}
	return nil
}

func nullableUint64(v uint64) any {
	if v == 0 {
		return nil
	}
	return v
}

// FindByID loads a message by its global ID.
func (r *MessageRepo) FindByID(ctx context.Context, messageID uint64) (*store.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM privchat_messages WHERE message_id = $1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find message by id: %w", err)
	}
	return row.toModel()
}

// FindByDedupKey implements the (user_id, local_message_id) dedup lookup,
// used as a fallback when the in-memory dedup window has expired or the
// process restarted.
func (r *MessageRepo) FindByDedupKey(ctx context.Context, senderID, localMessageID uint64) (*store.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM privchat_messages WHERE sender_id = $1 AND local_message_id = $2`,
		senderID, localMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find message by dedup key: %w", err)
	}
	return row.toModel()
}

// ListByChannel returns the most recent messages in a channel, optionally
// before a cursor timestamp, newest first.
func (r *MessageRepo) ListByChannel(ctx context.Context, channelID uint64, limit int, beforeCreatedAt *time.Time) ([]*store.Message, error) {
	var rows []messageRow
	var err error
	if beforeCreatedAt != nil {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM privchat_messages
			WHERE channel_id = $1 AND created_at < $2
			ORDER BY created_at DESC LIMIT $3`, channelID, *beforeCreatedAt, limit)
	} else {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM privchat_messages
			WHERE channel_id = $1
			ORDER BY created_at DESC LIMIT $2`, channelID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages by channel: %w", err)
	}
	return rowsToModels(rows)
}

// ListByChannelSincePts returns messages with pts in (sincePts, max],
// ascending — the gap-free catch-up read used by the sync service.
func (r *MessageRepo) ListByChannelSincePts(ctx context.Context, channelID uint64, sincePts uint64, limit int) ([]*store.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM privchat_messages
		WHERE channel_id = $1 AND pts > $2
		ORDER BY pts ASC LIMIT $3`, channelID, sincePts, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages since pts: %w", err)
	}
	return rowsToModels(rows)
}

func rowsToModels(rows []messageRow) ([]*store.Message, error) {
	out := make([]*store.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// MaxPts returns the highest committed pts in a channel, or 0 if none.
func (r *MessageRepo) MaxPts(ctx context.Context, channelID uint64) (uint64, error) {
	var max sql.NullInt64
	err := r.db.GetContext(ctx, &max, `
		SELECT max(pts) FROM privchat_messages WHERE channel_id = $1`, channelID)
	if err != nil {
		return 0, fmt.Errorf("postgres: max pts: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}

// Revoke sets revoked=true while retaining content, per spec §4.H.
func (r *MessageRepo) Revoke(ctx context.Context, messageID, by uint64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE privchat_messages SET revoked=true, revoked_at=now(), revoked_by=$1
		WHERE message_id=$2`, by, messageID)
	if err != nil {
		return fmt.Errorf("postgres: revoke message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete soft-deletes a message (server-side list views only).
func (r *MessageRepo) Delete(ctx context.Context, messageID uint64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE privchat_messages SET deleted=true, deleted_at=now() WHERE message_id=$1`, messageID)
	if err != nil {
		return fmt.Errorf("postgres: delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
