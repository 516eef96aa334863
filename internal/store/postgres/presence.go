package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/privchat/privchat/internal/store"
)

// PresenceRepo implements store.PresenceRepository over privchat_user_last_seen.
type PresenceRepo struct {
	db *sqlx.DB
}

// Upsert records a user's last-seen timestamp.
func (r *PresenceRepo) Upsert(ctx context.Context, userID uint64, lastSeenAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO privchat_user_last_seen (user_id, last_seen_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at`,
		userID, lastSeenAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert presence: %w", err)
	}
	return nil
}

// UpsertBatch records last-seen for many users in one round trip.
func (r *PresenceRepo) UpsertBatch(ctx context.Context, userIDs []uint64, lastSeenAt time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: upsert presence batch: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO privchat_user_last_seen (user_id, last_seen_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at`)
	if err != nil {
		return fmt.Errorf("postgres: upsert presence batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, uid := range userIDs {
		if _, err := stmt.ExecContext(ctx, uid, lastSeenAt); err != nil {
			return fmt.Errorf("postgres: upsert presence batch: exec: %w", err)
		}
	}
	return tx.Commit()
}

// Get returns a user's last-seen timestamp.
func (r *PresenceRepo) Get(ctx context.Context, userID uint64) (time.Time, error) {
	var t time.Time
	err := r.db.GetContext(ctx, &t, `
		SELECT last_seen_at FROM privchat_user_last_seen WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, store.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: get presence: %w", err)
	}
	return t, nil
}

// CleanupOlderThan deletes last-seen rows older than age and returns the count removed.
func (r *PresenceRepo) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM privchat_user_last_seen WHERE last_seen_at < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup presence: %w", err)
	}
	return res.RowsAffected()
}
