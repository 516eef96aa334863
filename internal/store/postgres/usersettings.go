package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/privchat/privchat/internal/store"
)

// UserSettingsRepo implements store.UserSettingsRepository over
// privchat_user_settings, which carries a per-user strictly-increasing version.
type UserSettingsRepo struct {
	db *sqlx.DB
}

// Set writes a setting key/value and returns the new per-user version.
func (r *UserSettingsRepo) Set(ctx context.Context, userID uint64, key string, value any) (uint64, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("postgres: encode user setting: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: set user setting: begin: %w", err)
	}
	defer tx.Rollback()

	var currentMax sql.NullInt64
	if err := tx.GetContext(ctx, &currentMax, `
		SELECT max(version) FROM privchat_user_settings WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("postgres: set user setting: read max version: %w", err)
	}
	nextVersion := uint64(currentMax.Int64) + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO privchat_user_settings (user_id, setting_key, value_json, version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, setting_key) DO UPDATE SET
			value_json = EXCLUDED.value_json, version = EXCLUDED.version, updated_at = now()`,
		userID, key, encoded, nextVersion)
	if err != nil {
		return 0, fmt.Errorf("postgres: set user setting: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: set user setting: commit: %w", err)
	}
	return nextVersion, nil
}

type userSettingRow struct {
	Key       string `db:"setting_key"`
	Value     []byte `db:"value_json"`
	Version   uint64 `db:"version"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

// ListSince returns settings with version > sinceVersion, per the
// "replace on fetch" paginated cursor contract of spec §4.J.
func (r *UserSettingsRepo) ListSince(ctx context.Context, userID uint64, sinceVersion uint64, limit int) ([]store.UserSetting, uint64, bool, error) {
	var rows []userSettingRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT setting_key, value_json, version, updated_at
		FROM privchat_user_settings
		WHERE user_id = $1 AND version > $2
		ORDER BY version ASC LIMIT $3`, userID, sinceVersion, limit+1)
	if err != nil {
		return nil, 0, false, fmt.Errorf("postgres: list user settings: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	out := make([]store.UserSetting, len(rows))
	var next uint64 = sinceVersion
	for i, row := range rows {
		var v any
		if err := json.Unmarshal(row.Value, &v); err != nil {
			return nil, 0, false, fmt.Errorf("postgres: decode user setting %q: %w", row.Key, err)
		}
		out[i] = store.UserSetting{Key: row.Key, Value: v, Version: row.Version, UpdatedAt: row.UpdatedAt.Time}
		next = row.Version
	}
	return out, next, hasMore, nil
}
