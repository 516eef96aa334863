// Package postgres implements the internal/store repositories against the
// Postgres schema described in SPEC_FULL.md (privchat_users, _devices,
// _channels, _groups, _group_members, _messages, _login_logs,
// _user_last_seen, _user_settings).
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Store holds the shared connection pool used by every repository.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres at dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Users returns the UserRepository backed by this store.
func (s *Store) Users() *UserRepo { return &UserRepo{db: s.db} }

// Devices returns the DeviceRepository backed by this store.
func (s *Store) Devices() *DeviceRepo { return &DeviceRepo{db: s.db} }

// Channels returns the ChannelRepository backed by this store.
func (s *Store) Channels() *ChannelRepo { return &ChannelRepo{db: s.db} }

// Messages returns the MessageRepository backed by this store.
func (s *Store) Messages() *MessageRepo { return &MessageRepo{db: s.db} }

// LoginLogs returns the LoginLogRepository backed by this store.
func (s *Store) LoginLogs() *LoginLogRepo { return &LoginLogRepo{db: s.db} }

// Presence returns the PresenceRepository backed by this store.
func (s *Store) Presence() *PresenceRepo { return &PresenceRepo{db: s.db} }

// UserSettings returns the UserSettingsRepository backed by this store.
func (s *Store) UserSettings() *UserSettingsRepo { return &UserSettingsRepo{db: s.db} }
