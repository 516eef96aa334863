package postgres

import "context"

// Schema is the full DDL for a fresh privchat database. Every repository
// in this package reads/writes exactly these tables and columns.
const Schema = `
CREATE TABLE IF NOT EXISTS privchat_users (
	user_id          BIGSERIAL PRIMARY KEY,
	username         TEXT NOT NULL,
	password_hash    TEXT,
	phone            TEXT,
	email            TEXT,
	display_name     TEXT,
	avatar_url       TEXT,
	user_type        SMALLINT NOT NULL DEFAULT 0,
	status           SMALLINT NOT NULL DEFAULT 0,
	privacy_settings JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_active_at   TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS privchat_users_username_lower_idx
	ON privchat_users (lower(username));
CREATE UNIQUE INDEX IF NOT EXISTS privchat_users_email_lower_idx
	ON privchat_users (lower(email));

CREATE TABLE IF NOT EXISTS privchat_devices (
	device_id          TEXT PRIMARY KEY,
	user_id            BIGINT NOT NULL REFERENCES privchat_users(user_id),
	business_system_id TEXT,
	app_id             TEXT,
	device_type        SMALLINT NOT NULL DEFAULT 0,
	token_jti          TEXT,
	session_version    BIGINT NOT NULL DEFAULT 0,
	session_state      SMALLINT NOT NULL DEFAULT 0,
	kicked_at          TIMESTAMPTZ,
	kicked_reason      TEXT,
	last_active_at     TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	ip_address         TEXT
);
CREATE INDEX IF NOT EXISTS privchat_devices_user_id_idx ON privchat_devices (user_id);

CREATE TABLE IF NOT EXISTS privchat_groups (
	group_id    BIGSERIAL PRIMARY KEY,
	owner_id    BIGINT NOT NULL REFERENCES privchat_users(user_id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS privchat_channels (
	channel_id          BIGSERIAL PRIMARY KEY,
	channel_type        SMALLINT NOT NULL,
	creator_id          BIGINT NOT NULL REFERENCES privchat_users(user_id),
	name                TEXT,
	description         TEXT,
	avatar_url          TEXT,
	announcement        TEXT,
	is_public           BOOLEAN NOT NULL DEFAULT false,
	max_members         INT,
	is_muted_all        BOOLEAN NOT NULL DEFAULT false,
	require_approval    BOOLEAN NOT NULL DEFAULT false,
	allow_member_invite BOOLEAN NOT NULL DEFAULT true,
	status              SMALLINT NOT NULL DEFAULT 0,
	group_id            BIGINT REFERENCES privchat_groups(group_id),
	direct_user1_id     BIGINT REFERENCES privchat_users(user_id),
	direct_user2_id     BIGINT REFERENCES privchat_users(user_id),
	last_message_id     BIGINT,
	last_message_at     TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS privchat_channels_direct_pair_idx
	ON privchat_channels (channel_type, least(direct_user1_id, direct_user2_id), greatest(direct_user1_id, direct_user2_id))
	WHERE channel_type = 0;

CREATE TABLE IF NOT EXISTS privchat_group_members (
	group_id             BIGINT NOT NULL REFERENCES privchat_channels(channel_id),
	user_id              BIGINT NOT NULL REFERENCES privchat_users(user_id),
	role                 SMALLINT NOT NULL DEFAULT 0,
	is_muted             BOOLEAN NOT NULL DEFAULT false,
	last_read_pts        BIGINT NOT NULL DEFAULT 0,
	last_read_message_id BIGINT,
	joined_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_active_at       TIMESTAMPTZ,
	PRIMARY KEY (group_id, user_id)
);
CREATE INDEX IF NOT EXISTS privchat_group_members_user_id_idx ON privchat_group_members (user_id);

CREATE TABLE IF NOT EXISTS privchat_messages (
	message_id          BIGSERIAL PRIMARY KEY,
	channel_id          BIGINT NOT NULL REFERENCES privchat_channels(channel_id),
	sender_id           BIGINT NOT NULL REFERENCES privchat_users(user_id),
	pts                 BIGINT NOT NULL,
	local_message_id    BIGINT,
	content             TEXT NOT NULL,
	metadata            JSONB NOT NULL DEFAULT '{}',
	message_type        SMALLINT NOT NULL DEFAULT 0,
	reply_to_message_id BIGINT REFERENCES privchat_messages(message_id),
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted             BOOLEAN NOT NULL DEFAULT false,
	deleted_at          TIMESTAMPTZ,
	revoked             BOOLEAN NOT NULL DEFAULT false,
	revoked_at          TIMESTAMPTZ,
	revoked_by          BIGINT REFERENCES privchat_users(user_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS privchat_messages_channel_pts_idx
	ON privchat_messages (channel_id, pts);
CREATE UNIQUE INDEX IF NOT EXISTS privchat_messages_dedup_idx
	ON privchat_messages (sender_id, local_message_id)
	WHERE local_message_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS privchat_messages_channel_created_idx
	ON privchat_messages (channel_id, created_at DESC);

CREATE TABLE IF NOT EXISTS privchat_login_logs (
	log_id                 BIGSERIAL PRIMARY KEY,
	user_id                BIGINT NOT NULL REFERENCES privchat_users(user_id),
	device_id              TEXT NOT NULL,
	token_jti              TEXT NOT NULL,
	token_created_at       TIMESTAMPTZ NOT NULL,
	device_type            SMALLINT NOT NULL DEFAULT 0,
	device_name            TEXT,
	device_model           TEXT,
	os_version             TEXT,
	app_id                 TEXT NOT NULL,
	app_version            TEXT,
	ip_address             TEXT,
	user_agent             TEXT,
	login_method           TEXT NOT NULL,
	auth_source            TEXT,
	status                 SMALLINT NOT NULL DEFAULT 0,
	risk_score             SMALLINT NOT NULL DEFAULT 0,
	is_new_device          BOOLEAN NOT NULL DEFAULT false,
	is_new_location        BOOLEAN NOT NULL DEFAULT false,
	risk_factors           JSONB,
	notification_sent      BOOLEAN NOT NULL DEFAULT false,
	notification_method    TEXT,
	notification_sent_at   TIMESTAMPTZ,
	metadata               JSONB,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS privchat_login_logs_jti_idx ON privchat_login_logs (token_jti);
CREATE INDEX IF NOT EXISTS privchat_login_logs_user_created_idx
	ON privchat_login_logs (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS privchat_user_last_seen (
	user_id      BIGINT PRIMARY KEY REFERENCES privchat_users(user_id),
	last_seen_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS privchat_user_settings (
	user_id     BIGINT NOT NULL REFERENCES privchat_users(user_id),
	setting_key TEXT NOT NULL,
	value_json  JSONB NOT NULL,
	version     BIGINT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, setting_key)
);
CREATE INDEX IF NOT EXISTS privchat_user_settings_user_version_idx
	ON privchat_user_settings (user_id, version);
`

// InitSchema creates every table and index this package's repositories
// depend on, idempotently (IF NOT EXISTS throughout), mirroring
// tinode-db's create-if-missing bootstrap but against a fixed Postgres
// schema instead of a pluggable adapter's generated DDL.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// dropOrder lists tables in child-before-parent order so foreign keys
// never block a drop.
var dropOrder = []string{
	"privchat_user_settings",
	"privchat_user_last_seen",
	"privchat_login_logs",
	"privchat_messages",
	"privchat_group_members",
	"privchat_channels",
	"privchat_groups",
	"privchat_devices",
	"privchat_users",
}

// DropSchema removes every table this package owns, for --reset.
func (s *Store) DropSchema(ctx context.Context) error {
	for _, table := range dropOrder {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}
