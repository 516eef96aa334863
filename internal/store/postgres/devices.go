package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/privchat/privchat/internal/store"
)

// DeviceRepo implements store.DeviceRepository.
type DeviceRepo struct {
	db *sqlx.DB
}

type deviceRow struct {
	DeviceID         string         `db:"device_id"`
	UserID           uint64         `db:"user_id"`
	BusinessSystemID sql.NullString `db:"business_system_id"`
	AppID            sql.NullString `db:"app_id"`
	DeviceType       int            `db:"device_type"`
	TokenJTI         sql.NullString `db:"token_jti"`
	SessionVersion   uint64         `db:"session_version"`
	SessionState     int            `db:"session_state"`
	KickedAt         sql.NullTime   `db:"kicked_at"`
	KickedReason     sql.NullString `db:"kicked_reason"`
	LastActiveAt     sql.NullTime   `db:"last_active_at"`
	CreatedAt        sql.NullTime   `db:"created_at"`
	IPAddress        sql.NullString `db:"ip_address"`
}

func (r *deviceRow) toModel() *store.Device {
	d := &store.Device{
		DeviceID:         r.DeviceID,
		UserID:           r.UserID,
		BusinessSystemID: r.BusinessSystemID.String,
		AppID:            r.AppID.String,
		DeviceType:       store.DeviceType(r.DeviceType),
		TokenJTI:         r.TokenJTI.String,
		SessionVersion:   r.SessionVersion,
		SessionState:     store.SessionState(r.SessionState),
		KickedReason:     r.KickedReason.String,
		LastActiveAt:     r.LastActiveAt.Time,
		CreatedAt:        r.CreatedAt.Time,
		IPAddress:        r.IPAddress.String,
	}
	if r.KickedAt.Valid {
		d.KickedAt = &r.KickedAt.Time
	}
	return d
}

// Upsert inserts or updates a device record keyed by device_id.
func (r *DeviceRepo) Upsert(ctx context.Context, d *store.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO privchat_devices
			(device_id, user_id, business_system_id, app_id, device_type, token_jti,
			 session_version, session_state, last_active_at, created_at, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (device_id) DO UPDATE SET
			business_system_id=EXCLUDED.business_system_id,
			app_id=EXCLUDED.app_id,
			device_type=EXCLUDED.device_type,
			token_jti=EXCLUDED.token_jti,
			session_version=EXCLUDED.session_version,
			session_state=EXCLUDED.session_state,
			last_active_at=EXCLUDED.last_active_at,
			ip_address=EXCLUDED.ip_address`,
		d.DeviceID, d.UserID, nullableString(d.BusinessSystemID), nullableString(d.AppID),
		int(d.DeviceType), nullableString(d.TokenJTI), d.SessionVersion, int(d.SessionState),
		d.LastActiveAt, d.CreatedAt, nullableString(d.IPAddress))
	if err != nil {
		return fmt.Errorf("postgres: upsert device: %w", err)
	}
	return nil
}

// Get loads a device by its ID.
func (r *DeviceRepo) Get(ctx context.Context, deviceID string) (*store.Device, error) {
	var row deviceRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM privchat_devices WHERE device_id = $1`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get device: %w", err)
	}
	return row.toModel(), nil
}

// Delete removes a device record, revoking its associated token implicitly
// (verification will fail with DeviceNotFound).
func (r *DeviceRepo) Delete(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM privchat_devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("postgres: delete device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteAllForUser removes every device belonging to a user.
func (r *DeviceRepo) DeleteAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM privchat_devices WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete all devices for user: %w", err)
	}
	return nil
}

// ListForUser returns every device belonging to a user.
func (r *DeviceRepo) ListForUser(ctx context.Context, userID uint64) ([]*store.Device, error) {
	var rows []deviceRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM privchat_devices WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("postgres: list devices: %w", err)
	}
	out := make([]*store.Device, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// BumpSessionVersion increments session_version, implementing the "soft
// kick" path: old tokens subsequently fail verification with VersionMismatch.
func (r *DeviceRepo) BumpSessionVersion(ctx context.Context, deviceID string) (uint64, error) {
	var newVersion uint64
	err := r.db.QueryRowContext(ctx, `
		UPDATE privchat_devices SET session_version = session_version + 1
		WHERE device_id = $1
		RETURNING session_version`, deviceID).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: bump session version: %w", err)
	}
	return newVersion, nil
}

// SetSessionState transitions a device between Active and Kicked.
func (r *DeviceRepo) SetSessionState(ctx context.Context, deviceID string, state store.SessionState, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE privchat_devices SET session_state=$1, kicked_reason=$2,
			kicked_at = CASE WHEN $1 = $3 THEN now() ELSE NULL END
		WHERE device_id = $4`,
		int(state), nullableString(reason), int(store.SessionKicked), deviceID)
	if err != nil {
		return fmt.Errorf("postgres: set session state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// VerifyDeviceSession implements the device-session predicate from spec §4.F.
func (r *DeviceRepo) VerifyDeviceSession(ctx context.Context, userID uint64, deviceID string, tokenVersion uint64) (store.VerifyResult, error) {
	d, err := r.Get(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return store.VerifyResult{DeviceNotFound: true}, nil
	}
	if err != nil {
		return store.VerifyResult{}, err
	}
	if d.UserID != userID {
		return store.VerifyResult{DeviceNotFound: true}, nil
	}
	if d.SessionState != store.SessionActive {
		return store.VerifyResult{
			SessionInactive: true,
			InactiveState:   d.SessionState,
			InactiveReason:  d.KickedReason,
		}, nil
	}
	if tokenVersion < d.SessionVersion {
		return store.VerifyResult{
			VersionMismatch: true,
			TokenVersion:    tokenVersion,
			CurrentVersion:  d.SessionVersion,
		}, nil
	}
	return store.VerifyResult{Valid: true}, nil
}
