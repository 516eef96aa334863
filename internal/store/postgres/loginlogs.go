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

// LoginLogRepo implements store.LoginLogRepository.
type LoginLogRepo struct {
	db *sqlx.DB
}

// Insert records a login attempt. token_jti is UNIQUE: each jti produces
// at most one log row, enforced here as store.ErrDuplicateJTI.
func (r *LoginLogRepo) Insert(ctx context.Context, l *store.LoginLog) error {
	metadata, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encode login log metadata: %w", err)
	}
	riskFactors, err := json.Marshal(l.RiskFactors)
	if err != nil {
		return fmt.Errorf("postgres: encode risk factors: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO privchat_login_logs
			(user_id, device_id, token_jti, token_created_at, device_type, device_name,
			 device_model, os_version, app_id, app_version, ip_address, user_agent,
			 login_method, auth_source, status, risk_score, is_new_device, is_new_location,
			 risk_factors, notification_sent, notification_method, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		l.UserID, l.DeviceID, l.TokenJTI, l.TokenCreatedAt, int(l.DeviceType),
		nullableString(l.DeviceName), nullableString(l.DeviceModel), nullableString(l.OSVersion),
		l.AppID, nullableString(l.AppVersion), nullableString(l.IPAddress), nullableString(l.UserAgent),
		l.LoginMethod, nullableString(l.AuthSource), int(l.Status), l.RiskScore, l.IsNewDevice,
		l.IsNewLocation, riskFactors, l.NotificationSent, nullableString(l.NotificationMethod),
		metadata, l.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrDuplicateJTI
		}
		return fmt.Errorf("postgres: insert login log: %w", err)
	}
	return nil
}

// IsTokenLogged reports whether a jti already has a log row.
func (r *LoginLogRepo) IsTokenLogged(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM privchat_login_logs WHERE token_jti = $1)`, jti)
	if err != nil {
		return false, fmt.Errorf("postgres: is token logged: %w", err)
	}
	return exists, nil
}

type loginLogRow struct {
	LogID          uint64         `db:"log_id"`
	UserID         uint64         `db:"user_id"`
	DeviceID       string         `db:"device_id"`
	TokenJTI       string         `db:"token_jti"`
	TokenCreatedAt sql.NullTime   `db:"token_created_at"`
	DeviceType     int            `db:"device_type"`
	AppID          string         `db:"app_id"`
	IPAddress      sql.NullString `db:"ip_address"`
	Status         int            `db:"status"`
	RiskScore      int            `db:"risk_score"`
	CreatedAt      sql.NullTime   `db:"created_at"`
}

// ListByUser returns login log rows for a user since a timestamp.
func (r *LoginLogRepo) ListByUser(ctx context.Context, userID uint64, since time.Time, limit int) ([]*store.LoginLog, error) {
	var rows []loginLogRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT log_id, user_id, device_id, token_jti, token_created_at, device_type,
			app_id, ip_address, status, risk_score, created_at
		FROM privchat_login_logs
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3`, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list login logs: %w", err)
	}
	out := make([]*store.LoginLog, len(rows))
	for i, row := range rows {
		out[i] = &store.LoginLog{
			LogID:          row.LogID,
			UserID:         row.UserID,
			DeviceID:       row.DeviceID,
			TokenJTI:       row.TokenJTI,
			TokenCreatedAt: row.TokenCreatedAt.Time,
			DeviceType:     store.DeviceType(row.DeviceType),
			AppID:          row.AppID,
			IPAddress:      row.IPAddress.String,
			Status:         store.LoginStatus(row.Status),
			RiskScore:      row.RiskScore,
			CreatedAt:      row.CreatedAt.Time,
		}
	}
	return out, nil
}
