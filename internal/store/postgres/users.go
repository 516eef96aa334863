package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/privchat/privchat/internal/store"
)

// UserRepo implements store.UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

type userRow struct {
	ID              uint64         `db:"user_id"`
	Username        string         `db:"username"`
	PasswordHash    sql.NullString `db:"password_hash"`
	Phone           sql.NullString `db:"phone"`
	Email           sql.NullString `db:"email"`
	DisplayName     sql.NullString `db:"display_name"`
	AvatarURL       sql.NullString `db:"avatar_url"`
	UserType        int            `db:"user_type"`
	Status          int            `db:"status"`
	PrivacySettings []byte         `db:"privacy_settings"`
	CreatedAt       sql.NullTime   `db:"created_at"`
	UpdatedAt       sql.NullTime   `db:"updated_at"`
	LastActiveAt    sql.NullTime   `db:"last_active_at"`
}

func (r *userRow) toModel() (*store.User, error) {
	u := &store.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash.String,
		Phone:        r.Phone.String,
		Email:        r.Email.String,
		DisplayName:  r.DisplayName.String,
		AvatarURL:    r.AvatarURL.String,
		UserType:     store.UserType(r.UserType),
		Status:       store.UserStatus(r.Status),
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
		LastActiveAt: r.LastActiveAt.Time,
	}
	if len(r.PrivacySettings) > 0 {
		if err := json.Unmarshal(r.PrivacySettings, &u.PrivacySettings); err != nil {
			return nil, fmt.Errorf("postgres: decode privacy_settings: %w", err)
		}
	}
	return u, nil
}

const userInsertCols = `(user_id, username, password_hash, phone, email, display_name, avatar_url,
	user_type, status, privacy_settings, created_at, updated_at, last_active_at)`

func (r *UserRepo) insert(ctx context.Context, withID bool, u *store.User) error {
	privacy, err := json.Marshal(u.PrivacySettings)
	if err != nil {
		return fmt.Errorf("postgres: encode privacy_settings: %w", err)
	}

	var query string
	args := []any{u.Username, nullableString(u.PasswordHash), nullableString(u.Phone),
		nullableString(u.Email), nullableString(u.DisplayName), nullableString(u.AvatarURL),
		int(u.UserType), int(u.Status), privacy, u.CreatedAt, u.UpdatedAt, u.LastActiveAt}

	if withID {
		query = `INSERT INTO privchat_users ` + userInsertCols + `
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
		args = append([]any{u.ID}, args...)
	} else {
		query = `INSERT INTO privchat_users
			(username, password_hash, phone, email, display_name, avatar_url,
			 user_type, status, privacy_settings, created_at, updated_at, last_active_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING user_id`
	}

	if withID {
		_, err = r.db.ExecContext(ctx, query, args...)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&u.ID)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "email") {
				return store.ErrDuplicateEmail
			}
			return store.ErrDuplicateUsername
		}
		return fmt.Errorf("postgres: insert user: %w", err)
	}
	return nil
}

// Create inserts a new user, letting Postgres assign the ID.
func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	return r.insert(ctx, false, u)
}

// CreateWithID inserts a user with a caller-supplied reserved system ID.
func (r *UserRepo) CreateWithID(ctx context.Context, u *store.User) error {
	if u.ID == 0 || u.ID > store.SystemUserRangeEnd {
		return fmt.Errorf("postgres: CreateWithID requires id in [1, %d], got %d", store.SystemUserRangeEnd, u.ID)
	}
	return r.insert(ctx, true, u)
}

// Get loads a user by ID.
func (r *UserRepo) Get(ctx context.Context, id uint64) (*store.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM privchat_users WHERE user_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return row.toModel()
}

// GetByUsername loads a user by case-insensitive username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*store.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM privchat_users WHERE lower(username) = lower($1)`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user by username: %w", err)
	}
	return row.toModel()
}

// Update persists changed fields of an existing user.
func (r *UserRepo) Update(ctx context.Context, u *store.User) error {
	privacy, err := json.Marshal(u.PrivacySettings)
	if err != nil {
		return fmt.Errorf("postgres: encode privacy_settings: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE privchat_users SET
			password_hash=$1, phone=$2, email=$3, display_name=$4, avatar_url=$5,
			status=$6, privacy_settings=$7, updated_at=$8, last_active_at=$9
		WHERE user_id=$10`,
		nullableString(u.PasswordHash), nullableString(u.Phone), nullableString(u.Email),
		nullableString(u.DisplayName), nullableString(u.AvatarURL), int(u.Status),
		privacy, u.UpdatedAt, u.LastActiveAt, u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrDuplicateEmail
		}
		return fmt.Errorf("postgres: update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes a user permanently.
func (r *UserRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM privchat_users WHERE user_id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
