package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/talkwire/pkg/store"
)

// CreateUser implements [store.UserStore].
func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	const q = `
		INSERT INTO users (email, name, display_name)
		VALUES ($1, $2, $3)
		RETURNING id, email, name, display_name, connection_code,
		          connection_code_expires_at, created_at`

	row := s.pool.QueryRow(ctx, q, u.Email, u.Name, u.DisplayName)
	created, err := scanUser(row)
	if err != nil {
		return store.User{}, mapErr("create user", err)
	}
	return created, nil
}

// GetUser implements [store.UserStore].
func (s *Store) GetUser(ctx context.Context, id int64) (store.User, error) {
	const q = `
		SELECT id, email, name, display_name, connection_code,
		       connection_code_expires_at, created_at
		FROM   users WHERE id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return store.User{}, mapErr("get user", err)
	}
	return u, nil
}

// GetUserByEmail implements [store.UserStore].
func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	const q = `
		SELECT id, email, name, display_name, connection_code,
		       connection_code_expires_at, created_at
		FROM   users WHERE email = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, email))
	if err != nil {
		return store.User{}, mapErr("get user by email", err)
	}
	return u, nil
}

// GetUserByCode implements [store.UserStore].
func (s *Store) GetUserByCode(ctx context.Context, code string) (store.User, error) {
	const q = `
		SELECT id, email, name, display_name, connection_code,
		       connection_code_expires_at, created_at
		FROM   users WHERE connection_code = $1 AND connection_code <> ''`

	u, err := scanUser(s.pool.QueryRow(ctx, q, code))
	if err != nil {
		return store.User{}, mapErr("get user by code", err)
	}
	return u, nil
}

// UpdateDisplayName implements [store.UserStore].
func (s *Store) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET display_name = $2 WHERE id = $1`, id, displayName)
	if err != nil {
		return mapErr("update display name", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("update display name", pgx.ErrNoRows)
	}
	return nil
}

// SetConnectionCode implements [store.UserStore].
func (s *Store) SetConnectionCode(ctx context.Context, id int64, code string, expiresAt time.Time) error {
	const q = `
		UPDATE users
		SET    connection_code = $2, connection_code_expires_at = $3
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, code, expiresAt)
	if err != nil {
		return mapErr("set connection code", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("set connection code", pgx.ErrNoRows)
	}
	return nil
}

// SetOnline implements [store.PresenceStore].
func (s *Store) SetOnline(ctx context.Context, userID int64, online bool) error {
	const q = `
		INSERT INTO user_presence (user_id, is_online, last_seen)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id)
		DO UPDATE SET is_online = EXCLUDED.is_online, last_seen = now()`

	if _, err := s.pool.Exec(ctx, q, userID, online); err != nil {
		return mapErr("set online", err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (store.User, error) {
	var (
		u       store.User
		expires sql.NullTime
	)
	if err := r.Scan(&u.ID, &u.Email, &u.Name, &u.DisplayName,
		&u.ConnectionCode, &expires, &u.CreatedAt); err != nil {
		return store.User{}, err
	}
	if expires.Valid {
		u.ConnectionCodeExpiresAt = expires.Time
	}
	return u, nil
}
