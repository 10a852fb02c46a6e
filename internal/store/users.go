package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrEmailTaken is returned when an email is already bound to a different
// provider.
var ErrEmailTaken = errors.New("store: email already registered with a different provider")

// GetUserByProvider looks up a user by (auth_provider, provider_user_id),
// the unique provider/provider-user-id pair.
func (s *Store) GetUserByProvider(ctx context.Context, provider AuthProvider, providerUserID string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, auth_provider, provider_user_id, account_status,
		       encryption_salt, created_at, updated_at, last_login_at
		FROM users
		WHERE auth_provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	)
	return scanUser(row)
}

// GetUserByEmail looks up a user by email, regardless of provider.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, auth_provider, provider_user_id, account_status,
		       encryption_salt, created_at, updated_at, last_login_at
		FROM users
		WHERE email = $1`,
		email,
	)
	return scanUser(row)
}

// GetUserByID looks up a user by opaque ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, auth_provider, provider_user_id, account_status,
		       encryption_salt, created_at, updated_at, last_login_at
		FROM users
		WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// CreateUser inserts a new user row with account_status=active. It
// surfaces a unique-constraint violation on email as ErrEmailTaken so
// callers can implement race-loser handling on a conflicting signup.
func (s *Store) CreateUser(ctx context.Context, id, email string, provider AuthProvider, providerUserID string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, auth_provider, provider_user_id, account_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', now(), now())
		RETURNING id, email, auth_provider, provider_user_id, account_status,
		          encryption_salt, created_at, updated_at, last_login_at`,
		id, email, provider, providerUserID,
	)
	u, err := scanUser(row)
	if err != nil && isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	return u, err
}

// TouchLastLogin sets last_login_at to now. ReconcileIdentity calls it on
// the existing-user login path only.
func (s *Store) TouchLastLogin(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET last_login_at = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching last_login_at: %w", err)
	}
	return nil
}

// SetEncryptionSalt stores the client-chosen encryption salt.
func (s *Store) SetEncryptionSalt(ctx context.Context, userID, salt string) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET encryption_salt = $2, updated_at = now() WHERE id = $1`, userID, salt)
	if err != nil {
		return fmt.Errorf("setting encryption salt: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.AuthProvider, &u.ProviderUserID, &u.AccountStatus,
		&u.EncryptionSalt, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
