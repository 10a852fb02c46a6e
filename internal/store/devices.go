package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateDevice inserts a new, active device row.
func (s *Store) CreateDevice(ctx context.Context, id, userID, name string) (*Device, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO devices (id, user_id, name, last_seen_at, is_active, created_at)
		VALUES ($1, $2, $3, now(), true, now())
		RETURNING id, user_id, name, last_seen_at, is_active, created_at`,
		id, userID, name,
	)
	return scanDevice(row)
}

// GetDevice looks up a device scoped to its owner.
func (s *Store) GetDevice(ctx context.Context, id, userID string) (*Device, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, last_seen_at, is_active, created_at
		FROM devices WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return scanDevice(row)
}

// ListDevices returns every device belonging to a user, newest first.
func (s *Store) ListDevices(ctx context.Context, userID string) ([]Device, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, name, last_seen_at, is_active, created_at
		FROM devices WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.LastSeenAt, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TouchDeviceLastSeen updates last_seen_at to now.
func (s *Store) TouchDeviceLastSeen(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE devices SET last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching device last_seen_at: %w", err)
	}
	return nil
}

// RevokeDevice marks a device inactive without deleting it.
func (s *Store) RevokeDevice(ctx context.Context, id, userID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE devices SET is_active = false WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("revoking device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsDeviceActive reports whether the device exists and is active — the
// auth middleware's invariant that a session token is only valid
// while its device is active.
func (s *Store) IsDeviceActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := s.db.QueryRow(ctx, `SELECT is_active FROM devices WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking device active: %w", err)
	}
	return active, nil
}

// DeleteInactiveDevicesOlderThan deletes devices inactive since before the
// given cutoff. Returns the count removed.
func (s *Store) DeleteInactiveDevicesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM devices WHERE is_active = false AND last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting inactive devices: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.LastSeenAt, &d.IsActive, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	return &d, nil
}
