package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertSyncMetadata records the outcome of a push or pull for a
// (user, device) pair — the observational row used by
// GET /api/sync/status.
func (s *Store) UpsertSyncMetadata(ctx context.Context, m *SyncMetadata) error {
	// A nil vector means "leave the stored one alone" (push never touches
	// last_pull_vector, pull never touches last_push_vector). Passing a Go
	// nil through as the parameter — rather than marshaling it to the JSON
	// literal "null" — is what lets COALESCE below actually preserve the
	// existing column instead of overwriting it with JSON null.
	var pushJSON, pullJSON []byte
	var err error
	if m.LastPushVector != nil {
		if pushJSON, err = json.Marshal(m.LastPushVector); err != nil {
			return fmt.Errorf("marshaling last push vector: %w", err)
		}
	}
	if m.LastPullVector != nil {
		if pullJSON, err = json.Marshal(m.LastPullVector); err != nil {
			return fmt.Errorf("marshaling last pull vector: %w", err)
		}
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_metadata (user_id, device_id, last_sync_at, last_push_vector, last_pull_vector, sync_status)
		VALUES ($1, $2, now(), COALESCE($3, '{}'::jsonb), COALESCE($4, '{}'::jsonb), $5)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			last_sync_at = now(),
			last_push_vector = COALESCE($3, sync_metadata.last_push_vector),
			last_pull_vector = COALESCE($4, sync_metadata.last_pull_vector),
			sync_status = $5`,
		m.UserID, m.DeviceID, pushJSON, pullJSON, m.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("upserting sync metadata: %w", err)
	}
	return nil
}

// GetSyncMetadata loads the sync status row for a (user, device) pair.
func (s *Store) GetSyncMetadata(ctx context.Context, userID, deviceID string) (*SyncMetadata, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, device_id, last_sync_at, last_push_vector, last_pull_vector, sync_status
		FROM sync_metadata WHERE user_id = $1 AND device_id = $2`,
		userID, deviceID,
	)
	return scanSyncMetadata(row)
}

// ListSyncMetadataForUser returns the per-device sync status rows for
// every device belonging to a user, used by GET /api/sync/status to
// report all devices at once.
func (s *Store) ListSyncMetadataForUser(ctx context.Context, userID string) ([]SyncMetadata, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, device_id, last_sync_at, last_push_vector, last_pull_vector, sync_status
		FROM sync_metadata WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sync metadata: %w", err)
	}
	defer rows.Close()

	var out []SyncMetadata
	for rows.Next() {
		m, err := scanSyncMetadataRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSyncMetadata(row pgx.Row) (*SyncMetadata, error) {
	var m SyncMetadata
	var pushRaw, pullRaw []byte
	err := row.Scan(&m.UserID, &m.DeviceID, &m.LastSyncAt, &pushRaw, &pullRaw, &m.SyncStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sync metadata: %w", err)
	}
	if err := json.Unmarshal(pushRaw, &m.LastPushVector); err != nil {
		return nil, fmt.Errorf("decoding last push vector: %w", err)
	}
	if err := json.Unmarshal(pullRaw, &m.LastPullVector); err != nil {
		return nil, fmt.Errorf("decoding last pull vector: %w", err)
	}
	return &m, nil
}

func scanSyncMetadataRows(rows rowScanner) (SyncMetadata, error) {
	var m SyncMetadata
	var pushRaw, pullRaw []byte
	err := rows.Scan(&m.UserID, &m.DeviceID, &m.LastSyncAt, &pushRaw, &pullRaw, &m.SyncStatus)
	if err != nil {
		return m, fmt.Errorf("scanning sync metadata: %w", err)
	}
	if err := json.Unmarshal(pushRaw, &m.LastPushVector); err != nil {
		return m, fmt.Errorf("decoding last push vector: %w", err)
	}
	if err := json.Unmarshal(pullRaw, &m.LastPullVector); err != nil {
		return m, fmt.Errorf("decoding last pull vector: %w", err)
	}
	return m, nil
}
