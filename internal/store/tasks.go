package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetTask loads a task row including tombstones — the push algorithm
// must see soft-deleted rows to compare vector clocks against them.
func (s *Store) GetTask(ctx context.Context, id, userID string) (*EncryptedTask, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, encrypted_blob, nonce, checksum, version, vector_clock,
		       last_modified_device, created_at, updated_at, deleted_at
		FROM encrypted_tasks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return scanTask(row)
}

// InsertTask creates a new task row with version=1.
func (s *Store) InsertTask(ctx context.Context, t *EncryptedTask) error {
	clockJSON, err := json.Marshal(t.VectorClock)
	if err != nil {
		return fmt.Errorf("marshaling vector clock: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO encrypted_tasks
			(id, user_id, encrypted_blob, nonce, checksum, version, vector_clock,
			 last_modified_device, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7, now(), now())`,
		t.ID, t.UserID, t.EncryptedBlob, t.Nonce, t.Checksum, clockJSON, t.LastModifiedDevice,
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// UpdateTask overwrites blob/nonce/checksum, bumps version by exactly one,
// and stores the new vector clock.
func (s *Store) UpdateTask(ctx context.Context, t *EncryptedTask) error {
	clockJSON, err := json.Marshal(t.VectorClock)
	if err != nil {
		return fmt.Errorf("marshaling vector clock: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE encrypted_tasks
		SET encrypted_blob = $3, nonce = $4, checksum = $5, version = version + 1,
		    vector_clock = $6, last_modified_device = $7, updated_at = now(), deleted_at = NULL
		WHERE id = $1 AND user_id = $2`,
		t.ID, t.UserID, t.EncryptedBlob, t.Nonce, t.Checksum, clockJSON, t.LastModifiedDevice,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteTask sets deleted_at=now and stores the delete operation's
// vector clock.
func (s *Store) SoftDeleteTask(ctx context.Context, id, userID string, clock map[string]int64) error {
	clockJSON, err := json.Marshal(clock)
	if err != nil {
		return fmt.Errorf("marshaling vector clock: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE encrypted_tasks
		SET deleted_at = now(), vector_clock = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2`,
		id, userID, clockJSON,
	)
	if err != nil {
		return fmt.Errorf("soft-deleting task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountLiveTasks counts live (non-tombstoned) rows for a user, used for
// quota enforcement.
func (s *Store) CountLiveTasks(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM encrypted_tasks WHERE user_id = $1 AND deleted_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting live tasks: %w", err)
	}
	return n, nil
}

// ListSince returns every live row with updated_at >= since and every
// tombstone with deleted_at >= since, ordered ascending by that
// timestamp, up to limit+1 rows.
// The caller is responsible for trimming to limit and computing hasMore.
func (s *Store) ListSince(ctx context.Context, userID string, since time.Time, limit int) ([]EncryptedTask, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, encrypted_blob, nonce, checksum, version, vector_clock,
		       last_modified_device, created_at, updated_at, deleted_at
		FROM encrypted_tasks
		WHERE user_id = $1
		  AND (
		        (deleted_at IS NULL AND updated_at >= $2)
		     OR (deleted_at IS NOT NULL AND deleted_at >= $2)
		      )
		ORDER BY COALESCE(deleted_at, updated_at) ASC
		LIMIT $3`,
		userID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tasks since %v: %w", since, err)
	}
	defer rows.Close()

	var out []EncryptedTask
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MergedVectorClock returns the pointwise merge of every live row's
// vector clock for a user.
func (s *Store) MergedVectorClock(ctx context.Context, userID string) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT vector_clock FROM encrypted_tasks WHERE user_id = $1 AND deleted_at IS NULL`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading vector clocks: %w", err)
	}
	defer rows.Close()

	merged := map[string]int64{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning vector clock: %w", err)
		}
		var clock map[string]int64
		if err := json.Unmarshal(raw, &clock); err != nil {
			return nil, fmt.Errorf("decoding vector clock: %w", err)
		}
		for device, counter := range clock {
			if counter > merged[device] {
				merged[device] = counter
			}
		}
	}
	return merged, rows.Err()
}

// StatsRow is the aggregate envelope data returned by GET /api/stats
// — ciphertext fields are intentionally excluded.
type StatsRow struct {
	ID        string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	BlobBytes int
}

// AllTaskStats returns every row (live and deleted) for a user, projected
// to the envelope fields needed for aggregation — the server never
// inspects ciphertext content.
func (s *Store) AllTaskStats(ctx context.Context, userID string) ([]StatsRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, version, created_at, updated_at, deleted_at, length(encrypted_blob)
		FROM encrypted_tasks WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading task stats: %w", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var r StatsRow
		if err := rows.Scan(&r.ID, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.BlobBytes); err != nil {
			return nil, fmt.Errorf("scanning task stats: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteTombstonesOlderThan hard-deletes tombstones past the retention
// window. Returns the count removed.
func (s *Store) DeleteTombstonesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM encrypted_tasks WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old tombstones: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTask(row pgx.Row) (*EncryptedTask, error) {
	var t EncryptedTask
	var raw []byte
	err := row.Scan(&t.ID, &t.UserID, &t.EncryptedBlob, &t.Nonce, &t.Checksum, &t.Version, &raw,
		&t.LastModifiedDevice, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	if err := json.Unmarshal(raw, &t.VectorClock); err != nil {
		return nil, fmt.Errorf("decoding vector clock: %w", err)
	}
	return &t, nil
}

// rowScanner is satisfied by pgx.Rows (a superset of pgx.Row).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRows(rows rowScanner) (EncryptedTask, error) {
	var t EncryptedTask
	var raw []byte
	err := rows.Scan(&t.ID, &t.UserID, &t.EncryptedBlob, &t.Nonce, &t.Checksum, &t.Version, &raw,
		&t.LastModifiedDevice, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		return t, fmt.Errorf("scanning task: %w", err)
	}
	if err := json.Unmarshal(raw, &t.VectorClock); err != nil {
		return t, fmt.Errorf("decoding vector clock: %w", err)
	}
	return t, nil
}
