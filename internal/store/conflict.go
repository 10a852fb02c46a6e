package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AppendConflictLog records a server-observed conflict in conflict_log.
func (s *Store) AppendConflictLog(ctx context.Context, c *ConflictLog) error {
	existingJSON, err := json.Marshal(c.ExistingClock)
	if err != nil {
		return fmt.Errorf("marshaling existing clock: %w", err)
	}
	incomingJSON, err := json.Marshal(c.IncomingClock)
	if err != nil {
		return fmt.Errorf("marshaling incoming clock: %w", err)
	}
	// Every conflict_log row is resolved at the moment it is written: the
	// resolution mode (auto_merge, last_write_wins on push; manual from
	// /api/sync/resolve) has already been decided by the caller before
	// this is called, so resolved_at is stamped alongside created_at.
	_, err = s.db.Exec(ctx, `
		INSERT INTO conflict_log (user_id, task_id, reason, resolution, existing_clock, incoming_clock, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		c.UserID, c.TaskID, c.Reason, c.Resolution, existingJSON, incomingJSON,
	)
	if err != nil {
		return fmt.Errorf("appending conflict log: %w", err)
	}
	return nil
}

// ListConflictsForUser returns the most recent conflicts for a user,
// newest first.
func (s *Store) ListConflictsForUser(ctx context.Context, userID string, limit int) ([]ConflictLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, task_id, reason, resolution, existing_clock, incoming_clock, created_at, resolved_at
		FROM conflict_log WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictLog
	for rows.Next() {
		var c ConflictLog
		var existingRaw, incomingRaw []byte
		if err := rows.Scan(&c.ID, &c.UserID, &c.TaskID, &c.Reason, &c.Resolution,
			&existingRaw, &incomingRaw, &c.CreatedAt, &c.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scanning conflict log: %w", err)
		}
		if err := json.Unmarshal(existingRaw, &c.ExistingClock); err != nil {
			return nil, fmt.Errorf("decoding existing clock: %w", err)
		}
		if err := json.Unmarshal(incomingRaw, &c.IncomingClock); err != nil {
			return nil, fmt.Errorf("decoding incoming clock: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConflictsOlderThan hard-deletes conflict log rows whose resolution
// predates the retention window.
// Rows without a resolved_at are never eligible.
func (s *Store) DeleteConflictsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM conflict_log WHERE resolved_at IS NOT NULL AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old conflict logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
