package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppendSyncOperation writes an append-only row to the sync operation
// log — every push and pull is recorded regardless of outcome, for
// the audit trail supporting disputes and debugging.
func (s *Store) AppendSyncOperation(ctx context.Context, op *SyncOperation) error {
	clockJSON, err := json.Marshal(op.VectorClock)
	if err != nil {
		return fmt.Errorf("marshaling vector clock: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_operations (user_id, device_id, kind, vector_clock, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		op.UserID, op.DeviceID, op.Kind, clockJSON,
	)
	if err != nil {
		return fmt.Errorf("appending sync operation: %w", err)
	}
	return nil
}

// ListSyncOperations returns the most recent operations for a user, newest
// first, for diagnostic/audit inspection.
func (s *Store) ListSyncOperations(ctx context.Context, userID string, limit int) ([]SyncOperation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, device_id, kind, vector_clock, created_at
		FROM sync_operations WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var out []SyncOperation
	for rows.Next() {
		var op SyncOperation
		var raw []byte
		if err := rows.Scan(&op.ID, &op.UserID, &op.DeviceID, &op.Kind, &raw, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		if err := json.Unmarshal(raw, &op.VectorClock); err != nil {
			return nil, fmt.Errorf("decoding vector clock: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
