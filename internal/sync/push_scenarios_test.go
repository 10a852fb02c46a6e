package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cipherloop/tasksync/internal/config"
	"github.com/cipherloop/tasksync/internal/store"
)

// fakeTaskRow is the in-memory shape of a single encrypted_tasks row, kept
// just detailed enough to drive applyOperation's truth table without a
// live database.
type fakeTaskRow struct {
	blob, nonce, checksum, device string
	version                       int64
	clock                         map[string]int64
	deletedAt                     *time.Time
}

// fakeTaskDB answers exactly the queries push.go's applyOperation path
// issues (GetTask, CountLiveTasks, InsertTask, UpdateTask, SoftDeleteTask,
// AppendConflictLog) against a single in-memory task keyed by ID.
type fakeTaskDB struct {
	tasks map[string]*fakeTaskRow
}

func newFakeTaskDB() *fakeTaskDB {
	return &fakeTaskDB{tasks: map[string]*fakeTaskRow{}}
}

// valuesRow lets QueryRow return a canned set of scan targets without
// reimplementing pgx wire decoding.
type valuesRow struct {
	values []any
	err    error
}

func (r valuesRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

func (f *fakeTaskDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "FROM encrypted_tasks WHERE id = $1 AND user_id = $2"):
		id := args[0].(string)
		row, ok := f.tasks[id]
		if !ok {
			return valuesRow{err: pgx.ErrNoRows}
		}
		clockJSON, _ := json.Marshal(row.clock)
		return valuesRow{values: []any{
			id, args[1].(string), row.blob, row.nonce, row.checksum, row.version, clockJSON,
			row.device, time.Now(), time.Now(), row.deletedAt,
		}}
	case strings.Contains(sql, "count(*) FROM encrypted_tasks"):
		var n int64
		for _, t := range f.tasks {
			if t.deletedAt == nil {
				n++
			}
		}
		return valuesRow{values: []any{n}}
	default:
		return valuesRow{err: errors.New("fakeTaskDB: unhandled QueryRow: " + sql)}
	}
}

func (f *fakeTaskDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("fakeTaskDB: Query not implemented")
}

func (f *fakeTaskDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO encrypted_tasks"):
		id, userID := args[0].(string), args[1].(string)
		_ = userID
		var clock map[string]int64
		_ = json.Unmarshal(args[5].([]byte), &clock)
		f.tasks[id] = &fakeTaskRow{
			blob: args[2].(string), nonce: args[3].(string), checksum: args[4].(string),
			version: 1, clock: clock, device: args[6].(string),
		}
		return pgconn.NewCommandTag("INSERT 1"), nil
	case strings.Contains(sql, "SET encrypted_blob"):
		id := args[0].(string)
		row, ok := f.tasks[id]
		if !ok {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		var clock map[string]int64
		_ = json.Unmarshal(args[5].([]byte), &clock)
		row.blob, row.nonce, row.checksum = args[2].(string), args[3].(string), args[4].(string)
		row.clock = clock
		row.device = args[6].(string)
		row.version++
		row.deletedAt = nil
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.Contains(sql, "SET deleted_at = now(), vector_clock"):
		id := args[0].(string)
		row, ok := f.tasks[id]
		if !ok {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		var clock map[string]int64
		_ = json.Unmarshal(args[2].([]byte), &clock)
		now := time.Now()
		row.clock = clock
		row.deletedAt = &now
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.Contains(sql, "INSERT INTO conflict_log"):
		return pgconn.NewCommandTag("INSERT 1"), nil
	default:
		return pgconn.CommandTag{}, errors.New("fakeTaskDB: unhandled Exec: " + sql)
	}
}

func newScenarioHandler() (*Handler, *fakeTaskDB) {
	db := newFakeTaskDB()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{MaxOperationsPerPush: 1000, MaxBlobBytes: 65536}
	h := NewHandler(store.New(db), nil, nil, logger, cfg)
	return h, db
}

// TestTwoDeviceCreateUpdateRace exercises the literal scenario: D1 creates
// a task, D2 updates it from a causally-descended clock (accepted), then
// D1 updates it again from its stale original clock — a genuine
// concurrent edit that must be reported as a conflict, leaving the
// server row at D2's value.
func TestTwoDeviceCreateUpdateRace(t *testing.T) {
	h, _ := newScenarioHandler()
	ctx := context.Background()

	resp := &pushResponse{Accepted: []string{}, Rejected: []rejection{}, Conflicts: []conflictEntry{}}
	h.applyOperation(ctx, "u1", "d1", pushOperation{
		Type: opCreate, TaskID: "T", EncryptedBlob: "A", Nonce: "n", Checksum: "c",
		VectorClock: map[string]int64{"d1": 1},
	}, resp)
	if len(resp.Accepted) != 1 || len(resp.Conflicts) != 0 {
		t.Fatalf("create: resp = %+v, want single accept", resp)
	}

	resp2 := &pushResponse{Accepted: []string{}, Rejected: []rejection{}, Conflicts: []conflictEntry{}}
	h.applyOperation(ctx, "u1", "d2", pushOperation{
		Type: opUpdate, TaskID: "T", EncryptedBlob: "B", Nonce: "n", Checksum: "c",
		VectorClock: map[string]int64{"d1": 1, "d2": 1},
	}, resp2)
	if len(resp2.Accepted) != 1 || len(resp2.Conflicts) != 0 {
		t.Fatalf("d2 update: resp = %+v, want single accept", resp2)
	}

	resp3 := &pushResponse{Accepted: []string{}, Rejected: []rejection{}, Conflicts: []conflictEntry{}}
	h.applyOperation(ctx, "u1", "d1", pushOperation{
		Type: opUpdate, TaskID: "T", EncryptedBlob: "C", Nonce: "n", Checksum: "c",
		VectorClock: map[string]int64{"d1": 2},
	}, resp3)

	if len(resp3.Conflicts) != 1 {
		t.Fatalf("d1 stale update: resp = %+v, want one conflict", resp3)
	}
	conflict := resp3.Conflicts[0]
	if conflict.Reason != string(store.ReasonConcurrentEdit) {
		t.Errorf("conflict reason = %q, want %q", conflict.Reason, store.ReasonConcurrentEdit)
	}
	if conflict.ExistingClock["d1"] != 1 || conflict.ExistingClock["d2"] != 1 {
		t.Errorf("existingClock = %v, want {d1:1,d2:1}", conflict.ExistingClock)
	}
	if conflict.IncomingClock["d1"] != 2 {
		t.Errorf("incomingClock = %v, want {d1:2}", conflict.IncomingClock)
	}

	existing, err := h.store.GetTask(ctx, "T", "u1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if existing.EncryptedBlob != "B" {
		t.Errorf("server row blob = %q, want %q (unchanged by the losing concurrent update)", existing.EncryptedBlob, "B")
	}
}

// TestDeleteVsConcurrentEdit exercises the literal scenario: a delete
// whose clock causally descends from the current row is accepted and
// tombstones it; a later push against that tombstone whose clock neither
// descends from nor is descended by the tombstone's clock is rejected as
// a delete_edit conflict rather than silently overwriting the tombstone.
func TestDeleteVsConcurrentEdit(t *testing.T) {
	h, db := newScenarioHandler()
	ctx := context.Background()
	db.tasks["T"] = &fakeTaskRow{
		blob: "existing", nonce: "n", checksum: "c", device: "d1",
		version: 3, clock: map[string]int64{"d1": 5, "d2": 3},
	}

	resp := &pushResponse{Accepted: []string{}, Rejected: []rejection{}, Conflicts: []conflictEntry{}}
	h.applyOperation(ctx, "u1", "d2", pushOperation{
		Type: opDelete, TaskID: "T", VectorClock: map[string]int64{"d1": 5, "d2": 4},
	}, resp)

	if len(resp.Accepted) != 1 || len(resp.Conflicts) != 0 {
		t.Fatalf("delete: resp = %+v, want single accept", resp)
	}
	if db.tasks["T"].deletedAt == nil {
		t.Fatalf("delete: task was not tombstoned")
	}

	resp2 := &pushResponse{Accepted: []string{}, Rejected: []rejection{}, Conflicts: []conflictEntry{}}
	h.applyOperation(ctx, "u1", "d1", pushOperation{
		Type: opDelete, TaskID: "T", VectorClock: map[string]int64{"d1": 6, "d2": 3},
	}, resp2)

	if len(resp2.Conflicts) != 1 {
		t.Fatalf("stale delete: resp = %+v, want one conflict", resp2)
	}
	conflict := resp2.Conflicts[0]
	if conflict.Reason != string(store.ReasonDeleteEdit) {
		t.Errorf("conflict reason = %q, want %q", conflict.Reason, store.ReasonDeleteEdit)
	}
}
