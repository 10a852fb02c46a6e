// Package audit provides an async, buffered writer for the sync operation
// log: every push/pull is appended here without
// blocking the request that triggered it.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cipherloop/tasksync/internal/store"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer batches store.SyncOperation rows and flushes them on a timer or
// when the batch fills, whichever comes first.
type Writer struct {
	store   *store.Store
	logger  *slog.Logger
	entries chan store.SyncOperation
	wg      sync.WaitGroup
}

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(s *store.Store, logger *slog.Logger) *Writer {
	return &Writer{
		store:   s,
		logger:  logger,
		entries: make(chan store.SyncOperation, bufferSize),
	}
}

// Start launches the background flush loop in its own goroutine and
// returns immediately; the loop runs until ctx is cancelled or Close is
// called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close drains the entries channel and waits for the final flush.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues a sync operation for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning logged,
// since the operation log is diagnostic, not the source of truth for sync
// state (that's encrypted_tasks and sync_metadata).
func (w *Writer) Log(op store.SyncOperation) {
	select {
	case w.entries <- op:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"user_id", op.UserID, "device_id", op.DeviceID, "kind", op.Kind)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]store.SyncOperation, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []store.SyncOperation) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, op := range entries {
		op := op
		if err := w.store.AppendSyncOperation(ctx, &op); err != nil {
			w.logger.Error("writing sync operation log entry", "error", err,
				"user_id", op.UserID, "device_id", op.DeviceID, "kind", op.Kind)
		}
	}
}
