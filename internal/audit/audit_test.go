package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cipherloop/tasksync/internal/store"
)

func TestWriter_LogDropsWhenBufferFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWriter(nil, logger)

	for i := 0; i < bufferSize; i++ {
		w.Log(store.SyncOperation{UserID: "u1", DeviceID: "d1", Kind: store.SyncOpPush})
	}

	// One more over capacity must not block.
	done := make(chan struct{})
	go func() {
		w.Log(store.SyncOperation{UserID: "u1", DeviceID: "d1", Kind: store.SyncOpPush})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked when buffer was full")
	}
}

func TestWriter_StartCloseDrains(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWriter(nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	// No entries are logged, so the nil store is never touched; the
	// goroutine must still exit cleanly on cancel and Close.
	cancel()
	w.Close()
}
