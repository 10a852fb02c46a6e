// Package sync implements the causal replication protocol: push, pull,
// conflict resolution, and the read-only status/stats/devices endpoints.
// The server never decrypts a task blob; every handler here operates on
// envelope fields and vector clocks only.
package sync

import (
	"log/slog"

	"github.com/cipherloop/tasksync/internal/audit"
	"github.com/cipherloop/tasksync/internal/config"
	"github.com/cipherloop/tasksync/internal/kv"
	"github.com/cipherloop/tasksync/internal/store"
)

// Handler holds the dependencies shared by every sync endpoint.
type Handler struct {
	store    *store.Store
	sessions *kv.SessionStore
	audit    *audit.Writer
	logger   *slog.Logger

	maxOperationsPerPush int
	maxBlobBytes         int
	storageQuotaBytes    int64
	taskSizeEstimate     int64
}

// NewHandler wires a sync Handler from its dependencies and the
// policy constants (operations-per-push cap, blob size limit, storage
// quota measured in estimated bytes per live task).
func NewHandler(s *store.Store, sessions *kv.SessionStore, auditWriter *audit.Writer, logger *slog.Logger, cfg *config.Config) *Handler {
	return &Handler{
		store:                s,
		sessions:             sessions,
		audit:                auditWriter,
		logger:               logger,
		maxOperationsPerPush: cfg.MaxOperationsPerPush,
		maxBlobBytes:         cfg.MaxBlobBytes,
		storageQuotaBytes:    cfg.StorageQuotaBytes,
		taskSizeEstimate:     cfg.TaskSizeEstimateBytes,
	}
}

// quotaLiveTaskLimit returns the maximum number of live tasks a user may
// hold, derived from the configured byte quota and per-task estimate.
func (h *Handler) quotaLiveTaskLimit() int64 {
	if h.taskSizeEstimate <= 0 {
		return 0
	}
	return h.storageQuotaBytes / h.taskSizeEstimate
}
