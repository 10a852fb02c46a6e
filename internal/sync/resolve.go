package sync

import (
	"errors"
	"net/http"

	"github.com/cipherloop/tasksync/internal/auth"
	"github.com/cipherloop/tasksync/internal/httpserver"
	"github.com/cipherloop/tasksync/internal/store"
)

type resolution string

const (
	resolutionKeepLocal  resolution = "keep_local"
	resolutionKeepRemote resolution = "keep_remote"
	resolutionMerge      resolution = "merge"
)

type mergedTask struct {
	EncryptedBlob string `json:"encryptedBlob" validate:"required"`
	Nonce         string `json:"nonce" validate:"required"`
	Checksum      string `json:"checksum" validate:"required"`
}

type resolveRequest struct {
	TaskID     string      `json:"taskId" validate:"required"`
	Resolution resolution  `json:"resolution" validate:"required,oneof=keep_local keep_remote merge"`
	MergedTask *mergedTask `json:"mergedTask"`
}

// HandleResolve implements POST /api/sync/resolve. When resolution
// is merge and a mergedTask is supplied, the server overwrites the row and
// bumps its version; any other resolution takes no data action here — the
// client effects it via a subsequent push. Either way a conflict-log entry
// is always recorded with resolution mode manual.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req resolveRequest
	if !httpserver.DecodeAndValidate(w, r, &req, 1<<20) {
		return
	}

	ctx := r.Context()
	existing, err := h.store.GetTask(ctx, req.TaskID, identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("loading task for resolve", "error", err, "task_id", req.TaskID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if req.Resolution == resolutionMerge && req.MergedTask != nil {
		existing.EncryptedBlob = req.MergedTask.EncryptedBlob
		existing.Nonce = req.MergedTask.Nonce
		existing.Checksum = req.MergedTask.Checksum
		existing.LastModifiedDevice = identity.DeviceID
		if err := h.store.UpdateTask(ctx, existing); err != nil {
			h.logger.Error("applying merged task", "error", err, "task_id", req.TaskID)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	if err := h.store.AppendConflictLog(ctx, &store.ConflictLog{
		UserID:        identity.UserID,
		TaskID:        req.TaskID,
		Reason:        store.ReasonConcurrentEdit,
		Resolution:    store.ResolutionManual,
		ExistingClock: existing.VectorClock,
		IncomingClock: existing.VectorClock,
	}); err != nil {
		h.logger.Error("appending manual conflict resolution log", "error", err, "task_id", req.TaskID)
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"success": true})
}
