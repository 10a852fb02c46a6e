package sync

import (
	"context"
	"errors"
	"net/http"

	"github.com/cipherloop/tasksync/internal/auth"
	"github.com/cipherloop/tasksync/internal/httpserver"
	"github.com/cipherloop/tasksync/internal/store"
	"github.com/cipherloop/tasksync/internal/vectorclock"
)

// opType enumerates the three operation kinds a push batch may contain.
type opType string

const (
	opCreate opType = "create"
	opUpdate opType = "update"
	opDelete opType = "delete"
)

type pushOperation struct {
	Type          opType           `json:"type" validate:"required,oneof=create update delete"`
	TaskID        string           `json:"taskId" validate:"required"`
	EncryptedBlob string           `json:"encryptedBlob"`
	Nonce         string           `json:"nonce"`
	Checksum      string           `json:"checksum"`
	VectorClock   map[string]int64 `json:"vectorClock"`
}

type pushRequest struct {
	DeviceID          string           `json:"deviceId" validate:"required"`
	Operations        []pushOperation  `json:"operations" validate:"max=1000"`
	ClientVectorClock map[string]int64 `json:"clientVectorClock"`
}

type rejection struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type conflictEntry struct {
	TaskID        string           `json:"taskId"`
	Reason        string           `json:"reason"`
	ExistingClock map[string]int64 `json:"existingClock"`
	IncomingClock map[string]int64 `json:"incomingClock"`
}

type pushResponse struct {
	Accepted          []string         `json:"accepted"`
	Rejected          []rejection      `json:"rejected"`
	Conflicts         []conflictEntry  `json:"conflicts"`
	ServerVectorClock map[string]int64 `json:"serverVectorClock"`
}

// HandlePush implements POST /api/sync/push. The authoritative
// device ID is the verified session's, not the request body's; a mismatch
// is a 403, not a validation error, since it signals a stolen or
// misattributed token rather than a malformed request.
func (h *Handler) HandlePush(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	maxBody := int64(h.maxBlobBytes) * int64(h.maxOperationsPerPush+1)
	var req pushRequest
	if !httpserver.DecodeAndValidate(w, r, &req, maxBody) {
		return
	}
	if len(req.Operations) > h.maxOperationsPerPush {
		httpserver.RespondError(w, http.StatusBadRequest, "too many operations in a single push")
		return
	}
	if req.DeviceID != identity.DeviceID {
		httpserver.RespondError(w, http.StatusForbidden, "device mismatch")
		return
	}

	ctx := r.Context()
	resp := pushResponse{
		Accepted:  []string{},
		Rejected:  []rejection{},
		Conflicts: []conflictEntry{},
	}

	for _, op := range req.Operations {
		h.applyOperation(ctx, identity.UserID, identity.DeviceID, op, &resp)
	}

	merged, err := h.store.MergedVectorClock(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("computing merged vector clock", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp.ServerVectorClock = merged

	status := store.SyncSuccess
	if len(resp.Conflicts) > 0 {
		status = store.SyncConflict
	}
	if err := h.store.UpsertSyncMetadata(ctx, &store.SyncMetadata{
		UserID:         identity.UserID,
		DeviceID:       identity.DeviceID,
		LastPushVector: req.ClientVectorClock,
		SyncStatus:     status,
	}); err != nil {
		h.logger.Error("upserting sync metadata", "error", err)
	}

	h.audit.Log(store.SyncOperation{
		UserID:      identity.UserID,
		DeviceID:    identity.DeviceID,
		Kind:        store.SyncOpPush,
		VectorClock: req.ClientVectorClock,
	})

	httpserver.Respond(w, http.StatusOK, resp)
}

// applyOperation runs a single push-batch operation against the truth
// table. Each operation is its own error boundary: a failure here
// is recorded in rejected[] and never aborts sibling operations or the
// surrounding audit write.
func (h *Handler) applyOperation(ctx context.Context, userID, deviceID string, op pushOperation, resp *pushResponse) {
	existing, err := h.store.GetTask(ctx, op.TaskID, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("loading task for push", "error", err, "task_id", op.TaskID)
		resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "internal_error"})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	}

	switch op.Type {
	case opCreate, opUpdate:
		h.applyUpsert(ctx, userID, deviceID, op, existing, resp)
	case opDelete:
		h.applyDelete(ctx, userID, op, existing, resp)
	default:
		resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "validation_error", Detail: "unknown operation type"})
	}
}

func (h *Handler) applyUpsert(ctx context.Context, userID, deviceID string, op pushOperation, existing *store.EncryptedTask, resp *pushResponse) {
	if op.EncryptedBlob == "" || op.Nonce == "" || op.Checksum == "" {
		resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "validation_error", Detail: "encryptedBlob, nonce, and checksum are required"})
		return
	}
	if len(op.EncryptedBlob) > h.maxBlobBytes {
		resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "validation_error", Detail: "encrypted blob exceeds the maximum size"})
		return
	}

	if existing == nil {
		limit := h.quotaLiveTaskLimit()
		if limit > 0 {
			live, err := h.store.CountLiveTasks(ctx, userID)
			if err != nil {
				h.logger.Error("counting live tasks for quota check", "error", err)
				resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "internal_error"})
				return
			}
			if live >= limit {
				resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "quota_exceeded"})
				return
			}
		}

		t := &store.EncryptedTask{
			ID:                 op.TaskID,
			UserID:             userID,
			EncryptedBlob:      op.EncryptedBlob,
			Nonce:              op.Nonce,
			Checksum:           op.Checksum,
			VectorClock:        op.VectorClock,
			LastModifiedDevice: deviceID,
		}
		if err := h.store.InsertTask(ctx, t); err != nil {
			h.logger.Error("inserting task", "error", err, "task_id", op.TaskID)
			resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "internal_error"})
			return
		}
		resp.Accepted = append(resp.Accepted, op.TaskID)
		return
	}

	switch vectorclock.Compare(existing.VectorClock, op.VectorClock) {
	case vectorclock.Concurrent:
		h.recordConflict(ctx, userID, op.TaskID, store.ReasonConcurrentEdit, existing.VectorClock, op.VectorClock, resp)
	default: // Identical, Before (a_before_b), After (b_before_a)
		t := &store.EncryptedTask{
			ID:                 op.TaskID,
			UserID:             userID,
			EncryptedBlob:      op.EncryptedBlob,
			Nonce:              op.Nonce,
			Checksum:           op.Checksum,
			VectorClock:        op.VectorClock,
			LastModifiedDevice: deviceID,
		}
		if err := h.store.UpdateTask(ctx, t); err != nil {
			h.logger.Error("updating task", "error", err, "task_id", op.TaskID)
			resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "internal_error"})
			return
		}
		resp.Accepted = append(resp.Accepted, op.TaskID)
	}
}

func (h *Handler) applyDelete(ctx context.Context, userID string, op pushOperation, existing *store.EncryptedTask, resp *pushResponse) {
	if existing == nil {
		// Delete of an unknown task is a no-op accept.
		resp.Accepted = append(resp.Accepted, op.TaskID)
		return
	}

	switch vectorclock.Compare(existing.VectorClock, op.VectorClock) {
	case vectorclock.After, vectorclock.Concurrent: // the delete's view does not dominate the server row
		h.recordConflict(ctx, userID, op.TaskID, store.ReasonDeleteEdit, existing.VectorClock, op.VectorClock, resp)
	default: // Identical, Before (a_before_b): the delete's view dominates or matches
		if err := h.store.SoftDeleteTask(ctx, op.TaskID, userID, op.VectorClock); err != nil {
			h.logger.Error("soft-deleting task", "error", err, "task_id", op.TaskID)
			resp.Rejected = append(resp.Rejected, rejection{TaskID: op.TaskID, Reason: "internal_error"})
			return
		}
		resp.Accepted = append(resp.Accepted, op.TaskID)
	}
}

func (h *Handler) recordConflict(ctx context.Context, userID, taskID string, reason store.ConflictReason, existingClock, incomingClock map[string]int64, resp *pushResponse) {
	resolution := store.ResolutionLastWriteWins
	if reason == store.ReasonConcurrentEdit {
		resolution = store.ResolutionAutoMerge
	}
	if err := h.store.AppendConflictLog(ctx, &store.ConflictLog{
		UserID:        userID,
		TaskID:        taskID,
		Reason:        reason,
		Resolution:    resolution,
		ExistingClock: existingClock,
		IncomingClock: incomingClock,
	}); err != nil {
		h.logger.Error("appending conflict log", "error", err, "task_id", taskID)
	}
	resp.Conflicts = append(resp.Conflicts, conflictEntry{
		TaskID:        taskID,
		Reason:        string(reason),
		ExistingClock: existingClock,
		IncomingClock: incomingClock,
	})
}
