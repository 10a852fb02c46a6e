package sync

import (
	"net/http"
	"time"

	"github.com/cipherloop/tasksync/internal/auth"
	"github.com/cipherloop/tasksync/internal/httpserver"
	"github.com/cipherloop/tasksync/internal/store"
)

type pullRequest struct {
	DeviceID        string           `json:"deviceId" validate:"required"`
	LastVectorClock map[string]int64 `json:"lastVectorClock"`
	SinceTimestamp  *time.Time       `json:"sinceTimestamp"`
	Limit           int              `json:"limit" validate:"omitempty,min=1,max=100"`
	Cursor          string           `json:"cursor"`
}

type taskEnvelope struct {
	TaskID        string           `json:"taskId"`
	EncryptedBlob string           `json:"encryptedBlob,omitempty"`
	Nonce         string           `json:"nonce,omitempty"`
	Checksum      string           `json:"checksum,omitempty"`
	Version       int64            `json:"version"`
	VectorClock   map[string]int64 `json:"vectorClock"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

type pullResponse struct {
	Tasks             []taskEnvelope   `json:"tasks"`
	DeletedTaskIDs    []string         `json:"deletedTaskIds"`
	HasMore           bool             `json:"hasMore"`
	NextCursor        *string          `json:"nextCursor,omitempty"`
	ServerVectorClock map[string]int64 `json:"serverVectorClock"`
}

const defaultPullLimit = 50

// HandlePull implements POST /api/sync/pull. By design pull never
// filters by vector-clock comparison — every candidate row in the window
// is returned and the client resolves against its own copy, so a
// reinstalled client (whose clock has forgotten what it once knew) never
// silently loses data.
func (h *Handler) HandlePull(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req pullRequest
	if !httpserver.DecodeAndValidate(w, r, &req, 1<<20) {
		return
	}
	if req.DeviceID != identity.DeviceID {
		httpserver.RespondError(w, http.StatusForbidden, "device mismatch")
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultPullLimit
	}

	since := time.Time{}
	if req.Cursor != "" {
		c, err := httpserver.DecodeCursor(req.Cursor)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		since = c
	} else if req.SinceTimestamp != nil {
		since = *req.SinceTimestamp
	}

	ctx := r.Context()
	// Fetch limit+1 to detect hasMore without a second round trip.
	rows, err := h.store.ListSince(ctx, identity.UserID, since, limit+1)
	if err != nil {
		h.logger.Error("listing tasks since cursor", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	page := httpserver.NewCursorPage(rows, limit, func(t store.EncryptedTask) time.Time {
		if t.DeletedAt != nil {
			return *t.DeletedAt
		}
		return t.UpdatedAt
	})

	resp := pullResponse{
		Tasks:          []taskEnvelope{},
		DeletedTaskIDs: []string{},
		HasMore:        page.HasMore,
		NextCursor:     page.NextCursor,
	}
	for _, t := range page.Items {
		if t.DeletedAt != nil {
			resp.DeletedTaskIDs = append(resp.DeletedTaskIDs, t.ID)
			continue
		}
		resp.Tasks = append(resp.Tasks, taskEnvelope{
			TaskID:        t.ID,
			EncryptedBlob: t.EncryptedBlob,
			Nonce:         t.Nonce,
			Checksum:      t.Checksum,
			Version:       t.Version,
			VectorClock:   t.VectorClock,
			UpdatedAt:     t.UpdatedAt,
		})
	}

	merged, err := h.store.MergedVectorClock(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("computing merged vector clock", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp.ServerVectorClock = merged

	if err := h.store.UpsertSyncMetadata(ctx, &store.SyncMetadata{
		UserID:         identity.UserID,
		DeviceID:       identity.DeviceID,
		LastPullVector: merged,
		SyncStatus:     store.SyncSuccess,
	}); err != nil {
		h.logger.Error("upserting sync metadata", "error", err)
	}

	h.audit.Log(store.SyncOperation{
		UserID:      identity.UserID,
		DeviceID:    identity.DeviceID,
		Kind:        store.SyncOpPull,
		VectorClock: req.LastVectorClock,
	})

	httpserver.Respond(w, http.StatusOK, resp)
}
