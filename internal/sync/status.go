package sync

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cipherloop/tasksync/internal/auth"
	"github.com/cipherloop/tasksync/internal/httpserver"
	"github.com/cipherloop/tasksync/internal/store"
)

type statusResponse struct {
	LastSyncAt       *time.Time `json:"lastSyncAt"`
	PendingPushCount int        `json:"pendingPushCount"`
	PendingPullCount int        `json:"pendingPullCount"`
	ConflictCount    int        `json:"conflictCount"`
	DeviceCount      int        `json:"deviceCount"`
	StorageUsed      int64      `json:"storageUsed"`
	StorageQuota     int64      `json:"storageQuota"`
}

// HandleStatus implements GET /api/sync/status. Pending push/pull
// counts are always zero — they describe client-local queue state the
// server has no visibility into.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	ctx := r.Context()

	metaRows, err := h.store.ListSyncMetadataForUser(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("listing sync metadata", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	var lastSync *time.Time
	for i := range metaRows {
		if lastSync == nil || metaRows[i].LastSyncAt.After(*lastSync) {
			t := metaRows[i].LastSyncAt
			lastSync = &t
		}
	}

	conflicts, err := h.store.ListConflictsForUser(ctx, identity.UserID, 10000)
	if err != nil {
		h.logger.Error("listing conflicts", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	devices, err := h.store.ListDevices(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("listing devices", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	stats, err := h.store.AllTaskStats(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("computing storage usage", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	var storageUsed int64
	for _, s := range stats {
		storageUsed += int64(s.BlobBytes)
	}

	httpserver.Respond(w, http.StatusOK, statusResponse{
		LastSyncAt:    lastSync,
		ConflictCount: len(conflicts),
		DeviceCount:   len(devices),
		StorageUsed:   storageUsed,
		StorageQuota:  h.storageQuotaBytes,
	})
}

type statsTaskRow struct {
	TaskID    string     `json:"taskId"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	BlobBytes int        `json:"blobBytes"`
}

type statsResponse struct {
	Tasks          []statsTaskRow `json:"tasks"`
	TotalCount     int            `json:"totalCount"`
	LiveCount      int            `json:"liveCount"`
	DeletedCount   int            `json:"deletedCount"`
	TotalBytes     int64          `json:"totalBytes"`
	OldestTaskAt   *time.Time     `json:"oldestTaskAt,omitempty"`
	NewestTaskAt   *time.Time     `json:"newestTaskAt,omitempty"`
}

// HandleStats implements GET /api/stats. Every field here is an
// envelope property (timestamps, version, byte length); the server never
// inspects the ciphertext itself to produce these aggregates.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rows, err := h.store.AllTaskStats(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("loading task stats", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := statsResponse{Tasks: make([]statsTaskRow, 0, len(rows))}
	for _, row := range rows {
		resp.Tasks = append(resp.Tasks, statsTaskRow{
			TaskID:    row.ID,
			Version:   row.Version,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
			DeletedAt: row.DeletedAt,
			BlobBytes: row.BlobBytes,
		})
		resp.TotalCount++
		resp.TotalBytes += int64(row.BlobBytes)
		if row.DeletedAt != nil {
			resp.DeletedCount++
		} else {
			resp.LiveCount++
		}
		if resp.OldestTaskAt == nil || row.CreatedAt.Before(*resp.OldestTaskAt) {
			t := row.CreatedAt
			resp.OldestTaskAt = &t
		}
		if resp.NewestTaskAt == nil || row.CreatedAt.After(*resp.NewestTaskAt) {
			t := row.CreatedAt
			resp.NewestTaskAt = &t
		}
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

type deviceView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	IsActive   bool      `json:"isActive"`
	IsCurrent  bool      `json:"isCurrent"`
}

// HandleListDevices implements GET /api/devices.
func (h *Handler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	devices, err := h.store.ListDevices(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("listing devices", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{
			ID:         d.ID,
			Name:       d.Name,
			LastSeenAt: d.LastSeenAt,
			IsActive:   d.IsActive,
			IsCurrent:  d.ID == identity.DeviceID,
		})
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"devices": views})
}

// HandleRevokeDevice implements DELETE /api/devices/{id}: marks
// the device inactive and revokes every session tied to it, so a stolen
// or decommissioned device can't keep syncing even with a still-valid
// token.
func (h *Handler) HandleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	deviceID := chi.URLParam(r, "id")
	if deviceID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "device id is required")
		return
	}

	ctx := r.Context()
	if err := h.store.RevokeDevice(ctx, deviceID, identity.UserID); err != nil {
		if err == store.ErrNotFound {
			httpserver.RespondError(w, http.StatusNotFound, "device not found")
			return
		}
		h.logger.Error("revoking device", "error", err, "device_id", deviceID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := h.sessions.RevokeDeviceSessions(ctx, identity.UserID, deviceID, 7*24*time.Hour); err != nil {
		h.logger.Error("revoking device sessions", "error", err, "device_id", deviceID)
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"success": true})
}
