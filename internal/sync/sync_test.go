package sync

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cipherloop/tasksync/internal/auth"
	"github.com/cipherloop/tasksync/internal/config"
)

func testHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		MaxOperationsPerPush: 1000,
		MaxBlobBytes:         65536,
		StorageQuotaBytes:    10 << 20,
	}
	return NewHandler(nil, nil, nil, logger, cfg)
}

func TestHandlePush_RequiresAuthentication(t *testing.T) {
	h := testHandler()
	r := httptest.NewRequest(http.MethodPost, "/api/sync/push", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.HandlePush(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandlePull_RequiresAuthentication(t *testing.T) {
	h := testHandler()
	r := httptest.NewRequest(http.MethodPost, "/api/sync/pull", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.HandlePull(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleResolve_RequiresAuthentication(t *testing.T) {
	h := testHandler()
	r := httptest.NewRequest(http.MethodPost, "/api/sync/resolve", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.HandleResolve(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleStatus_RequiresAuthentication(t *testing.T) {
	h := testHandler()
	r := httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleStats_RequiresAuthentication(t *testing.T) {
	h := testHandler()
	r := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	h.HandleStats(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleListDevices_RequiresAuthentication(t *testing.T) {
	h := testHandler()
	r := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	w := httptest.NewRecorder()

	h.HandleListDevices(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandlePush_RejectsDeviceMismatch(t *testing.T) {
	h := testHandler()
	identity := &auth.Identity{UserID: "u1", DeviceID: "dev-a", Email: "a@example.com"}
	body := `{"deviceId":"dev-b","operations":[]}`
	r := httptest.NewRequest(http.MethodPost, "/api/sync/push", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r = r.WithContext(auth.NewContext(r.Context(), identity))
	w := httptest.NewRecorder()

	h.HandlePush(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusForbidden, w.Body.String())
	}
}

func TestHandlePush_RejectsTooManyOperations(t *testing.T) {
	h := testHandler()
	h.maxOperationsPerPush = 1
	identity := &auth.Identity{UserID: "u1", DeviceID: "dev-a", Email: "a@example.com"}
	body := `{"deviceId":"dev-a","operations":[
		{"type":"create","taskId":"t1"},
		{"type":"create","taskId":"t2"}
	]}`
	r := httptest.NewRequest(http.MethodPost, "/api/sync/push", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r = r.WithContext(auth.NewContext(r.Context(), identity))
	w := httptest.NewRecorder()

	h.HandlePush(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandleRevokeDevice_RequiresAuthentication(t *testing.T) {
	h := testHandler()
	r := httptest.NewRequest(http.MethodDelete, "/api/devices/dev-1", nil)
	w := httptest.NewRecorder()

	h.HandleRevokeDevice(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
