package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testAccount() *Account {
	return NewAccount(nil, nil, nil)
}

func TestHandleLogout_RequiresAuthentication(t *testing.T) {
	a := testAccount()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	w := httptest.NewRecorder()

	a.HandleLogout(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleRefresh_RequiresAuthentication(t *testing.T) {
	a := testAccount()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	w := httptest.NewRecorder()

	a.HandleRefresh(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleGetEncryptionSalt_RequiresAuthentication(t *testing.T) {
	a := testAccount()
	r := httptest.NewRequest(http.MethodGet, "/api/auth/encryption-salt", nil)
	w := httptest.NewRecorder()

	a.HandleGetEncryptionSalt(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleSetEncryptionSalt_RequiresAuthentication(t *testing.T) {
	a := testAccount()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/encryption-salt", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	a.HandleSetEncryptionSalt(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleSetEncryptionSalt_RejectsEmptySalt(t *testing.T) {
	a := testAccount()
	identity := &Identity{UserID: "u1", DeviceID: "d1", Email: "a@example.com", JTI: "jti-1"}
	r := httptest.NewRequest(http.MethodPost, "/api/auth/encryption-salt", strings.NewReader(`{"encryptionSalt":""}`))
	r = r.WithContext(NewContext(r.Context(), identity))
	w := httptest.NewRecorder()

	a.HandleSetEncryptionSalt(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandleSetEncryptionSalt_RejectsMalformedBody(t *testing.T) {
	a := testAccount()
	identity := &Identity{UserID: "u1", DeviceID: "d1", Email: "a@example.com", JTI: "jti-1"}
	r := httptest.NewRequest(http.MethodPost, "/api/auth/encryption-salt", strings.NewReader(`{bad json`))
	r = r.WithContext(NewContext(r.Context(), identity))
	w := httptest.NewRecorder()

	a.HandleSetEncryptionSalt(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
