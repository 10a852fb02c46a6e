package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cipherloop/tasksync/internal/kv"
	"github.com/cipherloop/tasksync/internal/store"
)

// Account implements the small authenticated account endpoints that sit
// alongside the OAuth handshake: logout, token refresh, and the
// client-chosen encryption salt used to derive the zero-knowledge key.
type Account struct {
	sessionMgr *SessionManager
	sessions   *kv.SessionStore
	store      *store.Store
}

// NewAccount wires the account handler group.
func NewAccount(sessionMgr *SessionManager, sessions *kv.SessionStore, st *store.Store) *Account {
	return &Account{sessionMgr: sessionMgr, sessions: sessions, store: st}
}

// HandleLogout revokes the caller's current session so the bearer token
// can no longer be used, even before it naturally expires.
func (a *Account) HandleLogout(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	if identity == nil {
		respondErr(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.sessions.Revoke(r.Context(), identity.UserID, identity.JTI, a.sessionMgr.MaxAge()); err != nil {
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleRefresh mints a fresh session token for the same user and device,
// then revokes the token that authenticated this request — refresh is a
// one-time rotation, not an extension of the old token's lifetime.
func (a *Account) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	if identity == nil {
		respondErr(w, http.StatusUnauthorized, "authentication required")
		return
	}

	issued, err := a.sessionMgr.Issue(identity.UserID, identity.DeviceID, identity.Email)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.sessions.Put(r.Context(), kv.SessionRecord{
		UserID:       identity.UserID,
		DeviceID:     identity.DeviceID,
		Email:        identity.Email,
		JTI:          issued.JTI,
		IssuedAt:     time.Now(),
		LastActivity: time.Now(),
	}, a.sessionMgr.MaxAge()); err != nil {
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.sessions.Revoke(r.Context(), identity.UserID, identity.JTI, a.sessionMgr.MaxAge()); err != nil {
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     issued.Token,
		"expiresAt": issued.ExpiresAt,
	})
}

// HandleGetEncryptionSalt returns the caller's stored key-derivation
// salt, or an empty string if the account has not completed the
// client-side encryption setup step yet.
func (a *Account) HandleGetEncryptionSalt(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	if identity == nil {
		respondErr(w, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := a.store.GetUserByID(r.Context(), identity.UserID)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	salt := ""
	if user.EncryptionSalt != nil {
		salt = *user.EncryptionSalt
	}
	writeJSON(w, http.StatusOK, map[string]string{"encryptionSalt": salt})
}

type setSaltRequest struct {
	EncryptionSalt string `json:"encryptionSalt"`
}

// HandleSetEncryptionSalt stores the client-chosen salt, replacing any
// previously stored value — the server never derives or sees the
// encryption key itself.
func (a *Account) HandleSetEncryptionSalt(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	if identity == nil {
		respondErr(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req setSaltRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EncryptionSalt == "" {
		respondErr(w, http.StatusBadRequest, "encryptionSalt is required")
		return
	}

	if err := a.store.SetEncryptionSalt(r.Context(), identity.UserID, req.EncryptionSalt); err != nil {
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
