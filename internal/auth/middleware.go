package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cipherloop/tasksync/internal/kv"
	"github.com/cipherloop/tasksync/internal/store"
)

// Middleware authenticates every request via the Bearer session token,
// checks revocation, schedules a best-effort activity touch, and
// populates the request context with the caller's identity.
func Middleware(sessionMgr *SessionManager, sessions *kv.SessionStore, devices *store.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") && !strings.HasPrefix(authHeader, "bearer ") {
				respondErr(w, http.StatusUnauthorized, "authentication required")
				return
			}
			rawToken := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(authHeader, "Bearer "), "bearer "))
			if rawToken == "" {
				respondErr(w, http.StatusUnauthorized, "authentication required")
				return
			}

			claims, err := sessionMgr.Validate(rawToken)
			if err != nil {
				logger.Warn("session validation failed", "error", err)
				respondErr(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := r.Context()
			revoked, err := sessions.IsRevoked(ctx, claims.Subject, claims.JTI)
			if err != nil {
				logger.Error("checking session revocation", "error", err)
				respondErr(w, http.StatusInternalServerError, "internal error")
				return
			}
			if revoked {
				respondErr(w, http.StatusUnauthorized, "session has been revoked")
				return
			}

			active, err := devices.IsDeviceActive(ctx, claims.DeviceID)
			if err != nil {
				logger.Error("checking device status", "error", err)
				respondErr(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !active {
				respondErr(w, http.StatusUnauthorized, "device has been revoked")
				return
			}

			go touchActivity(sessions, claims.Subject, claims.JTI, logger)

			identity := &Identity{
				UserID:   claims.Subject,
				DeviceID: claims.DeviceID,
				Email:    claims.Email,
				JTI:      claims.JTI,
			}
			next.ServeHTTP(w, r.WithContext(NewContext(ctx, identity)))
		})
	}
}

// touchActivity updates a session's last_activity without blocking the
// request and without failing it on error.
func touchActivity(sessions *kv.SessionStore, userID, jti string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sessions.TouchActivity(ctx, userID, jti); err != nil {
		logger.Warn("touching session activity", "error", err, "user_id", userID)
	}
}

func respondErr(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
