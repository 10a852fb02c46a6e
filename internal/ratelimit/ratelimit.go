// Package ratelimit implements the fixed-window, per-identity rate
// limiter with brute-force escalation. It is independent of the auth
// package so both authenticated and unauthenticated middleware chains
// (OAuth start, sync push/pull) can use it without an import cycle.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cipherloop/tasksync/internal/cryptoutil"
	"github.com/cipherloop/tasksync/internal/kv"
)

// Policy is one row of the per-endpoint policy table: max requests within
// window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// anonymousCap is the hard ceiling applied when identity collapses to the
// literal string "anonymous" (no IP available).
const anonymousCap = 10

// escalationThreshold is the number of blocked attempts within the
// tracking horizon that triggers a brute-force log.
const escalationThreshold = 3

// blockedHorizon is the window over which blocked attempts accumulate for
// escalation detection.
const blockedHorizon = 10 * time.Minute

// warnThreshold is the fraction of the limit that triggers a one-time
// warning log.
const warnThreshold = 0.8

// Limiter enforces Policy entries per (identity, path) using Redis-backed
// fixed-window counters.
type Limiter struct {
	counters *kv.RateLimitCounters
	policies map[string]Policy
	logger   *slog.Logger
}

// NewLimiter creates a limiter over the given policy table, keyed by
// route name (not raw path, so templated routes like /api/devices/{id}
// share one bucket).
func NewLimiter(counters *kv.RateLimitCounters, policies map[string]Policy, logger *slog.Logger) *Limiter {
	return &Limiter{counters: counters, policies: policies, logger: logger}
}

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	RetryAt   time.Time
}

// Identity resolves the rate-limit identity for a request: user_id when
// authenticated, else client IP, else "anonymous".
func Identity(userID, ip string) string {
	if userID != "" {
		return userID
	}
	if ip != "" {
		return ip
	}
	return "anonymous"
}

// ClientIP extracts the client IP per the provider-header precedence
// CF-Connecting-IP / X-Real-IP / X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	return ""
}

// Check applies the named route's policy to the given identity, halving
// the quota for unauthenticated callers on non-auth routes and hard-
// capping the literal "anonymous" identity at anonymousCap.
func (l *Limiter) Check(ctx context.Context, route, identity string, authenticated, isAuthRoute bool) (Result, error) {
	policy, ok := l.policies[route]
	if !ok {
		return Result{Allowed: true}, nil
	}

	limit := policy.MaxRequests
	if !authenticated && !isAuthRoute {
		limit = limit / 2
		if limit < 1 {
			limit = 1
		}
	}
	if identity == "anonymous" && limit > anonymousCap {
		limit = anonymousCap
	}

	now := time.Now()
	windowIndex := now.Unix() / int64(policy.Window.Seconds())
	count, err := l.counters.IncrementRequest(ctx, identity, route, windowIndex, policy.Window)
	if err != nil {
		return Result{}, fmt.Errorf("incrementing rate limit: %w", err)
	}

	windowEnd := time.Unix((windowIndex+1)*int64(policy.Window.Seconds()), 0)
	result := Result{
		Limit:   limit,
		ResetAt: windowEnd,
	}

	if count > int64(limit) {
		result.Allowed = false
		result.Remaining = 0
		result.RetryAt = windowEnd

		blocked, blockErr := l.counters.IncrementBlocked(ctx, identity, route, blockedHorizon)
		if blockErr != nil {
			l.logger.Error("incrementing blocked counter", "error", blockErr)
		} else if blocked >= escalationThreshold {
			l.logger.Error("potential brute-force pattern detected",
				"severity", "high",
				"identity_hash", cryptoutil.HashSHA256Hex(identity)[:8],
				"route", route,
				"blocked_count", blocked,
			)
		}
		return result, nil
	}

	result.Allowed = true
	result.Remaining = limit - int(count)
	if float64(count) >= float64(limit)*warnThreshold && float64(count-1) < float64(limit)*warnThreshold {
		l.logger.Warn("rate limit usage crossed 80% of quota",
			"identity_hash", cryptoutil.HashSHA256Hex(identity)[:8],
			"route", route,
			"count", count,
			"limit", limit,
		)
	}
	return result, nil
}

// authRoutePrefix marks routes exempt from the authenticated-vs-anonymous
// quota halving, since everything under it is inherently unauthenticated.
const authRoutePrefix = "/api/auth"

// Middleware applies Check to every request, keyed by the matched chi
// route pattern. authedUserID resolves the caller's user ID from the
// request context (empty if unauthenticated) — passed as a callback
// rather than importing the auth package directly, so this package stays
// usable from both authenticated and pre-authentication middleware
// chains without risking an import cycle.
func (l *Limiter) Middleware(authedUserID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
				if pattern := routeCtx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			var userID string
			if authedUserID != nil {
				userID = authedUserID(r)
			}
			identity := Identity(userID, ClientIP(r))
			isAuthRoute := strings.HasPrefix(route, authRoutePrefix)

			result, err := l.Check(r.Context(), route, identity, userID != "", isAuthRoute)
			if err != nil {
				l.logger.Error("checking rate limit", "error", err, "route", route)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(result.RetryAt).Seconds()), 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
