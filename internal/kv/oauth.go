// Package kv wraps the Redis-backed ephemeral namespaces: OAuth
// state and result mailboxes, session records, revocation markers, and
// rate-limit counters. Every namespace is append/overwrite/delete only
// and scoped by user, state, or (user, device) so unrelated identities
// never collide.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a KV lookup finds no matching key.
var ErrNotFound = errors.New("kv: not found")

// OAuthState is the transient record written at initiation and read
// exactly once at callback.
type OAuthState struct {
	Verifier          string    `json:"verifier"`
	Provider          string    `json:"provider"`
	WorkerCallbackURI string    `json:"worker_callback_uri"`
	AppOrigin         string    `json:"app_origin"`
	CreatedAt         time.Time `json:"created_at"`
}

// OAuthStateStore manages oauth_state:{state} keys.
type OAuthStateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOAuthStateStore creates a store with the given state TTL.
func NewOAuthStateStore(rdb *redis.Client, ttl time.Duration) *OAuthStateStore {
	return &OAuthStateStore{rdb: rdb, ttl: ttl}
}

func oauthStateKey(state string) string { return "oauth_state:" + state }

// Put stores a freshly generated OAuth state with the configured TTL.
func (s *OAuthStateStore) Put(ctx context.Context, state string, v OAuthState) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling oauth state: %w", err)
	}
	if err := s.rdb.Set(ctx, oauthStateKey(state), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing oauth state: %w", err)
	}
	return nil
}

// TakeOnce loads and deletes the state record in one round trip, so a
// replayed callback with the same state value always misses.
func (s *OAuthStateStore) TakeOnce(ctx context.Context, state string) (*OAuthState, error) {
	raw, err := s.rdb.GetDel(ctx, oauthStateKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading oauth state: %w", err)
	}
	var v OAuthState
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding oauth state: %w", err)
	}
	return &v, nil
}

// OAuthResult is the store-and-forward mailbox envelope.
type OAuthResult struct {
	Status    string    `json:"status"` // "success" or "error"
	AuthData  *AuthData `json:"authData,omitempty"`
	Error     string    `json:"error,omitempty"`
	AppOrigin string    `json:"app_origin"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthData is the payload handed to the client on OAuth success.
type AuthData struct {
	UserID                  string `json:"userId"`
	DeviceID                string `json:"deviceId"`
	Email                   string `json:"email"`
	Token                   string `json:"token"`
	ExpiresAt               int64  `json:"expiresAt"`
	RequiresEncryptionSetup bool   `json:"requiresEncryptionSetup"`
	EncryptionSalt          string `json:"encryptionSalt,omitempty"`
	Provider                string `json:"provider"`
}

// OAuthResultStore manages oauth_result:{state} keys.
type OAuthResultStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOAuthResultStore creates a mailbox store with the given TTL.
func NewOAuthResultStore(rdb *redis.Client, ttl time.Duration) *OAuthResultStore {
	return &OAuthResultStore{rdb: rdb, ttl: ttl}
}

func oauthResultKey(state string) string { return "oauth_result:" + state }

// Put writes the mailbox envelope (success or error) at the end of the
// callback flow. This write is the commit point of the OAuth callback;
// the waiting tab's poll of /api/auth/oauth/result picks it up from here.
func (s *OAuthResultStore) Put(ctx context.Context, state string, v OAuthResult) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling oauth result: %w", err)
	}
	if err := s.rdb.Set(ctx, oauthResultKey(state), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing oauth result: %w", err)
	}
	return nil
}

// TakeOnce loads and deletes the mailbox entry. A second call for the
// same state always returns ErrNotFound — callers translate that into
// HTTP 410.
func (s *OAuthResultStore) TakeOnce(ctx context.Context, state string) (*OAuthResult, error) {
	raw, err := s.rdb.GetDel(ctx, oauthResultKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading oauth result: %w", err)
	}
	var v OAuthResult
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding oauth result: %w", err)
	}
	return &v, nil
}
