package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRecord is the observational record kept alongside every minted
// session JWT, keyed session:{user_id}:{jti}.
type SessionRecord struct {
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	Email        string    `json:"email"`
	JTI          string    `json:"jti"`
	IssuedAt     time.Time `json:"issued_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SessionStore manages session:{user_id}:{jti} and revoked:{user_id}:{jti}
// keys.
type SessionStore struct {
	rdb *redis.Client
}

// NewSessionStore creates a session store.
func NewSessionStore(rdb *redis.Client) *SessionStore {
	return &SessionStore{rdb: rdb}
}

func sessionKey(userID, jti string) string { return fmt.Sprintf("session:%s:%s", userID, jti) }
func revokedKey(userID, jti string) string { return fmt.Sprintf("revoked:%s:%s", userID, jti) }

// Put persists a session record with a TTL matching the token lifetime.
func (s *SessionStore) Put(ctx context.Context, rec SessionRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(rec.UserID, rec.JTI), raw, ttl).Err(); err != nil {
		return fmt.Errorf("storing session record: %w", err)
	}
	return nil
}

// TouchActivity updates last_activity on a session record, preserving its
// remaining TTL. Called as a best-effort, non-blocking step from the auth
// middleware — callers should not fail the request if this
// returns an error.
func (s *SessionStore) TouchActivity(ctx context.Context, userID, jti string) error {
	key := sessionKey(userID, jti)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading session record: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decoding session record: %w", err)
	}
	rec.LastActivity = time.Now()
	ttl, err := s.rdb.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = 0
	}
	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}
	if err := s.rdb.Set(ctx, key, updated, ttl).Err(); err != nil {
		return fmt.Errorf("touching session record: %w", err)
	}
	return nil
}

// IsRevoked reports whether a jti has an associated revocation marker.
func (s *SessionStore) IsRevoked(ctx context.Context, userID, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, revokedKey(userID, jti)).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return n > 0, nil
}

// Revoke writes a revocation marker for a single session, with a TTL long
// enough to outlive any token minted against the same secret.
func (s *SessionStore) Revoke(ctx context.Context, userID, jti string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, revokedKey(userID, jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("writing revocation marker: %w", err)
	}
	return nil
}

// RevokeDeviceSessions enumerates every session:{user_id}:* record,
// writes a revoked:{user_id}:{jti} marker for every session whose
// device_id matches, and deletes those session records.
func (s *SessionStore) RevokeDeviceSessions(ctx context.Context, userID, deviceID string, ttl time.Duration) (int, error) {
	pattern := fmt.Sprintf("session:%s:*", userID)
	var revoked int

	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return revoked, fmt.Errorf("reading session record %s: %w", key, err)
		}
		var rec SessionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return revoked, fmt.Errorf("decoding session record %s: %w", key, err)
		}
		if rec.DeviceID != deviceID {
			continue
		}
		if err := s.Revoke(ctx, userID, rec.JTI, ttl); err != nil {
			return revoked, err
		}
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return revoked, fmt.Errorf("deleting session record %s: %w", key, err)
		}
		revoked++
	}
	if err := iter.Err(); err != nil {
		return revoked, fmt.Errorf("scanning sessions for user %s: %w", userID, err)
	}
	return revoked, nil
}
