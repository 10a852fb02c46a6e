package auth

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/cipherloop/tasksync/internal/cryptoutil"
)

const issuer = "tasksync"

// SessionClaims are the custom claims carried by a self-issued session
// token: subject, device, email, and a jti used for revocation.
type SessionClaims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	DeviceID string `json:"deviceId"`
	JTI      string `json:"jti"`
}

// SessionManager issues and validates HS256 session JWTs.
type SessionManager struct {
	signingKey []byte
	maxAge     time.Duration
}

// NewSessionManager creates a session manager. The secret must be at
// least 32 bytes, matching HS256's minimum recommended key size.
func NewSessionManager(secret string, maxAge time.Duration) (*SessionManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
	}
	return &SessionManager{signingKey: []byte(secret), maxAge: maxAge}, nil
}

// IssuedToken is the result of minting a new session.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Issue mints a signed session token for (userID, deviceID, email),
// generating a fresh jti.
func (sm *SessionManager) Issue(userID, deviceID, email string) (*IssuedToken, error) {
	jti, err := cryptoutil.NewID()
	if err != nil {
		return nil, fmt.Errorf("generating jti: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: sm.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(sm.maxAge)
	registered := jwt.Claims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(expiresAt),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuer,
	}
	custom := SessionClaims{Subject: userID, Email: email, DeviceID: deviceID, JTI: jti}

	token, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &IssuedToken{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

// Validate verifies the JWT signature and standard claims and returns the
// custom claims.
func (sm *SessionManager) Validate(raw string) (*SessionClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom SessionClaims
	if err := tok.Claims(sm.signingKey, &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: issuer,
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	return &custom, nil
}

// MaxAge returns the configured session lifetime, used by callers that
// need to size a KV TTL to match.
func (sm *SessionManager) MaxAge() time.Duration { return sm.maxAge }
