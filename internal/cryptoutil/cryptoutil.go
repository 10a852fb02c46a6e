// Package cryptoutil holds the small set of cryptographic primitives the
// sync service needs beyond session-token signing: CSPRNG-backed ID/state/
// verifier generation, the PKCE challenge derivation, and the Apple
// client-secret JWT.
package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// NewID returns a 16-random-byte opaque identifier, base64url-encoded
// without padding.
func NewID() (string, error) {
	b, err := RandomBytes(16)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewState returns a 32-hex-character OAuth state token.
func NewState() (string, error) {
	b, err := RandomBytes(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewDevSecret returns a 64-hex-character random secret, used to mint a
// session-signing key when JWT_SECRET is left unset outside production.
func NewDevSecret() (string, error) {
	b, err := RandomBytes(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewPKCEVerifier returns a 64-hex-character PKCE code verifier.
func NewPKCEVerifier() (string, error) {
	b, err := RandomBytes(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// PKCEChallenge derives the S256 PKCE code challenge for a verifier:
// base64url(sha256(verifier)), no padding.
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// HashSHA256Hex returns the lowercase hex SHA-256 digest of data, used for
// logging identifiers (e.g. hashed client IPs) without exposing raw values.
func HashSHA256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ParseECPrivateKeyPEM parses a PEM-encoded PKCS#8 (or SEC1 "EC PRIVATE
// KEY") private key, as supplied by APPLE_PRIVATE_KEY.
func ParseECPrivateKeyPEM(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 private key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an EC key")
	}
	return ecKey, nil
}

// AppleClientSecretParams holds the inputs to AppleClientSecret.
type AppleClientSecretParams struct {
	TeamID     string
	ClientID   string
	KeyID      string
	PrivateKey *ecdsa.PrivateKey
	Now        time.Time
}

// AppleClientSecret mints the ES256-signed JWT Apple requires as the OAuth
// "client_secret" for its token endpoint: header {alg:ES256, kid}, payload
// {iss:team_id, iat, exp=iat+3600, aud:https://appleid.apple.com, sub:client_id}.
func AppleClientSecret(p AppleClientSecretParams) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: p.PrivateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", p.KeyID),
	)
	if err != nil {
		return "", fmt.Errorf("creating ES256 signer: %w", err)
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	claims := jwt.Claims{
		Issuer:    p.TeamID,
		Subject:   p.ClientID,
		Audience:  jwt.Audience{"https://appleid.apple.com"},
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(time.Hour)),
		NotBefore: jwt.NewNumericDate(now),
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing apple client secret: %w", err)
	}
	return token, nil
}
