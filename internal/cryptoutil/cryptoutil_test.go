package cryptoutil

import (
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"crypto/ecdsa"
)

func TestNewIDUnique(t *testing.T) {
	a, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("NewID produced duplicate values: %s", a)
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("NewID %q is not base64url without padding", a)
	}
}

func TestNewStateLength(t *testing.T) {
	s, err := NewState()
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 32 {
		t.Fatalf("NewState length = %d, want 32", len(s))
	}
}

func TestNewPKCEVerifierLength(t *testing.T) {
	v, err := NewPKCEVerifier()
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 64 {
		t.Fatalf("NewPKCEVerifier length = %d, want 64", len(v))
	}
}

func TestPKCEChallengeDeterministic(t *testing.T) {
	v := "abc123"
	c1 := PKCEChallenge(v)
	c2 := PKCEChallenge(v)
	if c1 != c2 {
		t.Fatalf("PKCEChallenge not deterministic: %s vs %s", c1, c2)
	}
	if strings.ContainsAny(c1, "+/=") {
		t.Fatalf("PKCEChallenge %q is not base64url without padding", c1)
	}
}

func TestAppleClientSecretRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParseECPrivateKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("ParseECPrivateKeyPEM: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := AppleClientSecret(AppleClientSecretParams{
		TeamID:     "TEAM123",
		ClientID:   "com.example.app",
		KeyID:      "KEY123",
		PrivateKey: parsed,
		Now:        now,
	})
	if err != nil {
		t.Fatalf("AppleClientSecret: %v", err)
	}

	claims := jwt.Claims{}
	parsedToken, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		t.Fatalf("parsing signed token: %v", err)
	}
	if err := parsedToken.Claims(&parsed.PublicKey, &claims); err != nil {
		t.Fatalf("verifying claims: %v", err)
	}
	if claims.Issuer != "TEAM123" {
		t.Fatalf("Issuer = %q, want TEAM123", claims.Issuer)
	}
	if claims.Subject != "com.example.app" {
		t.Fatalf("Subject = %q, want com.example.app", claims.Subject)
	}
	wantExpiry := now.Add(time.Hour)
	if claims.Expiry.Time().Sub(wantExpiry).Abs() > time.Second {
		t.Fatalf("Expiry = %v, want ~%v", claims.Expiry.Time(), wantExpiry)
	}
}

func TestHashSHA256HexDeterministicAndShortenable(t *testing.T) {
	h1 := HashSHA256Hex("1.2.3.4")
	h2 := HashSHA256Hex("1.2.3.4")
	if h1 != h2 {
		t.Fatalf("HashSHA256Hex not deterministic")
	}
	if len(h1) != 64 {
		t.Fatalf("HashSHA256Hex length = %d, want 64", len(h1))
	}
	if h1[:8] == HashSHA256Hex("5.6.7.8")[:8] {
		t.Fatalf("hash prefixes collided unexpectedly")
	}
}
