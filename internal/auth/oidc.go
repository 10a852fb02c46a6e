package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Provider names recognized by the OIDC subsystem.
const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

const (
	googleIssuer = "https://accounts.google.com"
	appleIssuer  = "https://appleid.apple.com"
)

// IDTokenClaims are the OIDC claims the sync service relies on.
type IDTokenClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// OIDCVerifier validates a provider's id_token via its discovery document
// and JWKS.
type OIDCVerifier struct {
	Provider string
	verifier *oidc.IDTokenVerifier
}

// OIDCVerifiers holds one verifier per supported provider, built once at
// startup from each provider's discovery document.
type OIDCVerifiers struct {
	Google *OIDCVerifier
	Apple  *OIDCVerifier
}

// NewOIDCVerifiers performs OIDC discovery against Google and Apple and
// builds a verifier for each, scoped to the configured client IDs.
func NewOIDCVerifiers(ctx context.Context, googleClientID, appleClientID string) (*OIDCVerifiers, error) {
	google, err := newVerifier(ctx, ProviderGoogle, googleIssuer, googleClientID)
	if err != nil {
		return nil, err
	}
	apple, err := newVerifier(ctx, ProviderApple, appleIssuer, appleClientID)
	if err != nil {
		return nil, err
	}
	return &OIDCVerifiers{Google: google, Apple: apple}, nil
}

func newVerifier(ctx context.Context, provider, issuerURL, clientID string) (*OIDCVerifier, error) {
	p, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering %s OIDC provider: %w", provider, err)
	}
	return &OIDCVerifier{
		Provider: provider,
		verifier: p.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// For returns the verifier for the named provider, or an error if the
// provider is unrecognized.
func (v *OIDCVerifiers) For(provider string) (*OIDCVerifier, error) {
	switch provider {
	case ProviderGoogle:
		return v.Google, nil
	case ProviderApple:
		return v.Apple, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}

// Verify validates the raw id_token's signature against the provider's
// JWKS, asserting iss and aud, and returns its claims. Callers must
// additionally reject claims with EmailVerified=false.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*IDTokenClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying %s id_token: %w", v.Provider, err)
	}

	var claims IDTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting %s claims: %w", v.Provider, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s id_token missing sub claim", v.Provider)
	}
	return &claims, nil
}
