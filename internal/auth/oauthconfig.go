package auth

import (
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/cipherloop/tasksync/internal/cryptoutil"
)

var appleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://appleid.apple.com/auth/authorize",
	TokenURL: "https://appleid.apple.com/auth/token",
}

// AppleSigningParams are the inputs needed to mint a fresh ES256 client
// secret on every token exchange.
type AppleSigningParams struct {
	TeamID     string
	ClientID   string
	KeyID      string
	PrivateKey []byte // PEM-encoded PKCS#8 EC private key
}

// NewOAuthConfigs builds the per-provider oauth2.Config used for the
// authorization URL and code exchange. Apple's ClientSecret is left
// blank here; Flow signs a fresh one per exchange.
func NewOAuthConfigs(callbackBase, googleClientID, googleClientSecret, appleClientID string) map[string]*oauth2.Config {
	redirectURI := callbackBase + "/api/auth/oauth/callback"
	return map[string]*oauth2.Config{
		ProviderGoogle: {
			ClientID:     googleClientID,
			ClientSecret: googleClientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		ProviderApple: {
			ClientID:    appleClientID,
			RedirectURL: redirectURI,
			Scopes:      []string{"openid", "email", "profile", "name"},
			Endpoint:    appleEndpoint,
		},
	}
}

// appleClientSecret mints a fresh ES256 JWT client secret for the current
// moment, valid for one hour.
func appleClientSecret(p AppleSigningParams) (string, error) {
	key, err := cryptoutil.ParseECPrivateKeyPEM(p.PrivateKey)
	if err != nil {
		return "", err
	}
	return cryptoutil.AppleClientSecret(cryptoutil.AppleClientSecretParams{
		TeamID:     p.TeamID,
		ClientID:   p.ClientID,
		KeyID:      p.KeyID,
		PrivateKey: key,
		Now:        time.Now(),
	})
}
