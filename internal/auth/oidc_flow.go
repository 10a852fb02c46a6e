package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/cipherloop/tasksync/internal/cryptoutil"
	"github.com/cipherloop/tasksync/internal/kv"
	"github.com/cipherloop/tasksync/internal/store"
)

// Flow implements the full OAuth2/OIDC Authorization-Code-with-PKCE
// handshake: initiate, callback, and mailbox retrieval.
type Flow struct {
	oauthConfigs     map[string]*oauth2.Config
	appleSigning     AppleSigningParams
	verifiers        *OIDCVerifiers
	sessionMgr       *SessionManager
	states           *kv.OAuthStateStore
	results          *kv.OAuthResultStore
	sessions         *kv.SessionStore
	store            *store.Store
	logger           *slog.Logger
	defaultAppOrigin string
	workerCallback   string
}

// NewFlow wires an OAuth flow handler.
func NewFlow(
	oauthConfigs map[string]*oauth2.Config,
	appleSigning AppleSigningParams,
	verifiers *OIDCVerifiers,
	sessionMgr *SessionManager,
	states *kv.OAuthStateStore,
	results *kv.OAuthResultStore,
	sessions *kv.SessionStore,
	st *store.Store,
	logger *slog.Logger,
	defaultAppOrigin, workerCallback string,
) *Flow {
	return &Flow{
		oauthConfigs:     oauthConfigs,
		appleSigning:     appleSigning,
		verifiers:        verifiers,
		sessionMgr:       sessionMgr,
		states:           states,
		results:          results,
		sessions:         sessions,
		store:            st,
		logger:           logger,
		defaultAppOrigin: defaultAppOrigin,
		workerCallback:   workerCallback,
	}
}

// HandleStart issues a fresh state + PKCE verifier and returns the
// provider's authorization URL.
func (f *Flow) HandleStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	cfg, ok := f.oauthConfigs[provider]
	if !ok {
		respondErr(w, http.StatusBadRequest, "unsupported provider")
		return
	}

	appOrigin := r.Header.Get("Origin")
	if appOrigin == "" {
		appOrigin = f.defaultAppOrigin
	}

	verifier, err := cryptoutil.NewPKCEVerifier()
	if err != nil {
		f.logger.Error("generating pkce verifier", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	state, err := cryptoutil.NewState()
	if err != nil {
		f.logger.Error("generating oauth state", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := f.states.Put(r.Context(), state, kv.OAuthState{
		Verifier:          verifier,
		Provider:          provider,
		WorkerCallbackURI: f.workerCallback,
		AppOrigin:         appOrigin,
		CreatedAt:         time.Now(),
	}); err != nil {
		f.logger.Error("storing oauth state", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	challenge := cryptoutil.PKCEChallenge(verifier)
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if provider == ProviderApple {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", "form_post"))
	}
	authURL := cfg.AuthCodeURL(state, opts...)

	writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL, "state": state})
}

// callbackParams is the tagged (code, state) pair extracted from any of
// the three encodings a provider may use to invoke the callback.
type callbackParams struct {
	code  string
	state string
}

func parseCallback(r *http.Request) (callbackParams, error) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		var body struct {
			Code  string `json:"code"`
			State string `json:"state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return callbackParams{}, fmt.Errorf("decoding json callback body: %w", err)
		}
		return callbackParams{code: body.Code, state: body.State}, nil
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			return callbackParams{}, fmt.Errorf("parsing form callback body: %w", err)
		}
		return callbackParams{code: r.PostForm.Get("code"), state: r.PostForm.Get("state")}, nil
	default:
		q := r.URL.Query()
		return callbackParams{code: q.Get("code"), state: q.Get("state")}, nil
	}
}

// HandleCallback processes the provider redirect/postback and always
// resolves to a browser redirect, never a bare JSON error.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := parseCallback(r)
	if err != nil {
		f.logger.Warn("parsing oauth callback", "error", err)
		f.redirectExpired(w, r, f.defaultAppOrigin, "")
		return
	}

	if idpErr := r.URL.Query().Get("error"); idpErr != "" || params.state == "" {
		f.redirectExpired(w, r, f.defaultAppOrigin, "")
		return
	}

	st, err := f.states.TakeOnce(ctx, params.state)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			f.redirectExpired(w, r, f.defaultAppOrigin, params.state)
			return
		}
		f.logger.Error("loading oauth state", "error", err)
		f.redirectExpired(w, r, f.defaultAppOrigin, params.state)
		return
	}

	if params.code == "" {
		f.finishWithError(w, r, st.AppOrigin, params.state, "missing authorization code")
		return
	}

	cfg, ok := f.oauthConfigs[st.Provider]
	if !ok {
		f.finishWithError(w, r, st.AppOrigin, params.state, "unsupported provider")
		return
	}

	exchangeCfg := *cfg
	if st.Provider == ProviderApple {
		secret, err := appleClientSecret(f.appleSigning)
		if err != nil {
			f.logger.Error("signing apple client secret", "error", err)
			f.finishWithError(w, r, st.AppOrigin, params.state, "authentication failed")
			return
		}
		exchangeCfg.ClientSecret = secret
	}

	token, err := exchangeCfg.Exchange(ctx, params.code, oauth2.SetAuthURLParam("code_verifier", st.Verifier))
	if err != nil {
		f.logger.Error("oauth code exchange failed", "error", err, "provider", st.Provider)
		f.finishWithError(w, r, st.AppOrigin, params.state, "code exchange failed")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		f.finishWithError(w, r, st.AppOrigin, params.state, "provider response missing id_token")
		return
	}

	verifier, err := f.verifiers.For(st.Provider)
	if err != nil {
		f.finishWithError(w, r, st.AppOrigin, params.state, "unsupported provider")
		return
	}
	claims, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		f.logger.Error("id_token verification failed", "error", err, "provider", st.Provider)
		f.finishWithError(w, r, st.AppOrigin, params.state, "invalid identity token")
		return
	}
	if !claims.EmailVerified {
		f.finishWithError(w, r, st.AppOrigin, params.state, "email address is not verified")
		return
	}

	user, _, err := ReconcileIdentity(ctx, f.store, store.AuthProvider(st.Provider), claims.Subject, claims.Email)
	if err != nil {
		var conflict *ErrEmailTakenByOtherProvider
		if errors.As(err, &conflict) {
			f.finishWithError(w, r, st.AppOrigin, params.state, conflict.Error())
			return
		}
		if errors.Is(err, ErrAccountInactive) {
			f.finishWithError(w, r, st.AppOrigin, params.state, "this account is no longer active")
			return
		}
		f.logger.Error("identity reconciliation failed", "error", err, "provider", st.Provider)
		f.finishWithError(w, r, st.AppOrigin, params.state, "failed to resolve account")
		return
	}

	deviceID, err := cryptoutil.NewID()
	if err != nil {
		f.logger.Error("generating device id", "error", err)
		f.finishWithError(w, r, st.AppOrigin, params.state, "internal error")
		return
	}
	deviceName := fmt.Sprintf("%s Device", strings.Title(st.Provider))
	if _, err := f.store.CreateDevice(ctx, deviceID, user.ID, deviceName); err != nil {
		f.logger.Error("creating device", "error", err)
		f.finishWithError(w, r, st.AppOrigin, params.state, "failed to register device")
		return
	}

	issued, err := f.sessionMgr.Issue(user.ID, deviceID, user.Email)
	if err != nil {
		f.logger.Error("issuing session token", "error", err)
		f.finishWithError(w, r, st.AppOrigin, params.state, "failed to issue session")
		return
	}
	if err := f.sessions.Put(ctx, kv.SessionRecord{
		UserID:       user.ID,
		DeviceID:     deviceID,
		Email:        user.Email,
		JTI:          issued.JTI,
		IssuedAt:     time.Now(),
		LastActivity: time.Now(),
	}, f.sessionMgr.MaxAge()); err != nil {
		f.logger.Error("persisting session record", "error", err)
		f.finishWithError(w, r, st.AppOrigin, params.state, "failed to persist session")
		return
	}

	authData := &kv.AuthData{
		UserID:                  user.ID,
		DeviceID:                deviceID,
		Email:                   user.Email,
		Token:                   issued.Token,
		ExpiresAt:               issued.ExpiresAt.Unix(),
		RequiresEncryptionSetup: user.EncryptionSalt == nil,
		Provider:                st.Provider,
	}
	if user.EncryptionSalt != nil {
		authData.EncryptionSalt = *user.EncryptionSalt
	}

	if err := f.results.Put(ctx, params.state, kv.OAuthResult{
		Status:    "success",
		AuthData:  authData,
		AppOrigin: st.AppOrigin,
		CreatedAt: time.Now(),
	}); err != nil {
		f.logger.Error("writing oauth result mailbox", "error", err)
		f.finishWithError(w, r, st.AppOrigin, params.state, "failed to finalize login")
		return
	}

	f.redirectTo(w, r, st.AppOrigin, params.state, true, "")
}

// finishWithError writes the error envelope to the mailbox then redirects
// with success=false, so every failure path still surfaces through the
// same retrieval channel.
func (f *Flow) finishWithError(w http.ResponseWriter, r *http.Request, appOrigin, state, message string) {
	if putErr := f.results.Put(r.Context(), state, kv.OAuthResult{
		Status:    "error",
		Error:     message,
		AppOrigin: appOrigin,
		CreatedAt: time.Now(),
	}); putErr != nil {
		f.logger.Error("writing oauth error result", "error", putErr)
	}
	f.redirectTo(w, r, appOrigin, state, false, message)
}

// redirectExpired handles an unknown or expired state: always a redirect,
// never a bare 400.
func (f *Flow) redirectExpired(w http.ResponseWriter, r *http.Request, appOrigin, state string) {
	f.redirectTo(w, r, appOrigin, state, false, "your sign-in session has expired, please try again")
}

func (f *Flow) redirectTo(w http.ResponseWriter, r *http.Request, appOrigin, state string, success bool, message string) {
	if appOrigin == "" {
		appOrigin = f.defaultAppOrigin
	}
	q := url.Values{}
	q.Set("success", fmt.Sprintf("%t", success))
	if state != "" {
		q.Set("state", state)
	}
	if message != "" {
		q.Set("error", message)
	}
	http.Redirect(w, r, strings.TrimRight(appOrigin, "/")+"/oauth-callback.html?"+q.Encode(), http.StatusFound)
}

// HandleResult implements the single-use mailbox retrieval.
func (f *Flow) HandleResult(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		respondErr(w, http.StatusBadRequest, "missing state parameter")
		return
	}

	result, err := f.results.TakeOnce(r.Context(), state)
	if errors.Is(err, kv.ErrNotFound) {
		writeJSON(w, http.StatusGone, map[string]string{"status": "expired"})
		return
	}
	if err != nil {
		f.logger.Error("reading oauth result", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	if result.Status == "success" {
		writeJSON(w, http.StatusOK, map[string]any{"status": result.Status, "authData": result.AuthData})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": result.Status, "error": result.Error})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
