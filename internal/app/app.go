// Package app assembles the service's infrastructure and routes, and
// dispatches into the "api" or "cleanup" runtime mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/cipherloop/tasksync/internal/audit"
	"github.com/cipherloop/tasksync/internal/auth"
	"github.com/cipherloop/tasksync/internal/cleanup"
	"github.com/cipherloop/tasksync/internal/config"
	"github.com/cipherloop/tasksync/internal/cryptoutil"
	"github.com/cipherloop/tasksync/internal/httpserver"
	"github.com/cipherloop/tasksync/internal/kv"
	"github.com/cipherloop/tasksync/internal/platform"
	"github.com/cipherloop/tasksync/internal/ratelimit"
	"github.com/cipherloop/tasksync/internal/store"
	"github.com/cipherloop/tasksync/internal/sync"
	"github.com/cipherloop/tasksync/internal/telemetry"
)

// Run is the process entry point. It wires infrastructure once and then
// dispatches to the requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting tasksync", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "tasksync", "dev")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "cleanup":
		return runCleanup(ctx, cfg, logger, db)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	s := store.New(db)

	sessionSecret := cfg.JWTSecret
	if sessionSecret == "" {
		if cfg.Environment == "production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		var err error
		sessionSecret, err = cryptoutil.NewDevSecret()
		if err != nil {
			return fmt.Errorf("generating dev session secret: %w", err)
		}
		logger.Warn("JWT_SECRET not set — using an auto-generated dev secret; do not use in production")
	}
	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("parsing session max age %q: %w", cfg.SessionMaxAge, err)
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	verifiers, err := auth.NewOIDCVerifiers(ctx, cfg.GoogleClientID, cfg.AppleClientID)
	if err != nil {
		return fmt.Errorf("initializing OIDC verifiers: %w", err)
	}

	callbackBase := cfg.OAuthCallbackBase
	if callbackBase == "" {
		callbackBase = cfg.OAuthRedirectURI
	}
	oauthConfigs := auth.NewOAuthConfigs(callbackBase, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.AppleClientID)
	appleSigning := auth.AppleSigningParams{
		TeamID:     cfg.AppleTeamID,
		ClientID:   cfg.AppleClientID,
		KeyID:      cfg.AppleKeyID,
		PrivateKey: []byte(cfg.ApplePrivateKey),
	}

	states := kv.NewOAuthStateStore(rdb, 10*time.Minute)
	results := kv.NewOAuthResultStore(rdb, 5*time.Minute)
	sessions := kv.NewSessionStore(rdb)
	rateCounters := kv.NewRateLimitCounters(rdb)

	oauthFlow := auth.NewFlow(
		oauthConfigs, appleSigning, verifiers, sessionMgr,
		states, results, sessions, s, logger,
		cfg.OAuthRedirectURI, callbackBase,
	)
	account := auth.NewAccount(sessionMgr, sessions, s)

	auditWriter := audit.NewWriter(s, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	syncHandler := sync.NewHandler(s, sessions, auditWriter, logger, cfg)

	authMiddleware := auth.Middleware(sessionMgr, sessions, s, logger)
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, authMiddleware)

	limiter := ratelimit.NewLimiter(rateCounters, policyTable(), logger)
	authedUserID := func(r *http.Request) string {
		if identity := auth.FromContext(r.Context()); identity != nil {
			return identity.UserID
		}
		return ""
	}
	srv.Router.Use(limiter.Middleware(authedUserID))

	srv.AuthRouter.Get("/oauth/{provider}/start", oauthFlow.HandleStart)
	srv.AuthRouter.Get("/oauth/callback", oauthFlow.HandleCallback)
	srv.AuthRouter.Post("/oauth/callback", oauthFlow.HandleCallback)
	srv.AuthRouter.Get("/oauth/result", oauthFlow.HandleResult)

	srv.APIRouter.Post("/auth/logout", account.HandleLogout)
	srv.APIRouter.Post("/auth/refresh", account.HandleRefresh)
	srv.APIRouter.Get("/auth/encryption-salt", account.HandleGetEncryptionSalt)
	srv.APIRouter.Post("/auth/encryption-salt", account.HandleSetEncryptionSalt)

	srv.APIRouter.Post("/sync/push", syncHandler.HandlePush)
	srv.APIRouter.Post("/sync/pull", syncHandler.HandlePull)
	srv.APIRouter.Post("/sync/resolve", syncHandler.HandleResolve)
	srv.APIRouter.Get("/sync/status", syncHandler.HandleStatus)
	srv.APIRouter.Get("/stats", syncHandler.HandleStats)
	srv.APIRouter.Get("/devices", syncHandler.HandleListDevices)
	srv.APIRouter.Delete("/devices/{id}", syncHandler.HandleRevokeDevice)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runCleanup(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	s := store.New(db)
	job := cleanup.NewJob(s, logger, cfg)
	return job.Run(ctx)
}

// policyTable is the fixed rate-limit policy for every bucketed route,
// keyed by chi route pattern.
func policyTable() map[string]ratelimit.Policy {
	return map[string]ratelimit.Policy{
		"/api/auth/oauth/{provider}/start": {MaxRequests: 20, Window: time.Minute},
		"/api/auth/oauth/callback":         {MaxRequests: 20, Window: time.Minute},
		"/api/auth/oauth/result":           {MaxRequests: 60, Window: time.Minute},
		"/api/auth/refresh":                {MaxRequests: 30, Window: time.Hour},
		"/api/sync/push":                   {MaxRequests: 120, Window: time.Minute},
		"/api/sync/pull":                   {MaxRequests: 120, Window: time.Minute},
	}
}
