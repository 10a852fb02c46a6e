package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cipherloop/tasksync/internal/config"
)

// Server holds the HTTP server dependencies and the root router. Domain
// packages (auth, sync) mount their routes onto AuthRouter and APIRouter
// after NewServer returns, avoiding an import cycle back into httpserver.
type Server struct {
	Router     *chi.Mux
	AuthRouter chi.Router // unauthenticated /api/auth/* routes
	APIRouter  chi.Router // authenticated /api/* routes (Bearer required)
	Logger     *slog.Logger
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Metrics    *prometheus.Registry
	startedAt  time.Time
}

// NewServer wires the global middleware stack, CORS policy, and health
// endpoints, and carves out the two route groups domain packages
// mount onto: AuthRouter (no auth middleware — OAuth start/callback/result
// must be reachable before a session exists) and APIRouter.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, authMiddleware func(http.Handler) http.Handler) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(SecurityHeaders)
	s.Router.Use(corsMiddleware(cfg))

	// Health endpoints (unauthenticated). /health matches the fixed wire
	// contract; /healthz and /readyz are additive operational probes.
	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)

	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/api/auth", func(r chi.Router) {
		s.AuthRouter = r
	})

	s.Router.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware)
		s.APIRouter = r
	})

	return s
}

// corsMiddleware builds the CORS handler: the fixed production
// allow-list plus, in development only, the localhost dev ports used by
// the SPA's dev server.
func corsMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	origins := append([]string{}, cfg.CORSAllowedOrigins...)
	if !cfg.IsDevelopment() {
		return cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		})
	}

	for _, port := range cfg.CORSDevPorts {
		p := strconv.Itoa(port)
		origins = append(origins, "http://localhost:"+p, "http://127.0.0.1:"+p)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// health is the wire shape of GET /health.
type health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, health{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
