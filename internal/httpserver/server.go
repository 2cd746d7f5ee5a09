package httpserver

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/tacops/internal/version"
)

// SetupChecker reports whether the one-shot setup flow has completed. The
// config cache (C2) is the concrete implementation.
type SetupChecker interface {
	IsSetupComplete(ctx context.Context) bool
}

// CORSOriginFunc returns the currently configured CORS origin. It is called
// per request so a change written via PUT /api/admin/config takes effect
// without a restart.
type CORSOriginFunc func() string

// ServerConfig holds the parameters NewServer needs, decoupled from the
// top-level config struct so this package stays free of an import on it.
type ServerConfig struct {
	CORSOrigin     CORSOriginFunc
	Setup          SetupChecker
	AuthMiddleware func(http.Handler) http.Handler
	// MetricsAuth gates /metrics once setup has completed, per §6.1: public
	// before setup (so an external monitor can scrape an empty instance),
	// admin-bearer-required after. Composes admin-auth middleware the same
	// way cfg.AuthMiddleware does for /api.
	MetricsAuth func(http.Handler) http.Handler
}

// Server holds the HTTP server dependencies.
type Server struct {
	Router          *chi.Mux
	APIRouter       chi.Router // authenticated /api sub-router
	PublicAPIRouter chi.Router // unauthenticated /api sub-router (setup, login)
	Logger          *slog.Logger
	DB              *pgxpool.Pool
	Redis           *redis.Client
	Metrics         *prometheus.Registry
	setup           SetupChecker
	startedAt       time.Time
}

// exemptPrefixes lists request paths reachable before setup has completed.
var exemptPrefixes = []string{"/setup", "/health", "/healthz", "/readyz", "/metrics", "/api/setup", "/api/auth"}

// NewServer creates an HTTP server with middleware and health/metrics endpoints.
// Domain handlers should be mounted on APIRouter after calling NewServer.
func NewServer(cfg ServerConfig, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		setup:     cfg.Setup,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  dynamicOriginFunc(cfg.CORSOrigin),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.Router.Use(s.requireSetupComplete)

	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", s.metricsHandler(metricsReg, cfg.MetricsAuth))

	s.Router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			s.PublicAPIRouter = r
		})
		r.Group(func(r chi.Router) {
			if cfg.AuthMiddleware != nil {
				r.Use(cfg.AuthMiddleware)
			}
			s.APIRouter = r
		})
	})

	return s
}

// dynamicOriginFunc adapts a CORSOriginFunc to cors.Options.AllowOriginFunc,
// honoring a "*" wildcard the same way a static AllowedOrigins list would.
func dynamicOriginFunc(originFn CORSOriginFunc) func(r *http.Request, origin string) bool {
	return func(_ *http.Request, origin string) bool {
		if originFn == nil {
			return true
		}
		configured := originFn()
		return configured == "*" || strings.EqualFold(configured, origin)
	}
}

// requireSetupComplete returns HTTP 428 for any request outside the exempt
// paths until the one-shot setup flow has completed.
func (s *Server) requireSetupComplete(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.setup == nil || s.setup.IsSetupComplete(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		for _, prefix := range exemptPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		Respond(w, http.StatusPreconditionRequired, map[string]string{
			"error":     "Setup required",
			"setupPath": "/setup",
		})
	})
}

// metricsHandler wraps reg's Prometheus handler with metricsAuth once setup
// has completed, and leaves it open before that (so an operator can scrape
// an empty instance without having created an admin account yet).
func (s *Server) metricsHandler(reg *prometheus.Registry, metricsAuth func(http.Handler) http.Handler) http.Handler {
	base := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	if metricsAuth == nil {
		return base
	}
	gated := metricsAuth(base)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.setup == nil || !s.setup.IsSetupComplete(r.Context()) {
			base.ServeHTTP(w, r)
			return
		}
		gated.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// healthResponse is GET /health's literal public shape: a lightweight,
// always-reachable liveness probe distinct from /readyz's dependency checks.
type healthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Version       string    `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Version:       version.Version,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the JSON shape returned by HandleStatus.
type statusResponse struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	CommitSHA       string  `json:"commit_sha"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Database        string  `json:"database"`
	DatabaseLatency float64 `json:"database_latency_ms"`
	Redis           string  `json:"redis"`
	RedisLatency    float64 `json:"redis_latency_ms"`
}

// HandleStatus returns system health information: DB/Redis connectivity,
// uptime, and build identification. NewServer does not mount it on any
// route; GET /api/admin/stats is served by pkg/admin with its own response
// shape.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := time.Since(s.startedAt)

	resp := statusResponse{
		Version:       version.Version,
		CommitSHA:     version.Commit,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
	}

	dbStart := time.Now()
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("status check: database ping failed", "error", err)
		resp.Database = "error"
	} else {
		resp.Database = "ok"
	}
	resp.DatabaseLatency = roundMillis(time.Since(dbStart))

	redisStart := time.Now()
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("status check: redis ping failed", "error", err)
		resp.Redis = "error"
	} else {
		resp.Redis = "ok"
	}
	resp.RedisLatency = roundMillis(time.Since(redisStart))

	if resp.Database == "ok" && resp.Redis == "ok" {
		resp.Status = "ok"
	} else {
		resp.Status = "degraded"
	}

	Respond(w, http.StatusOK, resp)
}

func roundMillis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
