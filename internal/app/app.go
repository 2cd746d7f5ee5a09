// Package app wires TACOPS's components into a single running process:
// config, logger, metrics, database/Redis connections, migrations, and
// every domain package from the credential vault (C1) through the admin
// notification fan-out (C8), mounted onto one HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tacops/internal/config"
	"github.com/wisbric/tacops/internal/httpserver"
	"github.com/wisbric/tacops/internal/platform"
	"github.com/wisbric/tacops/internal/telemetry"
	"github.com/wisbric/tacops/pkg/admin"
	"github.com/wisbric/tacops/pkg/authhttp"
	"github.com/wisbric/tacops/pkg/configcache"
	"github.com/wisbric/tacops/pkg/monitorhttp"
	"github.com/wisbric/tacops/pkg/notify"
	"github.com/wisbric/tacops/pkg/realtime"
	"github.com/wisbric/tacops/pkg/store"
	"github.com/wisbric/tacops/pkg/supervisor"
	"github.com/wisbric/tacops/pkg/sync"
	"github.com/wisbric/tacops/pkg/syncapi"
	"github.com/wisbric/tacops/pkg/threatpipeline"
	"github.com/wisbric/tacops/pkg/vault"
)

const (
	loginRateLimitAttempts = 5
	loginRateLimitWindow   = 15 * time.Minute

	apiRateLimitRequests = 100
	apiRateLimitWindow   = 15 * time.Minute

	shutdownGracePeriod = 10 * time.Second
)

// Run loads infrastructure, wires every domain package, and serves HTTP
// until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry()

	st := store.New(pool)
	configCache := configcache.New(st, logger, cfg.CORSOrigin)

	jwtSecret, encryptionKey, err := resolveVaultKeys(ctx, cfg, configCache)
	if err != nil {
		return fmt.Errorf("resolving vault keys: %w", err)
	}
	v := vault.New(jwtSecret, encryptionKey)
	loginLimiter := vault.NewRateLimiter(rdb, loginRateLimitAttempts, loginRateLimitWindow)

	// sync.Core and realtime.Gateway reference each other (the gateway
	// broadcasts sync events; the sync core broadcasts through the
	// gateway), so the cycle is wired in two steps.
	syncCore := sync.New(st, nil, logger)
	gateway := realtime.NewGateway(v, syncCore, logger)
	syncCore.SetBroadcaster(gateway)

	searchClient := threatpipeline.NewClient(cfg.SearchProviderURL, cfg.SearchProviderKey, logger)
	dedup := threatpipeline.NewDeduplicator(rdb, st, searchClient, cfg.DedupModel, logger)
	notifier := notify.New(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	pipeline := threatpipeline.New(st, dedup, searchClient, gateway, notifier, cfg.SearchModel, logger)

	sup := supervisor.New(ctx, st, pipeline, logger)
	if err := sup.StartAll(ctx); err != nil {
		logger.Error("starting monitors active at boot", "error", err)
	}
	go func() {
		if err := sup.Run(); err != nil {
			logger.Error("monitor supervisor exited", "error", err)
		}
	}()

	authHandler := authhttp.NewHandler(st, configCache, v, loginLimiter, logger)
	monitorHandler := monitorhttp.NewHandler(st, sup, logger)
	adminHandler := admin.NewHandler(st, configCache, gatewayStatsAdapter{gateway}, time.Now(), logger)
	syncHandler := syncapi.NewHandler(syncCore, logger)

	adminBearerAuth := chainMiddleware(authhttp.Middleware(v, logger), authhttp.RequireAdmin)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSOrigin:     configCache.CORSOrigin,
		Setup:          configCache,
		AuthMiddleware: authhttp.Middleware(v, logger),
		MetricsAuth:    adminBearerAuth,
	}, logger, pool, rdb, metricsReg)

	srv.APIRouter.Use(httpserver.APIRateLimit(rdb, logger, apiRateLimitRequests, apiRateLimitWindow))
	srv.PublicAPIRouter.Use(httpserver.APIRateLimit(rdb, logger, apiRateLimitRequests, apiRateLimitWindow))

	srv.PublicAPIRouter.Mount("/", authHandler.Routes())
	srv.APIRouter.Mount("/", authHandler.AuthenticatedRoutes())
	srv.APIRouter.Route("/sync", func(r chi.Router) { r.Mount("/", syncHandler.Routes()) })
	srv.APIRouter.Route("/admin", func(r chi.Router) {
		r.Use(authhttp.RequireAdmin)
		r.Mount("/", adminHandler.Routes())
	})
	srv.APIRouter.Route("/social-media/monitors", func(r chi.Router) { r.Mount("/", monitorHandler.MonitorRoutes()) })
	srv.APIRouter.Route("/social-media/threats", func(r chi.Router) { r.Mount("/", monitorHandler.ThreatRoutes()) })
	srv.Router.Handle("/ws", gateway)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}
	return <-errCh
}

// resolveVaultKeys prefers explicit environment configuration, falling back
// to the config cache (which auto-generates the encryption key but never
// the JWT secret, per §4.1). A JWT secret present in the environment is
// persisted to the cache on first boot so it survives a later restart with
// the env var unset.
func resolveVaultKeys(ctx context.Context, cfg *config.Config, cache *configcache.Cache) (jwtSecret, encryptionKey []byte, err error) {
	if cfg.JWTSecret != "" {
		jwtSecret = []byte(cfg.JWTSecret)
		if err := cache.SetString(ctx, configcache.KeyJWTSecret, cfg.JWTSecret); err != nil {
			return nil, nil, fmt.Errorf("persisting jwt secret: %w", err)
		}
	} else {
		jwtSecret, err = cache.JWTSecret(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("reading jwt secret from config cache: %w", err)
		}
	}

	if cfg.EncryptionKey != "" {
		encryptionKey = []byte(cfg.EncryptionKey)
	} else {
		encryptionKey, err = cache.EncryptionKey(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("reading encryption key from config cache: %w", err)
		}
	}

	return jwtSecret, encryptionKey, nil
}

func chainMiddleware(mw ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// gatewayStatsAdapter satisfies pkg/admin.Gateway by converting
// *realtime.Gateway's Stats() return type into admin's own duplicate DTO,
// per the decoupling note on admin.Gateway.
type gatewayStatsAdapter struct {
	gw *realtime.Gateway
}

func (a gatewayStatsAdapter) Stats() admin.SocketStats {
	s := a.gw.Stats()
	rooms := make([]admin.SocketRoomStat, 0, len(s.Rooms))
	for _, r := range s.Rooms {
		rooms = append(rooms, admin.SocketRoomStat{TeamID: r.TeamID, Members: r.Members})
	}
	return admin.SocketStats{
		TotalConnections:         s.TotalConnections,
		AuthenticatedConnections: s.AuthenticatedConnections,
		Rooms:                    rooms,
	}
}
