package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/AGoodId/guardian/pkg/audit"
	"github.com/AGoodId/guardian/pkg/catalog"
	"github.com/AGoodId/guardian/pkg/config"
	"github.com/AGoodId/guardian/pkg/grants"
	"github.com/AGoodId/guardian/pkg/httputil"
	"github.com/AGoodId/guardian/pkg/observability"
	"github.com/AGoodId/guardian/pkg/storage"
)

const maxRequestBody = 1 << 20

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	registry, err := buildCatalog(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to build permission catalog")
		os.Exit(1)
	}
	logger.WithField("types", registry.Types()).Info("Permission catalog registered")

	db, err := storage.OpenPostgres(storage.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to postgres")
		os.Exit(1)
	}

	if err := grants.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}

	auditLogger := audit.NewDBLogger(db)
	if err := auditLogger.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Error("Failed to create audit schema")
		os.Exit(1)
	}

	store := grants.NewSQLStore(db)

	var redisClient *redis.Client
	var grantStore grants.Store = store
	if cfg.Redis.Enabled {
		redisClient, err = storage.OpenRedis(storage.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to connect to redis")
			os.Exit(1)
		}
		grantStore = grants.NewCachedStore(store, redisClient)
		logger.Info("Grant cache enabled")
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	var otelMetrics *observability.OTelMetrics
	if cfg.Observability.OTelEnabled {
		otelMetrics, err = observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Error("Failed to create OpenTelemetry instruments")
			os.Exit(1)
		}
	}

	checker, err := grants.NewChecker(grantStore, cfg.Checker.CacheSize)
	if err != nil {
		logger.WithError(err).Error("Failed to create permission checker")
		os.Exit(1)
	}
	checker.WithMetrics(metrics, otelMetrics)

	// API server
	router := mux.NewRouter()
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	grantHandlers := grants.NewHandlers(registry, store, grantStore, checker, auditLogger).
		WithMetrics(metrics, otelMetrics)
	if cfg.Authz.EnforceObjectPermissions {
		grantHandlers.WithGate(grants.NewObjectPermissionMiddleware(checker, auditLogger))
		logger.Info("Object permission enforcement enabled")
	}
	grantHandlers.RegisterRoutes(apiRouter)
	audit.NewHandlers(auditLogger).RegisterRoutes(apiRouter)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware,
		observability.HTTPMetricsMiddleware(metrics),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBody),
	)

	var handler http.Handler = chain(router)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "guardian.api")
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(opsMux, promRegistry)
	}
	opsServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: opsMux,
	}

	scheduler := cron.New()
	if schedule := cfg.Maintenance.OrphanCleanupSchedule; schedule != "" {
		_, err := scheduler.AddFunc(schedule, func() {
			defer observability.RecoverPanic(logger, "orphan grant sweep")

			sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			removed, err := store.CleanOrphanGrants(sweepCtx)
			if err != nil {
				logger.WithError(err).Error("Orphan grant sweep failed")
				return
			}
			metrics.OrphanGrantsRemoved.Add(float64(removed))
			if removed > 0 {
				logger.WithField("removed", removed).Info("Orphan grant sweep complete")
			}
		})
		if err != nil {
			logger.WithError(err).Error("Invalid orphan cleanup schedule")
			os.Exit(1)
		}
	}
	if _, err := scheduler.AddFunc("@every 30s", func() {
		metrics.UpdateDBStats(db.Stats())
	}); err != nil {
		logger.WithError(err).Error("Failed to schedule pool stats job")
		os.Exit(1)
	}
	scheduler.Start()

	var g errgroup.Group
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", opsServer.Addr).Info("Health server listening")
		if err := opsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	sm := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(opsServer.Shutdown)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("scheduled jobs did not finish before timeout")
		}
	})
	if redisClient != nil {
		sm.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	sm.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	if providers != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	go func() {
		if err := sm.WaitForShutdown(); err != nil {
			logger.WithError(err).Error("Shutdown error")
		}
	}()

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server error")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// buildCatalog registers configured object types, falling back to the default
// permission set for entries that list none.
func buildCatalog(cfg *config.Config) (*catalog.Registry, error) {
	registry := catalog.NewRegistry()

	for _, entry := range cfg.Catalog {
		perms := make([]catalog.Permission, 0, len(entry.Permissions))
		for _, p := range entry.Permissions {
			perms = append(perms, catalog.Permission{Codename: p.Codename, Name: p.Name})
		}
		if len(perms) == 0 {
			perms = catalog.DefaultPermissions(entry.Type)
		}
		if err := registry.Register(entry.Type, perms); err != nil {
			return nil, fmt.Errorf("failed to register catalog for %s: %w", entry.Type, err)
		}
	}

	return registry, nil
}
