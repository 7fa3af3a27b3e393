package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/chronicle/pkg/async"
	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/middleware"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

var (
	runRetentionOnce = flag.Bool("run-retention-once", false, "Run the retention job once and exit")
	seedCustomers    = flag.Int("seed", 0, "Insert N generated customers at startup")
	seedWorkers      = flag.Int("seed-workers", 4, "Concurrent sessions used for seeding")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Fatal("chronicle exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("otel", otelProviders.Shutdown)

	conns, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return conns.Close() })

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	auditMetrics := audit.NewMetrics(registry)
	httpMetrics := observability.NewMetrics(registry)
	if err := observability.RegisterDBStats(registry, "primary", conns.Primary); err != nil {
		return err
	}
	if err := observability.RegisterDBStats(registry, "audit", conns.Audit); err != nil {
		return err
	}

	store, err := audit.NewDBStore(conns.Audit, conns.Dialect,
		audit.WithStoreLogger(logger),
		audit.WithStoreMetrics(auditMetrics),
	)
	if err != nil {
		return err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	retention, err := newRetention(ctx, cfg, store, auditMetrics, logger)
	if err != nil {
		return err
	}
	if *runRetentionOnce {
		_, err := retention.Run(ctx)
		return errors.Join(err, shutdown.Shutdown(ctx))
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}

	classification, err := newRegistry(cfg, logger)
	if err != nil {
		return err
	}

	actors := audit.ActorProvider(audit.ContextActorProvider{})
	if redisClient != nil {
		actors = audit.ChainActorProvider{audit.ContextActorProvider{}, audit.NewRedisSessionActorProvider(redisClient)}
	}

	interceptor, err := audit.NewInterceptor(classification, store,
		audit.WithActorProvider(actors),
		audit.WithLogger(logger),
		audit.WithMetrics(auditMetrics),
		audit.WithAuditTimeout(cfg.Audit.Timeout),
	)
	if err != nil {
		return err
	}

	primary, err := uow.NewManager(conns.Primary, conns.Dialect,
		uow.WithLogger(logger),
		uow.WithInterceptors(interceptor),
	)
	if err != nil {
		return err
	}

	customers := NewCustomerService(primary)
	if err := customers.EnsureSchema(ctx); err != nil {
		return err
	}
	if *seedCustomers > 0 {
		if err := customers.Seed(ctx, *seedCustomers, *seedWorkers); err != nil {
			return err
		}
		logger.WithField("count", *seedCustomers).Info("seeded customers")
	}

	identity, err := newIdentity(ctx, cfg, logger)
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(observability.RecoveryMiddleware(logger)))
	router.Use(identity.Handler)
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(httpMetrics))
	}

	NewCustomerHandlers(customers).RegisterRoutes(router)

	limiter := newLimiter(redisClient, "ratelimit:audit")
	if local, ok := limiter.(*middleware.LocalLimiter); ok {
		cleanupCtx, stopCleanup := context.WithCancel(ctx)
		shutdown.RegisterShutdownFunc("rate limit cleanup", func(context.Context) error {
			stopCleanup()
			return nil
		})
		async.Every(cleanupCtx, logger, time.Minute, "rate limit cleanup", func(context.Context) error {
			local.Cleanup()
			return nil
		})
	}

	auditRoutes := router.NewRoute().Subrouter()
	auditRoutes.Use(middleware.NewRateLimit(limiter, logger).Handler)
	audit.NewHandlers(audit.NewQueryService(store,
		audit.WithQueryLogger(logger),
		audit.WithQueryMetrics(auditMetrics),
	)).RegisterRoutes(auditRoutes)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "chronicle"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown.RegisterServer(server)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, newHealthChecker(conns, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.RegisterServer(healthServer)

	scheduler := cron.New()
	if _, err := retention.Schedule(scheduler, cfg.Retention.Schedule); err != nil {
		return err
	}
	scheduler.Start()
	shutdown.RegisterShutdownFunc("cron", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	for name, srv := range map[string]*http.Server{"api server": server, "health server": healthServer} {
		logger.WithField("addr", srv.Addr).Infof("starting %s", name)
		async.Go(logger, name, func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	logger.WithFields(logrus.Fields{
		"classified_types": classification.Len(),
		"retention_days":   cfg.Retention.Days,
		"retention_cron":   cfg.Retention.Schedule,
	}).Info("chronicle started")

	return shutdown.WaitForShutdown(ctx)
}

func newRegistry(cfg *config.Config, logger logrus.FieldLogger) (*audit.Registry, error) {
	registry := audit.NewRegistry(
		audit.WithDeclarations(audit.Declare[Customer](audit.DefaultPolicy())),
		audit.WithManualEntities(cfg.Audit.ManualEntities...),
		audit.WithRegistryLogger(logger),
		audit.WithResolutionCacheSize(cfg.Audit.ResolutionCacheSize),
	)

	if cfg.Audit.PolicyFile != "" {
		policies, err := config.LoadPolicyFile(cfg.Audit.PolicyFile)
		if err != nil {
			return nil, err
		}
		policies.Apply(registry)
	}

	registry.Build()
	return registry, nil
}

func newRetention(ctx context.Context, cfg *config.Config, store *audit.DBStore, metrics *audit.Metrics, logger logrus.FieldLogger) (*audit.Retention, error) {
	opts := []audit.RetentionOption{
		audit.WithRetentionLogger(logger),
		audit.WithRetentionMetrics(metrics),
	}
	if cfg.Retention.ArchiveEnabled {
		archive, err := storage.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		opts = append(opts, audit.WithArchiver(archive))
	}
	return audit.NewRetention(store, cfg.Retention.Policy(), opts...)
}

func newIdentity(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*middleware.Identity, error) {
	opts := []middleware.IdentityOption{middleware.WithIdentityLogger(logger)}
	if cfg.Identity.OIDCIssuer != "" {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.Identity.OIDCIssuer, cfg.Identity.OIDCClientID)
		if err != nil {
			return nil, err
		}
		// X-User is only trusted when no identity provider is configured
		opts = append(opts, middleware.WithVerifier(verifier), middleware.WithTrustedUserHeader(false))
	}
	return middleware.NewIdentity(opts...), nil
}

func newLimiter(client *redis.Client, prefix string) middleware.Limiter {
	if client != nil {
		return middleware.NewRedisLimiter(client, middleware.DefaultRateLimitConfig(), prefix)
	}
	return middleware.NewLocalLimiter(middleware.DefaultRateLimitConfig())
}

func newHealthChecker(conns *storage.Connections, client *redis.Client) *observability.HealthChecker {
	checker := observability.NewHealthChecker("1.0.0").
		WithDatabase("primary", conns.Primary).
		WithDatabase("audit", conns.Audit)
	if client != nil {
		checker = checker.WithRedis(client)
	}
	return checker
}
