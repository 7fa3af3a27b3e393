// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry bootstrap, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger("info", os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("customer created")
//
// FromContext adds request_id, user_id and trace ids when present.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterDBStats(registry, "audit", auditDB)
//	observability.RegisterMetricsEndpoint(mux, registry)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).
//		WithDatabase("primary", primaryDB).
//		WithDatabase("audit", auditDB).
//		WithRedis(redisClient)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
