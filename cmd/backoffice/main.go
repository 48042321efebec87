package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crestline/backoffice/pkg/analytics"
	"github.com/crestline/backoffice/pkg/api"
	"github.com/crestline/backoffice/pkg/async"
	"github.com/crestline/backoffice/pkg/audit"
	"github.com/crestline/backoffice/pkg/config"
	"github.com/crestline/backoffice/pkg/guard"
	"github.com/crestline/backoffice/pkg/middleware"
	"github.com/crestline/backoffice/pkg/observability"
	"github.com/crestline/backoffice/pkg/orgs"
	"github.com/crestline/backoffice/pkg/plans"
	"github.com/crestline/backoffice/pkg/rbac"
	"github.com/crestline/backoffice/pkg/records"
	"github.com/crestline/backoffice/pkg/retention"
	"github.com/crestline/backoffice/pkg/usage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				metrics.SetDBStats(db.Stats())
			}
		}()
	}

	// Stores.
	orgStore := orgs.NewPostgresStore(db)
	recordStore := records.NewPostgresStore(db)
	auditStore := audit.NewPostgresStore(db)
	usageStore := usage.NewPostgresStore(db)

	catalog, err := plans.NewPostgresCatalog(db)
	if err != nil {
		logger.WithError(err).Error("failed to create plan catalog")
		os.Exit(1)
	}

	// Pipeline components.
	resolver := rbac.NewResolver(orgStore, logger, rbac.WithCache(8192, 30*time.Second))
	accessGuard := guard.New(resolver, metrics)
	auditLog := audit.NewLogger(auditStore, logger, metrics)
	tracker := usage.NewTracker(usageStore, catalog, logger, metrics)

	// Background retention jobs.
	scheduler := retention.NewScheduler(auditStore, orgStore, cfg.Retention.AuditRetention, logger)
	if err := scheduler.Register(cfg.Retention.PurgeSchedule, cfg.Retention.CleanupSchedule); err != nil {
		logger.WithError(err).Error("failed to register retention jobs")
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Routing.
	router := mux.NewRouter()
	router.Use(middleware.RequestContext(logger))
	router.Use(middleware.RequestLogging(metrics))
	router.Use(middleware.OrgRateLimit(
		middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.WindowDuration,
		}, "ratelimit:org"), logger))
	usagePool := async.NewWorkerPool(context.Background(), 4, "usage track", 5*time.Second, logger)
	defer usagePool.Shutdown(cfg.Server.ShutdownTimeout)
	router.Use(middleware.UsageTracking(tracker, usagePool))
	if cfg.Observability.AnalyticsEnabled {
		router.Use(middleware.AnalyticsCapture(analytics.NewDBCapturer(db, logger)))
	}

	server := api.NewServer(orgStore, recordStore, auditStore, auditLog, accessGuard, resolver, tracker, catalog, logger)
	server.RegisterRoutes(router)

	// Health and metrics on a separate port for probes.
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown incomplete")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown incomplete")
	}

	// Let in-flight audit writes land before the process exits.
	if !auditLog.Flush(cfg.Server.ShutdownTimeout) {
		logger.Warn("audit writes still pending at shutdown")
	}
	logger.Info("shutdown complete")
}
