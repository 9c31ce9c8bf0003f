package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/craftstock-backend/internal/app"
	"github.com/angelmondragon/craftstock-backend/internal/cron"
	"github.com/angelmondragon/craftstock-backend/internal/skus"
	"github.com/angelmondragon/craftstock-backend/pkg/config"
	"github.com/angelmondragon/craftstock-backend/pkg/db"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/metrics"
	"github.com/angelmondragon/craftstock-backend/pkg/migrate"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox"
	"github.com/angelmondragon/craftstock-backend/pkg/redis"
)

const (
	serviceName   = "cron-worker"
	lockKeyFormat = "craftstock:cron-worker:lock:%s"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		boot.Warn(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		boot.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	jobMetrics := metrics.NewJobMetrics(registry)
	if addr := cfg.Maintenance.MetricsAddr; addr != "" {
		stopMetrics := serveMetrics(ctx, logg, addr, registry)
		defer stopMetrics()
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	var lock cron.Lock = &cron.LocalLock{}
	if cfg.Redis.Enabled() {
		var redisClient *redis.Client
		if redisClient, err = redis.New(ctx, cfg.Redis, logg); err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		defer func() { err = multierr.Append(err, redisClient.Close()) }()
		if lock, err = cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0); err != nil {
			return fmt.Errorf("cron lock: %w", err)
		}
	}

	jobs, err := buildJobs(cfg, logg, dbClient, jobMetrics)
	if err != nil {
		return err
	}
	worker, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Jobs:     jobs,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Maintenance.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logg.Info(ctx, "starting cron worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildJobs registers the maintenance jobs in the order they run each cycle.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, jobMetrics *metrics.JobMetrics) ([]cron.Job, error) {
	services, err := app.NewServices(app.Options{
		DB:        dbClient,
		Inventory: cfg.Inventory,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("wire services: %w", err)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Maintenance.OutboxRetentionDays,
		Findings:   jobMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	audit, err := cron.NewLedgerAuditJob(cron.LedgerAuditJobParams{
		Logger:    logg,
		Skus:      skus.NewRepository(dbClient.DB()),
		Inventory: services.Inventory,
		PageSize:  cfg.Maintenance.AuditPageSize,
		Findings:  jobMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger audit job: %w", err)
	}
	return []cron.Job{retention, audit}, nil
}

// serveMetrics exposes the job registry until the returned func is called.
func serveMetrics(ctx context.Context, logg *logger.Logger, addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
