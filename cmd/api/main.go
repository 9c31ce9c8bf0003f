package main

import (
	"context"
	"errors"
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

	"github.com/angelmondragon/craftstock-backend/api/controllers"
	"github.com/angelmondragon/craftstock-backend/api/routes"
	"github.com/angelmondragon/craftstock-backend/internal/app"
	"github.com/angelmondragon/craftstock-backend/pkg/config"
	"github.com/angelmondragon/craftstock-backend/pkg/db"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/metrics"
	"github.com/angelmondragon/craftstock-backend/pkg/migrate"
	"github.com/angelmondragon/craftstock-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	inventoryMetrics := metrics.NewInventoryMetrics(registry)

	dbClient, err := db.New(ctx, cfg.DB, logg,
		db.WithTxPolicy(db.TxPolicy{
			Timeout:    cfg.Tx.Timeout,
			MaxRetries: cfg.Tx.MaxRetries,
			RetryBase:  cfg.Tx.RetryBase,
			RetryCap:   cfg.Tx.RetryCap,
		}),
		db.WithTxObserver(inventoryMetrics),
	)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var (
		redisClient *redis.Client
		cache       redis.CacheStore
		idempotency redis.IdempotencyStore
		redisPing   controllers.Pinger
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		cache, idempotency, redisPing = redisClient, redisClient, redisClient
	} else {
		logg.Warn(ctx, "redis not configured; hierarchy cache and http idempotency disabled")
	}

	services, err := app.NewServices(app.Options{
		DB:         dbClient,
		Cache:      cache,
		Metrics:    inventoryMetrics,
		Inventory:  cfg.Inventory,
		EmitLedger: cfg.FeatureFlags.EmitLedgerFeed,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			Services:    services,
			Idempotency: idempotency,
			Readiness:   map[string]controllers.Pinger{"db": dbClient, "redis": redisPing},
			Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(serverCtx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var closeErr error
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		closeErr = multierr.Append(closeErr, err)
	}
	if redisClient != nil {
		closeErr = multierr.Append(closeErr, redisClient.Close())
	}
	closeErr = multierr.Append(closeErr, dbClient.Close())
	if closeErr != nil {
		logg.Error(serverCtx, "api shutdown incomplete", closeErr)
		os.Exit(1)
	}
	logg.Info(serverCtx, "api server stopped")
}
