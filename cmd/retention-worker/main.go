package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/petstore-backend/api/controllers"
	"github.com/angelmondragon/petstore-backend/api/routes"
	"github.com/angelmondragon/petstore-backend/internal/commands/worker"
	"github.com/angelmondragon/petstore-backend/internal/retention"
	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/metrics"
	"github.com/angelmondragon/petstore-backend/pkg/migrate"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
	"github.com/angelmondragon/petstore-backend/pkg/redis"
)

const serviceName = "retention-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var lock retention.Lock = retention.LocalLock{}
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisLock, err := retention.NewRedisLock(redisClient, redisClient.LockKey(serviceName, lockEnv(cfg.App.Env)), cfg.Retention.Interval)
		if err != nil {
			logg.Error(context.Background(), "failed to create retention lock", err)
			os.Exit(1)
		}
		lock = redisLock
	}

	registry := retention.NewRegistry()
	jobs := []retention.PurgeJobParams{
		{
			Name:   "outbox-retention",
			Purge:  outbox.NewRepository(dbClient.DB()).DeletePublishedBefore,
			MaxAge: retention.Days(cfg.Retention.OutboxDays),
		},
		{
			Name:   "outbox-dlq-retention",
			Purge:  outbox.NewDLQRepository(dbClient.DB()).DeleteBefore,
			MaxAge: retention.Days(cfg.Retention.DLQDays),
		},
		{
			Name:   "command-dlq-retention",
			Purge:  worker.NewDLQRepository(dbClient.DB()).DeleteBefore,
			MaxAge: retention.Days(cfg.Retention.DLQDays),
		},
	}
	for _, params := range jobs {
		params.Logger = logg
		params.DB = dbClient
		job, err := retention.NewPurgeJob(params)
		if err != nil {
			logg.Error(context.Background(), "failed to build retention job", err)
			os.Exit(1)
		}
		if err := registry.Register(job); err != nil {
			logg.Error(context.Background(), "failed to register retention job", err)
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	service, err := retention.NewService(retention.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewRetentionMetrics(reg),
		Interval: cfg.Retention.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retention service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	ops := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Stream.MetricsPort),
		Handler:           routes.NewOpsRouter(cfg, logg, map[string]controllers.Pinger{"postgres": dbClient}, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "ops server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting retention worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "retention worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "retention worker shutting down gracefully")
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
