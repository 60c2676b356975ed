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
	"github.com/angelmondragon/petstore-backend/internal/commands/dispatch"
	"github.com/angelmondragon/petstore-backend/internal/commands/worker"
	"github.com/angelmondragon/petstore-backend/internal/pets"
	"github.com/angelmondragon/petstore-backend/pkg/command"
	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/kafka"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/metrics"
	"github.com/angelmondragon/petstore-backend/pkg/migrate"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
	"github.com/angelmondragon/petstore-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/petstore-backend/pkg/redis"
)

const serviceName = "pet-stream"

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

	checks := map[string]controllers.Pinger{"postgres": dbClient}
	serviceParams := ServiceParams{Config: cfg, Logger: logg, DB: dbClient}
	workerParams := worker.ServiceParams{
		DeadLetterEnabled: cfg.Stream.DeadLetterEnabled,
		Logger:            logg,
	}

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

		manager, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to build idempotency manager", err)
			os.Exit(1)
		}
		workerParams.Idempotency = manager
		serviceParams.Redis = redisClient
		checks["redis"] = redisClient
	} else {
		logg.Warn(context.Background(), "redis not configured, relying on postgres for duplicate detection")
	}

	processor, err := pets.NewProcessor(pets.ProcessorParams{
		DB:     dbClient,
		Repo:   pets.NewRepository(dbClient.DB()),
		Outbox: outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build pet processor", err)
		os.Exit(1)
	}

	router, err := dispatch.NewRouter(map[string]dispatch.Handler{
		pets.CommandCreate: processor,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build command router", err)
		os.Exit(1)
	}

	settings, err := kafka.LoadSettings(cfg.Kafka)
	if err != nil {
		logg.Error(context.Background(), "failed to load kafka settings", err)
		os.Exit(1)
	}
	source, err := kafka.DialSource(settings, logg, cfg.Stream.RetryBackoffBase, cfg.Stream.RetryBackoffMax)
	if err != nil {
		logg.Error(context.Background(), "failed to dial kafka consumer group", err)
		os.Exit(1)
	}
	defer func() {
		if err := source.Close(); err != nil {
			logg.Error(context.Background(), "error closing kafka consumer group", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	workerParams.Source = source
	workerParams.Decoder = command.NewDecoder(command.WithKnownCommands(router.Names()...))
	workerParams.Handler = router
	workerParams.DeadLetters = worker.NewDLQRepository(dbClient.DB())
	workerParams.Metrics = metrics.NewPipelineMetrics(reg)

	pipeline, err := worker.NewService(workerParams)
	if err != nil {
		logg.Error(context.Background(), "failed to build command pipeline", err)
		os.Exit(1)
	}

	serviceParams.Pipeline = pipeline
	serviceParams.OpsHTTP = &http.Server{
		Addr:              net.JoinHostPort("", cfg.Stream.MetricsPort),
		Handler:           routes.NewOpsRouter(cfg, logg, checks, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	service, err := NewService(serviceParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create pet stream service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"topic":       settings.CommandsTopic,
		"group":       settings.ConsumerGroup,
	})
	logg.Info(ctx, "starting pet stream")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "pet stream stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "pet stream shutting down gracefully")
}
