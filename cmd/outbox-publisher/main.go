package main

import (
	"context"
	"errors"
	"fmt"
	"io"
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
	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/kafka"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/metrics"
	"github.com/angelmondragon/petstore-backend/pkg/migrate"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
	"github.com/angelmondragon/petstore-backend/pkg/outbox/registry"
	"github.com/angelmondragon/petstore-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

type closableTransport interface {
	transport
	io.Closer
}

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

	driver := cfg.FeatureFlags.Driver()
	confirmations, topic, err := dialTransport(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap confirmation transport", err)
		os.Exit(1)
	}
	defer func() {
		if err := confirmations.Close(); err != nil {
			logg.Error(context.Background(), "error closing confirmation transport", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(topic)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Transport:     confirmations,
		TransportName: driver,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(reg),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"driver":      driver,
		"topic":       topic,
	})

	ops := &http.Server{
		Addr: net.JoinHostPort("", cfg.Stream.MetricsPort),
		Handler: routes.NewOpsRouter(cfg, logg, map[string]controllers.Pinger{
			"postgres": dbClient,
			driver:     confirmations,
		}, reg),
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

	logg.Info(logg.WithField(ctx, "topics", eventRegistry.Topics()), "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

// dialTransport connects the confirmation transport selected by the
// confirmation driver flag and returns it with its destination topic.
func dialTransport(ctx context.Context, cfg *config.Config, logg *logger.Logger) (closableTransport, string, error) {
	switch cfg.FeatureFlags.Driver() {
	case config.ConfirmationDriverKafka:
		settings, err := kafka.LoadSettings(cfg.Kafka)
		if err != nil {
			return nil, "", err
		}
		producer, err := kafka.DialProducer(settings)
		if err != nil {
			return nil, "", err
		}
		return producer, settings.ConfirmationTopic, nil
	case config.ConfirmationDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, "", err
		}
		return client, client.ConfirmationTopic(), nil
	default:
		return nil, "", fmt.Errorf("unsupported confirmation driver %q", cfg.FeatureFlags.ConfirmationDriver)
	}
}
