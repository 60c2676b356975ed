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

	"github.com/angelmondragon/petstore-backend/api/controllers"
	"github.com/angelmondragon/petstore-backend/api/routes"
	"github.com/angelmondragon/petstore-backend/internal/pets"
	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/kafka"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

const serviceName = "pet-commands"

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

	settings, err := kafka.LoadSettings(cfg.Kafka)
	if err != nil {
		logg.Error(context.Background(), "failed to load kafka settings", err)
		os.Exit(1)
	}
	producer, err := kafka.DialProducer(settings)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap kafka producer", err)
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logg.Error(context.Background(), "error closing kafka producer", err)
		}
	}()

	petCommands, err := pets.NewCommandService(producer, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build pet command service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort("", cfg.App.Port)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"addr":        addr,
		"topic":       settings.CommandsTopic,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, map[string]controllers.Pinger{"kafka": producer}, petCommands),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting pet commands api")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}
	logg.Info(ctx, "pet commands api shutting down gracefully")
}
