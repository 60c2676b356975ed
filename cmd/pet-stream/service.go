package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type pinger interface {
	Ping(context.Context) error
}

type pipeline interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       pinger
	Redis    pinger
	Pipeline pipeline
	OpsHTTP  *http.Server
}

type Service struct {
	cfg      *config.Config
	logg     *logger.Logger
	db       pinger
	redis    pinger
	pipeline pipeline
	ops      *http.Server
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Pipeline == nil {
		return nil, errors.New("command pipeline is required")
	}

	return &Service{
		cfg:      params.Config,
		logg:     params.Logger,
		db:       params.DB,
		redis:    params.Redis,
		pipeline: params.Pipeline,
		ops:      params.OpsHTTP,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if s.redis != nil {
		if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "pet stream dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is canceled or the pipeline or ops server fails. On
// cancellation it waits for the in-flight record to finish.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- s.pipeline.Run(runCtx)
	}()

	opsErr := make(chan error, 1)
	if s.ops != nil {
		go func() {
			s.logg.Info(s.logg.WithField(ctx, "addr", s.ops.Addr), "ops server listening")
			if err := s.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				opsErr <- fmt.Errorf("ops server: %w", err)
			}
		}()
		defer s.shutdownOps(ctx)
	}

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "pet stream context canceled")
		<-pipelineDone
		return ctx.Err()
	case err := <-opsErr:
		s.logg.Error(ctx, "ops server stopped unexpectedly", err)
		cancel()
		<-pipelineDone
		return err
	case err := <-pipelineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "pet stream stopped unexpectedly", err)
		}
		return err
	}
}

func (s *Service) shutdownOps(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.ops.Shutdown(shutdownCtx); err != nil {
		s.logg.Error(ctx, "ops server shutdown failed", err)
	}
}
