package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

const defaultInterval = 24 * time.Hour

type jobMetrics interface {
	ObserveRun(job string, elapsed time.Duration, err error)
	AddPurged(job string, rows int64)
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  jobMetrics
	Interval time.Duration
}

// Service purges expired pipeline rows once per interval. Only the replica
// holding the lock does any work in a given cycle.
type Service struct {
	logg     *logger.Logger
	jobs     *Registry
	lock     Lock
	metrics  jobMetrics
	interval time.Duration
}

// Report summarizes one cycle.
type Report struct {
	Skipped bool
	Purged  int64
	Failed  []string
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:     params.Logger,
		jobs:     params.Registry,
		lock:     params.Lock,
		interval: params.Interval,
	}
	if s.jobs == nil {
		s.jobs = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if params.Metrics != nil {
		s.metrics = params.Metrics
	}
	return s, nil
}

// Run starts with a cycle and repeats one interval after each cycle ends,
// until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	for {
		report, err := s.RunOnce(ctx)
		cycleCtx := s.logg.WithFields(ctx, map[string]any{
			"rows_purged": report.Purged,
			"failed_jobs": report.Failed,
			"next_run_in": s.interval.String(),
		})
		switch {
		case err != nil:
			s.logg.Error(cycleCtx, "retention cycle failed", err)
		case report.Skipped:
			s.logg.Info(cycleCtx, "retention lock held elsewhere, cycle skipped")
		default:
			s.logg.Info(cycleCtx, "retention cycle finished")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

// RunOnce runs every registered job under the lock. Job failures are
// reported, not returned; the error is only for the lock itself.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("acquire retention lock: %w", err)
	}
	if !acquired {
		report.Skipped = true
		return report, nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "retention lock release failed")
		}
	}()

	for _, job := range s.jobs.Jobs() {
		rows, err := s.purge(ctx, job)
		if err != nil {
			report.Failed = append(report.Failed, job.Name())
			continue
		}
		report.Purged += rows
	}
	return report, nil
}

func (s *Service) purge(ctx context.Context, job Job) (int64, error) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)

	began := time.Now()
	rows, err := job.Run(jobCtx)
	elapsed := time.Since(began)
	if s.metrics != nil {
		s.metrics.ObserveRun(name, elapsed, err)
		if err == nil {
			s.metrics.AddPurged(name, rows)
		}
	}
	if err != nil {
		s.logg.Error(s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds()), "retention job failed", err)
	}
	return rows, err
}
