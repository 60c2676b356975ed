package retention

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

// Job is one purge task run on every cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PurgeFunc deletes rows older than cutoff and reports how many were removed.
type PurgeFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

type PurgeJobParams struct {
	Name   string
	Logger *logger.Logger
	DB     txRunner
	Purge  PurgeFunc
	MaxAge time.Duration
}

// NewPurgeJob builds a job that deletes rows older than MaxAge in one transaction.
func NewPurgeJob(params PurgeJobParams) (Job, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("job name required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Purge == nil {
		return nil, fmt.Errorf("purge func required")
	}
	if params.MaxAge <= 0 {
		return nil, fmt.Errorf("%s: max age must be positive", params.Name)
	}
	return &purgeJob{
		name:   params.Name,
		logg:   params.Logger,
		db:     params.DB,
		purge:  params.Purge,
		maxAge: params.MaxAge,
		now:    time.Now,
	}, nil
}

type purgeJob struct {
	name   string
	logg   *logger.Logger
	db     txRunner
	purge  PurgeFunc
	maxAge time.Duration
	now    func() time.Time
}

func (j *purgeJob) Name() string { return j.name }

func (j *purgeJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.maxAge)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.purge(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", j.name, err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "retention purge complete")
	return deleted, nil
}

// Days converts a day count from config into a max age.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
