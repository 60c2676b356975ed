package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// gormLogger forwards query failures and slow statements to the service
// logger. Everything else gorm emits is dropped.
type gormLogger struct {
	logg  *logger.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

func newGormLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	return &gormLogger{logg: logg, slow: slow, level: gormlogger.Warn}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.logg.Debug(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.logg.Error(ctx, "gorm error", fmt.Errorf(msg, args...))
	}
}

// Trace skips record-not-found, which callers treat as a normal result.
func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := elapsed > g.slow
	if !failed && !slow {
		return
	}

	sql, rows := fc()
	ctx = g.logg.WithFields(ctx, map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	switch {
	case failed && g.level >= gormlogger.Error:
		g.logg.Error(ctx, "db.query.failed", err)
	case slow && g.level >= gormlogger.Warn:
		g.logg.Warn(ctx, "db.query.slow")
	}
}
