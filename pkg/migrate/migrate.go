// Package migrate wraps goose for the pet store schema. Migrations are plain
// SQL files, compiled into every binary and also readable from disk for the
// migrate CLI.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

const (
	DefaultDir = "pkg/migrate/migrations"

	// EmbeddedDir is the directory name inside Embedded.
	EmbeddedDir = "migrations"
)

//go:embed migrations/*.sql
var Embedded embed.FS

// Source names where migrations are read from.
type Source struct {
	Dir      string
	Embedded bool
}

func (s Source) fs() (fs.FS, error) {
	if s.Embedded {
		return fs.Sub(Embedded, EmbeddedDir)
	}
	if s.Dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	return os.DirFS(s.Dir), nil
}

func (s Source) String() string {
	if s.Embedded {
		return "embedded"
	}
	return s.Dir
}

// Runner applies migrations from one Source to a postgres database.
type Runner struct {
	provider *goose.Provider
	source   Source
}

func NewRunner(db *sql.DB, source Source) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	fsys, err := source.fs()
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider for %s: %w", source, err)
	}
	return &Runner{provider: provider, source: source}, nil
}

// Up applies every pending migration and returns how many ran.
func (r *Runner) Up(ctx context.Context) (int, error) {
	results, err := r.provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("goose up: %w", err)
	}
	return len(results), nil
}

// Down rolls back the latest migration.
func (r *Runner) Down(ctx context.Context) error {
	if _, err := r.provider.Down(ctx); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// Status writes one line per known migration.
func (r *Runner) Status(ctx context.Context, w io.Writer) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	for _, st := range statuses {
		applied := "pending"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-20s %-40s %s\n", applied, st.Source.Path, st.State)
	}
	return nil
}

// MigrateTo moves the schema up or down to the YYYYMMDDHHMMSS version.
func (r *Runner) MigrateTo(ctx context.Context, targetVersion string) error {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current < target:
		if _, err := r.provider.UpTo(ctx, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	case current > target:
		if _, err := r.provider.DownTo(ctx, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}
