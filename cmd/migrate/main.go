package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/migrate"
)

const serviceName = "migrate"

type options struct {
	cmd      string
	dir      string
	embedded bool
	name     string
	version  string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.BoolVar(&opts.embedded, "embedded", false, "use the migrations compiled into the binary instead of -dir")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	source := migrate.Source{Dir: opts.dir, Embedded: opts.embedded}

	// create and validate only touch files.
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return fmt.Errorf("missing -name")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		validate := func() error { return migrate.ValidateDir(opts.dir) }
		if opts.embedded {
			validate = migrate.ValidateEmbedded
		}
		if err := validate(); err != nil {
			return err
		}
		fmt.Println("migration validation passed:", source)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd, "source": source.String()})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, source)
	if err != nil {
		return err
	}

	switch opts.cmd {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied")
	case "down":
		if err := runner.Down(ctx); err != nil {
			return err
		}
		logg.Info(ctx, "latest migration rolled back")
	case "status":
		return runner.Status(ctx, os.Stdout)
	case "version":
		if opts.version == "" {
			return fmt.Errorf("missing -version")
		}
		if err := runner.MigrateTo(ctx, opts.version); err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "version", opts.version), "schema at requested version")
	default:
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}
	return nil
}
