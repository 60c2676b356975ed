package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations in dev when PETSTORE_AUTO_MIGRATE
// is set. sqlite stores are skipped; tests migrate them with AutoMigrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})
	if driver := strings.ToLower(strings.TrimSpace(cfg.DB.Driver)); driver != "" && driver != db.DriverPostgres {
		logg.Warn(ctx, "skipping goose migrations for non-postgres driver")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	runner, err := NewRunner(sqlDB, Source{Embedded: true})
	if err != nil {
		return err
	}
	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", applied), "goose migrations completed")
	return nil
}
