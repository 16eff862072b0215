package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nats3-io/nats3/internal/logger"
	"github.com/nats3-io/nats3/pkg/catalog/postgres"
	"github.com/nats3-io/nats3/pkg/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run catalog database migrations",
	Long: `Apply pending schema migrations to the catalog database.

Run this after upgrading nats3 when schema changes have been made, or set
db.auto_migrate to run migrations automatically on start.

Examples:
  # Run migrations with environment configuration
  NATS3_DB_URL=postgres://nats3@localhost/nats3 nats3 migrate

  # Run migrations with a config file
  nats3 migrate --config /etc/nats3/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	if cfg.UseMemoryCatalog() {
		return fmt.Errorf("the in-memory catalog has no schema to migrate")
	}

	logger.Info("Running catalog migrations")

	if err := postgres.RunMigrations(context.Background(), cfg.DB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("Migrations completed successfully")
	return nil
}
