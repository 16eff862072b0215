package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nats3-io/nats3/internal/logger"
	"github.com/nats3-io/nats3/pkg/api"
	"github.com/nats3-io/nats3/pkg/bus"
	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/catalog/postgres"
	"github.com/nats3-io/nats3/pkg/config"
	"github.com/nats3-io/nats3/pkg/metrics"
	"github.com/nats3-io/nats3/pkg/objstore"
	"github.com/nats3-io/nats3/pkg/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nats3 daemon",
	Long: `Start the nats3 daemon with the specified configuration.

The daemon connects to NATS and the catalog database, recovers jobs that
were running before the last shutdown, and serves the management API.

Examples:
  # Start with environment configuration
  NATS3_DB_URL=postgres://nats3@localhost/nats3 nats3 start

  # Start with a config file
  nats3 start --config /etc/nats3/config.yaml

  # Development mode without Postgres
  NATS3_DB_URL=memory nats3 start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting nats3",
		"version", Version,
		"log_level", cfg.Logging.Level,
		"bus", cfg.Bus.URL,
	)

	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer cat.Close()

	b, err := bus.Connect(cfg.Bus.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer b.Close()

	objects, err := objstore.NewS3(ctx, cfg.S3)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	m := metrics.New()

	sup := supervisor.New(cat, b, objects, m, cfg.Supervisor)
	if err := sup.Recover(ctx); err != nil {
		return fmt.Errorf("job recovery failed: %w", err)
	}
	go sup.RunReconciler(ctx)

	apiServer := api.NewServer(cfg.HTTP, sup, cat, m)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("nats3 is running", "api_port", apiServer.Port())

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("API server error", "error", err)
			sup.Shutdown()
			return err
		}
	}

	// Workers drain their partial batches before the process exits.
	sup.Shutdown()
	logger.Info("nats3 stopped gracefully")
	return nil
}

// openCatalog opens the configured catalog: Postgres in production, the
// in-process catalog when db.url is "memory".
func openCatalog(ctx context.Context, cfg *config.Config) (catalog.Catalog, error) {
	if cfg.UseMemoryCatalog() {
		logger.Warn("Using in-memory catalog, jobs will not survive a restart")
		return catalog.NewMemory(), nil
	}
	return postgres.New(ctx, cfg.DB)
}
