// Package commands implements the CLI commands for the nats3 daemon.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/nats3-io/nats3/internal/logger"
	"github.com/nats3-io/nats3/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nats3",
	Short: "nats3 - NATS JetStream to S3 bridge",
	Long: `nats3 archives NATS JetStream messages into chunked, compressed objects
on S3-compatible storage, and replays them back onto the bus on demand.
Store jobs drain a stream into chunk objects; load jobs publish cataloged
chunks back to a subject.

Use "nats3 [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment and built-in defaults)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(migrateCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}
