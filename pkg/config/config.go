// Package config loads the process configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/nats3-io/nats3/pkg/api"
	"github.com/nats3-io/nats3/pkg/catalog/postgres"
	"github.com/nats3-io/nats3/pkg/objstore"
	"github.com/nats3-io/nats3/pkg/supervisor"
)

// MemoryCatalogURL selects the in-memory catalog instead of Postgres. Meant
// for development and tests, not production: jobs and the chunk index do not
// survive a restart.
const MemoryCatalogURL = "memory"

// Config is the full process configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NATS3_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// HTTP configures the management API server.
	HTTP api.Config `mapstructure:"http"`

	// Bus configures the NATS connection.
	Bus BusConfig `mapstructure:"bus"`

	// S3 configures the chunk object store.
	S3 objstore.S3Config `mapstructure:"s3"`

	// DB configures the catalog. Set url to "memory" for the in-process
	// catalog in development mode.
	DB postgres.Config `mapstructure:"db"`

	// Supervisor tunes worker lifecycle and the reconciler.
	Supervisor supervisor.Config `mapstructure:"supervisor"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format.
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// BusConfig configures the NATS JetStream connection.
type BusConfig struct {
	// URL is the NATS server URL.
	// Default: nats://127.0.0.1:4222
	URL string `mapstructure:"url" validate:"required"`
}

// UseMemoryCatalog reports whether the in-memory catalog was selected.
func (c *Config) UseMemoryCatalog() bool {
	return c.DB.URL == MemoryCatalogURL
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath skips the file and uses environment plus defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("configuration file not found: %s", configPath)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for structural problems.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if !cfg.UseMemoryCatalog() {
		if err := cfg.DB.Validate(); err != nil {
			return fmt.Errorf("db: %w", err)
		}
	}
	return nil
}

// setupViper configures viper with environment variable and config file
// settings. Environment variables use the NATS3_ prefix with underscores,
// e.g. NATS3_LOGGING_LEVEL=DEBUG or NATS3_DB_URL=postgres://...
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NATS3")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Unmarshal only sees keys viper knows about; bind them all so
	// environment-only setups work without a config file.
	for _, key := range configKeys() {
		_ = v.BindEnv(key)
	}
}

// configKeys lists every configuration key so environment-only setups work
// without a config file.
func configKeys() []string {
	return []string{
		"logging.level", "logging.format", "logging.output",
		"http.port", "http.read_timeout", "http.write_timeout",
		"http.idle_timeout", "http.request_timeout",
		"bus.url",
		"s3.region", "s3.endpoint", "s3.access_key", "s3.secret_key",
		"s3.force_path_style",
		"s3.retry.max_attempts", "s3.retry.base_delay", "s3.retry.max_delay",
		"db.url", "db.max_conns", "db.min_conns", "db.max_conn_lifetime",
		"db.max_conn_idle_time", "db.health_check_period",
		"db.connect_timeout", "db.query_timeout", "db.auto_migrate",
		"supervisor.shutdown_timeout", "supervisor.reconcile_interval",
		"supervisor.orphan_safety_window", "supervisor.purge_retention",
	}
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration. Raw integers are taken as nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
