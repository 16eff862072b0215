package config

import (
	"strings"

	"github.com/nats3-io/nats3/pkg/catalog/postgres"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	cfg.HTTP.ApplyDefaults()
	applyBusDefaults(&cfg.Bus)
	cfg.S3.Retry.ApplyDefaults()
	applyDBDefaults(cfg)
	cfg.Supervisor.ApplyDefaults()
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyBusDefaults(cfg *BusConfig) {
	if cfg.URL == "" {
		cfg.URL = "nats://127.0.0.1:4222"
	}
}

func applyDBDefaults(cfg *Config) {
	if cfg.UseMemoryCatalog() {
		return
	}
	cfg.DB.ApplyDefaults()
}

// GetDefaultConfig returns a Config with all default values applied. Useful
// for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		DB: postgres.Config{URL: MemoryCatalogURL},
	}
	ApplyDefaults(cfg)
	return cfg
}
