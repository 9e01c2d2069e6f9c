// Package runcfg exposes strongly typed run configuration loaded from YAML.
package runcfg

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"barlab/internal/domain"
)

// Run identifies the computation: the data context, the script graph,
// and every parameter that participates in the run key.
type Run struct {
	Symbol            string             `yaml:"symbol" validate:"required"`
	Timeframe         string             `yaml:"timeframe" validate:"required"`
	Graph             string             `yaml:"graph" validate:"required"`
	Params            map[string]float64 `yaml:"params"`
	CalibrationPrefix int                `yaml:"calibration_prefix" validate:"gte=0"`
	DebugTooling      bool               `yaml:"debug_tooling"`
}

// Storage selects the persistence backend for bars and committed series.
type Storage struct {
	Backend       string `yaml:"backend" validate:"oneof=memory postgres clickhouse"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

// Feed selects where time points come from.
type Feed struct {
	Source string `yaml:"source" validate:"oneof=store ws"`
	WSURL  string `yaml:"ws_url"`
}

// Export configures optional committed-series export after a run.
type Export struct {
	Format string `yaml:"format" validate:"omitempty,oneof=csv json parquet"`
	Path   string `yaml:"path"`
}

// Config collects every configuration leaf for easy unmarshaling from YAML.
type Config struct {
	Run     Run     `yaml:"run" validate:"required"`
	Storage Storage `yaml:"storage"`
	Feed    Feed    `yaml:"feed"`
	Export  Export  `yaml:"export"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a YAML file from disk, applies defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Feed.Source == "" {
		c.Feed.Source = "store"
	}
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("validate config: postgres backend needs postgres_dsn")
	}
	if c.Storage.Backend == "clickhouse" && c.Storage.ClickhouseDSN == "" {
		return fmt.Errorf("validate config: clickhouse backend needs clickhouse_dsn")
	}
	if c.Feed.Source == "ws" && c.Feed.WSURL == "" {
		return fmt.Errorf("validate config: ws feed needs ws_url")
	}
	if c.Export.Format != "" && c.Export.Path == "" {
		return fmt.Errorf("validate config: export needs path")
	}
	return nil
}

// RunConfig maps the run section onto the engine's configuration type.
func (c *Config) RunConfig() domain.RunConfig {
	return domain.RunConfig{
		Symbol:            c.Run.Symbol,
		Timeframe:         c.Run.Timeframe,
		GraphID:           c.Run.Graph,
		Params:            c.Run.Params,
		CalibrationPrefix: c.Run.CalibrationPrefix,
		DebugTooling:      c.Run.DebugTooling,
	}
}
