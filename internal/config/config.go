// Package config loads refiner settings: built-in defaults, then an optional YAML file,
// then environment overrides. Command-line flags are applied last by the binary.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"refiner/internal/storage"
)

const (
	DefaultInputDir    = "/input"
	DefaultOutputDir   = "/output"
	DatabaseFile       = "db.libsql"
	SchemaFile         = "schema.json"
	OutputFile         = "output.json"
	DefaultSchemaName  = "Coding Assistant Training Data Schema"
	DefaultDescription = "Schema for collecting high-quality data from VS Code extension for fine-tuning coding language models"
	DefaultGatewayURL  = "https://gateway.pinata.cloud/ipfs"
)

// Config is the complete run configuration.
type Config struct {
	Job       string        `yaml:"job"`
	InputDir  string        `yaml:"input_dir"`
	OutputDir string        `yaml:"output_dir"`
	Storage   StorageConfig `yaml:"storage"`
	Schema    SchemaConfig  `yaml:"schema"`
	Publish   PublishConfig `yaml:"publish"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// StorageConfig selects the persistence backend. An empty DSN for sqlite means
// <output_dir>/db.libsql.
type StorageConfig struct {
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

// SchemaConfig fills the descriptive fields of schema.json.
type SchemaConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Dialect     string `yaml:"dialect"`
}

// PublishConfig holds Pinata credentials. Publishing is enabled when both key and
// secret are set.
type PublishConfig struct {
	PinataAPIKey    string `yaml:"pinata_api_key"`
	PinataAPISecret string `yaml:"pinata_api_secret"`
	GatewayURL      string `yaml:"gateway_url"`
	Endpoint        string `yaml:"endpoint"`
}

// Enabled reports whether publishing credentials are configured.
func (p PublishConfig) Enabled() bool {
	return strings.TrimSpace(p.PinataAPIKey) != "" && strings.TrimSpace(p.PinataAPISecret) != ""
}

// MetricsConfig selects the metrics backend: "" or "none", or "datadog".
type MetricsConfig struct {
	Backend string `yaml:"backend"`
	Tags    string `yaml:"tags"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Job:       "refiner",
		InputDir:  DefaultInputDir,
		OutputDir: DefaultOutputDir,
		Storage:   StorageConfig{Kind: "sqlite"},
		Schema: SchemaConfig{
			Name:        DefaultSchemaName,
			Version:     "1.0.0",
			Description: DefaultDescription,
			Dialect:     "sqlite",
		},
		Publish: PublishConfig{GatewayURL: DefaultGatewayURL},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when path is
// empty) and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	return cfg, nil
}

// applyEnv overrides fields from environment variables that are set and non-empty.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&cfg.InputDir, "INPUT_DIR")
	set(&cfg.OutputDir, "OUTPUT_DIR")
	set(&cfg.Schema.Name, "SCHEMA_NAME")
	set(&cfg.Schema.Version, "SCHEMA_VERSION")
	set(&cfg.Schema.Description, "SCHEMA_DESCRIPTION")
	set(&cfg.Schema.Dialect, "SCHEMA_DIALECT")
	set(&cfg.Publish.PinataAPIKey, "PINATA_API_KEY")
	set(&cfg.Publish.PinataAPISecret, "PINATA_API_SECRET")
	set(&cfg.Publish.GatewayURL, "IPFS_GATEWAY_URL")
	set(&cfg.Storage.Kind, "STORAGE_KIND")
	set(&cfg.Storage.DSN, "STORAGE_DSN")
	set(&cfg.Metrics.Backend, "METRICS_BACKEND")
	set(&cfg.Metrics.Tags, "METRICS_TAGS")
}

// StorageConfig returns the backend configuration with defaults applied and
// environment references in the DSN expanded.
func (c Config) StorageConfig() storage.Config {
	kind := strings.ToLower(strings.TrimSpace(c.Storage.Kind))
	if kind == "" {
		kind = "sqlite"
	}
	dsn := os.ExpandEnv(c.Storage.DSN)
	if dsn == "" && kind == "sqlite" {
		dsn = c.DatabasePath()
	}
	return storage.Config{Kind: kind, DSN: dsn}
}

// DatabasePath is the default sqlite store location.
func (c Config) DatabasePath() string { return filepath.Join(c.OutputDir, DatabaseFile) }

// SchemaPath is where schema.json is written.
func (c Config) SchemaPath() string { return filepath.Join(c.OutputDir, SchemaFile) }

// OutputPath is where output.json is written.
func (c Config) OutputPath() string { return filepath.Join(c.OutputDir, OutputFile) }
