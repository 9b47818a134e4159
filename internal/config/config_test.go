package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.InputDir != "/input" || cfg.OutputDir != "/output" || cfg.Schema.Dialect != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	sc := cfg.StorageConfig()
	if sc.Kind != "sqlite" || sc.DSN != filepath.Join("/output", "db.libsql") {
		t.Fatalf("storage=%+v", sc)
	}
	if cfg.Publish.Enabled() {
		t.Fatalf("publishing must be off without credentials")
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refiner.yaml")
	yml := `
job: nightly
input_dir: /data/in
storage:
  kind: postgres
  dsn: postgres://u@${PGHOST}/db
schema:
  name: Custom
  dialect: postgres
metrics:
  backend: datadog
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OUTPUT_DIR", "/data/out")
	t.Setenv("SCHEMA_VERSION", "2.0.0")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("INPUT_DIR", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Job != "nightly" || cfg.InputDir != "/data/in" || cfg.OutputDir != "/data/out" {
		t.Fatalf("dirs=%+v", cfg)
	}
	if cfg.Schema.Name != "Custom" || cfg.Schema.Version != "2.0.0" || cfg.Schema.Description != DefaultDescription {
		t.Fatalf("schema=%+v", cfg.Schema)
	}
	if sc := cfg.StorageConfig(); sc.Kind != "postgres" || sc.DSN != "postgres://u@db.internal/db" {
		t.Fatalf("storage=%+v", sc)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("storage: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("err=%v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	applyEnv(&cfg, envMap(map[string]string{
		"PINATA_API_KEY":    "k",
		"PINATA_API_SECRET": "s",
		"IPFS_GATEWAY_URL":  "https://ipfs.example.org/ipfs",
		"STORAGE_KIND":      "mssql",
		"METRICS_TAGS":      "team:data",
		"SCHEMA_NAME":       "   ",
	}))
	if !cfg.Publish.Enabled() || cfg.Publish.GatewayURL != "https://ipfs.example.org/ipfs" {
		t.Fatalf("publish=%+v", cfg.Publish)
	}
	if cfg.Storage.Kind != "mssql" || cfg.Metrics.Tags != "team:data" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Schema.Name != DefaultSchemaName {
		t.Fatalf("blank env value must not override: %q", cfg.Schema.Name)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	kinds := []string{"mssql", "postgres", "sqlite"}
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
		wantSev   Severity
	}{
		{"defaults ok", func(*Config) {}, "", ""},
		{"unknown kind", func(c *Config) { c.Storage.Kind = "oracle" }, "storage.kind", SeverityError},
		{"unknown kind hides dsn and dialect", func(c *Config) {
			c.Storage = StorageConfig{Kind: "oracle"}
			c.Schema.Dialect = "sqlite"
		}, "storage.kind", SeverityError},
		{"postgres needs dsn", func(c *Config) { c.Storage.Kind = "postgres"; c.Schema.Dialect = "postgres" }, "storage.dsn", SeverityError},
		{"dialect mismatch", func(c *Config) { c.Schema.Dialect = "postgres" }, "schema.dialect", SeverityError},
		{"missing input", func(c *Config) { c.InputDir = "" }, "input_dir", SeverityError},
		{"half credentials", func(c *Config) { c.Publish.PinataAPIKey = "k" }, "publish", SeverityWarning},
		{"publish needs file store", func(c *Config) {
			c.Storage = StorageConfig{Kind: "postgres", DSN: "postgres://x"}
			c.Schema.Dialect = "postgres"
			c.Publish.PinataAPIKey, c.Publish.PinataAPISecret = "k", "s"
		}, "publish", SeverityError},
		{"bad metrics backend", func(c *Config) { c.Metrics.Backend = "statsd" }, "metrics.backend", SeverityError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			issues := Validate(cfg, kinds)
			if tt.wantField == "" {
				if len(issues) != 0 {
					t.Fatalf("unexpected issues: %v", issues)
				}
				return
			}
			if len(issues) != 1 || issues[0].Field != tt.wantField || issues[0].Severity != tt.wantSev {
				t.Fatalf("issues=%v want one %s on %s", issues, tt.wantSev, tt.wantField)
			}
			if HasErrors(issues) != (tt.wantSev == SeverityError) {
				t.Fatalf("HasErrors mismatch for %v", issues)
			}
		})
	}
}
