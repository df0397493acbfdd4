package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
source:
  snapshot: heap.yaml
  binary: /opt/game/GameAssembly.so
  version: "1.4.2"

sink:
  type: sql
  driver: sqlite3
  database:
    path: records.db

manifest:
  type: sql

extraction:
  stability_threshold: 0.05
  max_depth: 6
  run_timeout: 90s
  readiness:
    probe_kind: WeaponTemplate
    retries: 3
    delay: 250ms
  fail_closed_kinds: [AudioClip]
  include: ["*Template"]
  kinds:
    QuestTemplate:
      max_depth: 12

logging:
  level: debug
  format: json
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Source.Snapshot != "heap.yaml" {
		t.Errorf("expected snapshot 'heap.yaml', got %s", cfg.Source.Snapshot)
	}
	if cfg.Source.Version != "1.4.2" {
		t.Errorf("expected version '1.4.2', got %s", cfg.Source.Version)
	}
	if cfg.Sink.Type != "sql" || cfg.Sink.Driver != "sqlite3" {
		t.Errorf("expected sql/sqlite3 sink, got %s/%s", cfg.Sink.Type, cfg.Sink.Driver)
	}
	if cfg.Sink.Database.Path != "records.db" {
		t.Errorf("expected database path 'records.db', got %s", cfg.Sink.Database.Path)
	}

	if cfg.Extraction.StabilityThreshold != 0.05 {
		t.Errorf("expected stability_threshold 0.05, got %v", cfg.Extraction.StabilityThreshold)
	}
	if cfg.Extraction.MaxDepth != 6 {
		t.Errorf("expected max_depth 6, got %d", cfg.Extraction.MaxDepth)
	}
	// Unset values keep their defaults
	if cfg.Extraction.MaxElements != 4096 {
		t.Errorf("expected max_elements 4096, got %d", cfg.Extraction.MaxElements)
	}
	if cfg.Extraction.RunTimeout != 90*time.Second {
		t.Errorf("expected run_timeout 90s, got %v", cfg.Extraction.RunTimeout)
	}
	if cfg.Extraction.Readiness.Delay != 250*time.Millisecond {
		t.Errorf("expected readiness delay 250ms, got %v", cfg.Extraction.Readiness.Delay)
	}
	if len(cfg.Extraction.FailClosedKinds) != 1 || cfg.Extraction.FailClosedKinds[0] != "AudioClip" {
		t.Errorf("unexpected fail_closed_kinds %v", cfg.Extraction.FailClosedKinds)
	}
	if got := cfg.GetKindLimits("QuestTemplate").MaxDepth; got != 12 {
		t.Errorf("expected QuestTemplate max_depth 12, got %d", got)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging level 'debug', got %s", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to validate, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadWithEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "env-host")
	t.Setenv("TEST_DB_USER", "env-user")
	t.Setenv("TEST_DB_PASS", "env-pass")
	t.Setenv("TEST_SNAPSHOT", "/data/heap.yaml")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-env.yaml")

	configContent := `
source:
  snapshot: ${TEST_SNAPSHOT}
sink:
  type: sql
  driver: mysql
  database:
    host: ${TEST_DB_HOST}
    port: 3306
    user: $TEST_DB_USER
    password: ${TEST_DB_PASS}
    database: extract
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	db := cfg.Sink.Database
	if db.Host != "env-host" {
		t.Errorf("expected host 'env-host', got %s", db.Host)
	}
	if db.User != "env-user" {
		t.Errorf("expected user 'env-user', got %s", db.User)
	}
	if db.Password != "env-pass" {
		t.Errorf("expected password 'env-pass', got %s", db.Password)
	}
	if cfg.Source.Snapshot != "/data/heap.yaml" {
		t.Errorf("expected snapshot '/data/heap.yaml', got %s", cfg.Source.Snapshot)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GOEXTRACT_SINK_DATABASE_PASSWORD", "from-env")
	t.Setenv("GOEXTRACT_SOURCE_SNAPSHOT", "/data/override.yaml")

	configPath := filepath.Join(t.TempDir(), "override.yaml")
	content := `
source:
  snapshot: heap.yaml
sink:
  type: sql
  driver: mysql
  database:
    host: db
    user: extract
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Sink.Database.Password != "from-env" {
		t.Errorf("expected password from environment, got %q", cfg.Sink.Database.Password)
	}
	if cfg.Source.Snapshot != "/data/override.yaml" {
		t.Errorf("expected snapshot from environment, got %q", cfg.Source.Snapshot)
	}
	if cfg.Sink.Database.Host != "db" {
		t.Errorf("expected host from file, got %q", cfg.Sink.Database.Host)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("unset environment keys should keep defaults, got level %q", cfg.Logging.Level)
	}
}

func TestLoadFromViper(t *testing.T) {
	v := viper.New()
	v.Set("source.snapshot", "snap.yaml")
	v.Set("extraction.yield_every", 16)

	cfg, err := LoadFromViper(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Source.Snapshot != "snap.yaml" {
		t.Errorf("expected snapshot 'snap.yaml', got %s", cfg.Source.Snapshot)
	}
	if cfg.Extraction.YieldEvery != 16 {
		t.Errorf("expected yield_every 16, got %d", cfg.Extraction.YieldEvery)
	}
}

func TestExpandEnvVar(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "test-value"},
		{"$TEST_VAR", "test-value"},
		{"prefix-${TEST_VAR}-suffix", "prefix-test-value-suffix"},
		{"${NONEXISTENT}", "${NONEXISTENT}"}, // Unset vars remain unchanged
		{"no-vars-here", "no-vars-here"},
	}

	for _, tt := range tests {
		result := expandEnvVar(tt.input)
		if result != tt.expected {
			t.Errorf("expandEnvVar(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Snapshot = "from-file.yaml"

	cfg.ApplyOverrides("debug", "", "", "out2")

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level override 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected format to stay 'text', got %s", cfg.Logging.Format)
	}
	if cfg.Source.Snapshot != "from-file.yaml" {
		t.Errorf("expected snapshot to stay, got %s", cfg.Source.Snapshot)
	}
	if cfg.Output.Directory != "out2" {
		t.Errorf("expected output override 'out2', got %s", cfg.Output.Directory)
	}
}
