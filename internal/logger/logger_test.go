package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dbsmedya/goextract/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		"info":    "info",
		"":        "info",
		"warn":    "warn",
		"error":   "error",
		"verbose": "info",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNew_Outputs(t *testing.T) {
	for _, out := range []string{"", "stdout", "stderr"} {
		log, err := New(&config.LoggingConfig{Level: "error", Format: "json", Output: out})
		if err != nil {
			t.Fatalf("New(%q): %v", out, err)
		}
		if log == nil {
			t.Fatalf("New(%q) returned nil", out)
		}
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.log")
	log, err := New(&config.LoggingConfig{Level: "info", Format: "text", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.WithKind("Widget").Infow("Kind persisted", "records", 3)
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, "Kind persisted") || !strings.Contains(s, "Widget") {
		t.Errorf("log file missing entry: %q", s)
	}
	if strings.Contains(s, "\x1b[") {
		t.Errorf("file output should not be colored: %q", s)
	}
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "extract.log")
	if _, err := New(&config.LoggingConfig{Output: path}); err == nil {
		t.Fatal("expected error for a log file in a missing directory")
	}
}

func TestNewWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	log.Info("hidden")
	log.Warn("shown")
	_ = log.Sync()

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn entry missing")
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	child := base.WithRun("3f2a").WithKind("Gadget").WithPhase("phase2")
	if child == base {
		t.Fatal("context loggers should be new instances")
	}
	child.Info("tagged")
	base.Info("plain")
	_ = base.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}

	var tagged map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &tagged); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for key, want := range map[string]string{"run": "3f2a", "kind": "Gadget", "phase": "phase2", "msg": "tagged"} {
		if tagged[key] != want {
			t.Errorf("%s = %v, want %s", key, tagged[key], want)
		}
	}
	if strings.Contains(lines[1], "3f2a") {
		t.Error("context leaked into the parent logger")
	}
}

func TestNewNopAndDefault(t *testing.T) {
	nop := NewNop()
	nop.WithKind("Crate").Info("discarded")
	if err := nop.Sync(); err != nil {
		t.Errorf("Sync on nop logger: %v", err)
	}
	if NewDefault() == nil {
		t.Fatal("NewDefault returned nil")
	}
}
