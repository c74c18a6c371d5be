package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "flowguard.log")
	log, err := New(Config{Level: "debug", Mode: "prod", File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Info("model loaded")
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"model loaded"`) {
		t.Fatalf("expected json line, got %s", raw)
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewTestModeIsSilent(t *testing.T) {
	log, err := New(Config{Mode: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.Core().Enabled(0) {
		t.Fatal("expected nop logger")
	}
}
