package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http:
  port: 9090
ml:
  n_estimators: 20
  missing_features: reject
snapshot:
  cache_ttl: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Http.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Http.Port)
	}
	if cfg.ML.NEstimators != 20 || cfg.ML.RandomState != 42 {
		t.Fatalf("unexpected ml config: %+v", cfg.ML)
	}
	if cfg.ML.LabelColumn != "calss" || cfg.ML.MissingFeatures != "reject" {
		t.Fatalf("unexpected ml config: %+v", cfg.ML)
	}
	if cfg.Snapshot.CacheTTL != 5*time.Second {
		t.Fatalf("expected 5s ttl, got %v", cfg.Snapshot.CacheTTL)
	}
	if cfg.Http.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", cfg.Http.Timeout)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http: [oops"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ML.ArtifactDir != "artifacts" || cfg.ML.TopK != 10 || cfg.Database.Path == "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadKeepsZeroRandomState(t *testing.T) {
	dir := t.TempDir()
	zero := filepath.Join(dir, "zero.yaml")
	if err := os.WriteFile(zero, []byte("ml:\n  random_state: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ML.RandomState != 0 {
		t.Fatalf("expected explicit random_state 0, got %d", cfg.ML.RandomState)
	}

	unset := filepath.Join(dir, "unset.yaml")
	if err := os.WriteFile(unset, []byte("ml:\n  n_estimators: 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = Load(unset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ML.RandomState != 42 {
		t.Fatalf("expected default random_state 42, got %d", cfg.ML.RandomState)
	}
}
