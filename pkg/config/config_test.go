package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CONFIG_ENV", "none")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Segmenter.PauseThreshold != 2000*time.Millisecond {
		t.Errorf("unexpected pause threshold %s", cfg.Segmenter.PauseThreshold)
	}
	if cfg.Budgets.Transcribe != 2*time.Second ||
		cfg.Budgets.Translate != time.Second ||
		cfg.Budgets.Synthesize != 2*time.Second ||
		cfg.Budgets.Total != 5*time.Second {
		t.Errorf("unexpected budgets %+v", cfg.Budgets)
	}
	if len(cfg.Providers.Transcribers) == 0 {
		t.Error("expected a default transcriber chain")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  address: ":9090"
segmenter:
  pause_threshold: 1500ms
budgets:
  total: 10s
languages: ["en", "hi"]
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("override lost: address %q", cfg.Server.Address)
	}
	if cfg.Segmenter.PauseThreshold != 1500*time.Millisecond {
		t.Errorf("override lost: pause threshold %s", cfg.Segmenter.PauseThreshold)
	}
	if cfg.Budgets.Total != 10*time.Second {
		t.Errorf("override lost: total budget %s", cfg.Budgets.Total)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Budgets.Transcribe != 2*time.Second {
		t.Errorf("default lost: transcribe budget %s", cfg.Budgets.Transcribe)
	}
	if len(cfg.Languages) != 2 {
		t.Errorf("override lost: languages %v", cfg.Languages)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("budgets: [not a map"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults pass", func(c *Config) {}, true},
		{"stage budget above total", func(c *Config) { c.Budgets.Transcribe = 10 * time.Second }, false},
		{"zero pause threshold", func(c *Config) { c.Segmenter.PauseThreshold = 0 }, false},
		{"zero chunk queue", func(c *Config) { c.Segmenter.ChunkQueueSize = 0 }, false},
		{"no languages", func(c *Config) { c.Languages = nil }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			err := cfg.validate()
			if tc.ok && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestSupports(t *testing.T) {
	cfg := defaults()
	if !cfg.Supports("en") {
		t.Error("en should be supported by default")
	}
	if cfg.Supports("tlh") {
		t.Error("tlh should not be supported")
	}
}
