package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Run("missing file is zero config", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.OutputMin != nil || cfg.Normalize != nil || cfg.LogLevel != "" {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("empty path is zero config", func(t *testing.T) {
		if _, err := LoadConfig(""); err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
	})

	t.Run("fields are parsed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := "log_level: debug\nlog_format: json\noutput_min: -8\noutput_max: 8.5\nnormalize: false\nproducer: lab\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.Producer != "lab" {
			t.Fatalf("unexpected string fields: %+v", cfg)
		}
		if cfg.OutputMin == nil || *cfg.OutputMin != -8 {
			t.Fatalf("output_min: got %v want -8", cfg.OutputMin)
		}
		if cfg.OutputMax == nil || *cfg.OutputMax != 8.5 {
			t.Fatalf("output_max: got %v want 8.5", cfg.OutputMax)
		}
		if cfg.Normalize == nil || *cfg.Normalize {
			t.Fatalf("normalize: got %v want explicit false", cfg.Normalize)
		}
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("output_min: [1, 2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestConfigPathUsesXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if got, want := configPath(), filepath.Join(dir, "graft", "config.yaml"); got != want {
		t.Fatalf("configPath: got %q want %q", got, want)
	}
}
