package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.URL != nil || cfg.UI.PlotHeight != nil {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestLoadConfigSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
url = "http://localhost:8000"
timeout = "5s"
rate = 2.5
burst = 3

[share]
base-url = "https://truebpm.example/"

[log]
level = "debug"
format = "json"

[ui]
plot-height = 12
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.URL == nil || *cfg.Server.URL != "http://localhost:8000" {
		t.Fatalf("unexpected server url: %v", cfg.Server.URL)
	}
	if cfg.Server.Timeout == nil || cfg.Server.Timeout.Duration != 5*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Server.Timeout)
	}
	if cfg.Server.Rate == nil || *cfg.Server.Rate != 2.5 {
		t.Fatalf("unexpected rate: %v", cfg.Server.Rate)
	}
	if cfg.Server.Burst == nil || *cfg.Server.Burst != 3 {
		t.Fatalf("unexpected burst: %v", cfg.Server.Burst)
	}
	if cfg.Share.BaseURL == nil || *cfg.Share.BaseURL != "https://truebpm.example/" {
		t.Fatalf("unexpected share base url: %v", cfg.Share.BaseURL)
	}
	if cfg.Log.Level == nil || *cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %v", cfg.Log.Level)
	}
	if cfg.Log.Format == nil || *cfg.Log.Format != "json" {
		t.Fatalf("unexpected log format: %v", cfg.Log.Format)
	}
	if cfg.UI.PlotHeight == nil || *cfg.UI.PlotHeight != 12 {
		t.Fatalf("unexpected plot height: %v", cfg.UI.PlotHeight)
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server]\ntimeout = \"soon\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDefaultPathsFollowXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/cfg")
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	if got := DefaultConfigPath(); got != "/tmp/cfg/truebpm/config.toml" {
		t.Fatalf("unexpected config path %q", got)
	}
	if got := DefaultDBPath(); got != "/tmp/data/truebpm/truebpm.db" {
		t.Fatalf("unexpected db path %q", got)
	}
	if got := DefaultLogPath(); got != "/tmp/data/truebpm/truebpm.log" {
		t.Fatalf("unexpected log path %q", got)
	}
}
