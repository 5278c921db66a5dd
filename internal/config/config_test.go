package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  listen_addr: ":9000"
  read_timeout: 90s
device:
  server_addr: "10.0.0.5:9000"
  receive_timeout: 30s
  max_retries: 3
  features:
    - gui
    - mobile_touch
orchestrator:
  max_task_retries: 2
logging:
  level: debug
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.ReadTimeout != 90*time.Second {
		t.Errorf("ReadTimeout = %v, want 90s", cfg.Server.ReadTimeout)
	}
	if cfg.Device.ReceiveTimeout != 30*time.Second {
		t.Errorf("ReceiveTimeout = %v, want 30s", cfg.Device.ReceiveTimeout)
	}
	if len(cfg.Device.Features) != 2 || cfg.Device.Features[0] != "gui" {
		t.Errorf("Features = %v", cfg.Device.Features)
	}
	if cfg.Orchestrator.MaxTaskRetries != 2 {
		t.Errorf("MaxTaskRetries = %d, want 2", cfg.Orchestrator.MaxTaskRetries)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadFromPathDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
logging:
  level: warn
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	// Unspecified sections fall back to defaults.
	if cfg.Device.ReceiveTimeout != 120*time.Second {
		t.Errorf("ReceiveTimeout default = %v, want 120s", cfg.Device.ReceiveTimeout)
	}
	if cfg.Device.MaxRetries != 5 {
		t.Errorf("MaxRetries default = %d, want 5", cfg.Device.MaxRetries)
	}
	if cfg.Server.ReadTimeout != 5*time.Minute {
		t.Errorf("ReadTimeout default = %v, want 5m", cfg.Server.ReadTimeout)
	}
}

func TestLoadFromPathExpandsAPIKeyEnv(t *testing.T) {
	t.Setenv("TEST_ORACLE_KEY", "sk-test-123")
	path := writeConfig(t, t.TempDir(), `
anthropic:
  api_key: ${TEST_ORACLE_KEY}
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPathMalformed(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server: [not: a: map")
	if _, err := LoadFromPath(path); err == nil {
		t.Error("LoadFromPath() with malformed YAML should fail")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go Watch(ctx, path, slog.Default(), func(c *Config) {
		reloaded <- c
	})

	// Give the watcher time to install before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never delivered the reloaded config")
	}
}

func TestWatchKeepsPreviousOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go Watch(ctx, path, slog.Default(), func(c *Config) {
		reloaded <- c
	})

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("logging: [broken"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Error("broken config must not be delivered")
	case <-time.After(500 * time.Millisecond):
	}
}
