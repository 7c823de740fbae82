package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	defaults "github.com/xtxerr/statbot/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.App != defaults.DefaultApp {
		t.Errorf("App = %q, want %q", cfg.App, defaults.DefaultApp)
	}
	if cfg.Listen != defaults.DefaultListenAddress {
		t.Errorf("Listen = %q, want %q", cfg.Listen, defaults.DefaultListenAddress)
	}
	if cfg.Recorder.Staleness != defaults.DefaultStaleness {
		t.Errorf("Staleness = %v, want %v", cfg.Recorder.Staleness, defaults.DefaultStaleness)
	}
	if cfg.Statistic.UsersLog != defaults.DefaultUsersLogTemplate {
		t.Errorf("UsersLog = %q, want %q", cfg.Statistic.UsersLog, defaults.DefaultUsersLogTemplate)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
app: chat.dim.monitor
listen: "127.0.0.1:9999"
data_dir: /var/lib/statbot
supervisors:
  - boss@example
auth:
  tokens:
    - id: collaborator
      token: secret
recorder:
  idle_interval: 5s
  staleness: 72h
features:
  percentile:
    enabled: true
    quantile: 0.95
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen != "127.0.0.1:9999" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.DataDir != "/var/lib/statbot" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if len(cfg.Supervisors) != 1 || cfg.Supervisors[0] != "boss@example" {
		t.Errorf("Supervisors = %v", cfg.Supervisors)
	}
	if len(cfg.Auth.Tokens) != 1 || cfg.Auth.Tokens[0].Token != "secret" {
		t.Errorf("Tokens = %+v", cfg.Auth.Tokens)
	}
	if cfg.Recorder.Staleness != 72*time.Hour {
		t.Errorf("Staleness = %v, want 72h", cfg.Recorder.Staleness)
	}
	if cfg.Features.Percentile.Quantile != 0.95 {
		t.Errorf("Quantile = %v, want 0.95", cfg.Features.Percentile.Quantile)
	}

	// Unset fields still get defaults.
	if cfg.App != defaults.DefaultApp {
		t.Errorf("App = %q, want default", cfg.App)
	}
	if cfg.Checkpoint.Window != defaults.DefaultCheckpointWindow {
		t.Errorf("Checkpoint.Window = %v, want default", cfg.Checkpoint.Window)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "template missing day placeholder",
			mutate:  func(c *Config) { c.Statistic.UsersLog = "users_log-{yyyy}-{mm}.js" },
			wantErr: true,
		},
		{
			name:    "negative staleness",
			mutate:  func(c *Config) { c.Recorder.Staleness = -time.Hour },
			wantErr: true,
		},
		{
			name:    "zero checkpoint window",
			mutate:  func(c *Config) { c.Checkpoint.Window = 0 },
			wantErr: true,
		},
		{
			name: "percentile accuracy out of range",
			mutate: func(c *Config) {
				c.Features.Percentile.Enabled = true
				c.Features.Percentile.Accuracy = 1.5
			},
			wantErr: true,
		},
		{
			name: "percentile quantile out of range",
			mutate: func(c *Config) {
				c.Features.Percentile.Enabled = true
				c.Features.Percentile.Quantile = 0
			},
			wantErr: true,
		},
		{
			name: "archive inside staleness horizon",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.AfterDays = 3
				c.Recorder.Staleness = 7 * 24 * time.Hour
			},
			wantErr: true,
		},
		{
			name: "archive past staleness horizon",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.AfterDays = 8
				c.Recorder.Staleness = 7 * 24 * time.Hour
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
