package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AGoodId/guardian/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GUARDIAN_POSTGRES_URL", "postgres://localhost/guardian_test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Expected default health port 9090, got %s", cfg.Server.HealthPort)
	}
	if cfg.Checker.CacheSize != 4096 {
		t.Errorf("Expected default checker cache size 4096, got %d", cfg.Checker.CacheSize)
	}
	if cfg.Maintenance.OrphanCleanupSchedule != "@hourly" {
		t.Errorf("Expected default cleanup schedule @hourly, got %s", cfg.Maintenance.OrphanCleanupSchedule)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("Expected default log level info, got %v", cfg.Observability.LogLevel)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GUARDIAN_POSTGRES_URL", "postgres://localhost/guardian_test")
	t.Setenv("GUARDIAN_PORT", "8888")
	t.Setenv("GUARDIAN_READ_TIMEOUT", "5s")
	t.Setenv("GUARDIAN_REDIS_ENABLED", "true")
	t.Setenv("GUARDIAN_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("GUARDIAN_CHECKER_CACHE_SIZE", "128")
	t.Setenv("GUARDIAN_ENFORCE_OBJECT_AUTHZ", "true")
	t.Setenv("GUARDIAN_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8888" {
		t.Errorf("Expected port 8888, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Expected 5s read timeout, got %v", cfg.Server.ReadTimeout)
	}
	if !cfg.Redis.Enabled {
		t.Error("Expected redis enabled")
	}
	if cfg.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("Expected redis URL override, got %s", cfg.Redis.URL)
	}
	if cfg.Checker.CacheSize != 128 {
		t.Errorf("Expected checker cache size 128, got %d", cfg.Checker.CacheSize)
	}
	if !cfg.Authz.EnforceObjectPermissions {
		t.Error("Expected object permission enforcement enabled")
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("Expected debug level, got %v", cfg.Observability.LogLevel)
	}
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	content := `
server:
  port: "7070"
  health_port: "7071"
database:
  url: postgres://filehost/guardian
observability:
  log_level: warn
maintenance:
  orphan_cleanup_schedule: "0 3 * * *"
`
	path := filepath.Join(t.TempDir(), "guardian.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("GUARDIAN_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("Expected port 7070 from file, got %s", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://filehost/guardian" {
		t.Errorf("Expected database URL from file, got %s", cfg.Database.URL)
	}
	if cfg.Observability.LogLevel != observability.WarnLevel {
		t.Errorf("Expected warn level from file, got %v", cfg.Observability.LogLevel)
	}
	if cfg.Maintenance.OrphanCleanupSchedule != "0 3 * * *" {
		t.Errorf("Expected cron schedule from file, got %s", cfg.Maintenance.OrphanCleanupSchedule)
	}
}

func TestLoadConfig_EnvWinsOverFile(t *testing.T) {
	content := `
server:
  port: "7070"
database:
  url: postgres://filehost/guardian
`
	path := filepath.Join(t.TempDir(), "guardian.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("GUARDIAN_CONFIG_FILE", path)
	t.Setenv("GUARDIAN_PORT", "8888")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8888" {
		t.Errorf("Expected env to win over file, got %s", cfg.Server.Port)
	}
}

func TestLoadConfig_Catalog(t *testing.T) {
	content := `
database:
  url: postgres://localhost/guardian_test
catalog:
  - type: post
    permissions:
      - codename: view_post
        name: Can view post
      - codename: publish_post
        name: Can publish post
  - type: comment
`
	path := filepath.Join(t.TempDir(), "guardian.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("GUARDIAN_CONFIG_FILE", path)
	t.Setenv("GUARDIAN_CATALOG_TYPES", "post, document")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	// post and comment from the file, document appended from env, no
	// duplicate for post
	if len(cfg.Catalog) != 3 {
		t.Fatalf("Expected 3 catalog entries, got %d", len(cfg.Catalog))
	}
	if cfg.Catalog[0].Type != "post" || len(cfg.Catalog[0].Permissions) != 2 {
		t.Errorf("Unexpected post entry: %+v", cfg.Catalog[0])
	}
	if cfg.Catalog[0].Permissions[1].Codename != "publish_post" {
		t.Errorf("Expected publish_post, got %s", cfg.Catalog[0].Permissions[1].Codename)
	}
	if cfg.Catalog[2].Type != "document" {
		t.Errorf("Expected document appended from env, got %s", cfg.Catalog[2].Type)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("GUARDIAN_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: true,
		},
		{
			name:    "port collision",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: true,
		},
		{
			name:    "missing postgres URL",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: true,
		},
		{
			name: "redis enabled without URL",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.URL = ""
			},
			wantErr: true,
		},
		{
			name:    "non-positive checker cache",
			mutate:  func(c *Config) { c.Checker.CacheSize = 0 },
			wantErr: true,
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Database.URL = "postgres://localhost/guardian_test"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}
