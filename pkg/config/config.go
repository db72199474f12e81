// Package config loads application configuration from a YAML file and
// environment variables. Environment variables override file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AGoodId/guardian/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Redis cache configuration
	Redis RedisConfig `yaml:"redis"`

	// Permission check cache
	Checker CheckerConfig `yaml:"checker"`

	// Authorization enforcement
	Authz AuthzConfig `yaml:"authz"`

	// Background maintenance jobs
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`

	// Permission catalog, one entry per object type
	Catalog []CatalogEntry `yaml:"catalog"`
}

// CatalogEntry declares the permission catalog for one object type. An entry
// with no permissions gets the default add/change/delete/view set.
type CatalogEntry struct {
	Type        string              `yaml:"type"`
	Permissions []CatalogPermission `yaml:"permissions"`
}

// CatalogPermission is one cataloged permission
type CatalogPermission struct {
	Codename string `yaml:"codename"`
	Name     string `yaml:"name"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RedisConfig holds the grant cache settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CheckerConfig holds the in-process permission check cache settings
type CheckerConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// AuthzConfig controls object-permission gating of the grant API. When
// enforcement is on, grant mutations require the acting principal to hold
// change_<type> on the routed object. Off by default so a fresh deployment
// can seed its first grants.
type AuthzConfig struct {
	EnforceObjectPermissions bool `yaml:"enforce_object_permissions"`
}

// MaintenanceConfig holds background job schedules
type MaintenanceConfig struct {
	// Cron expression for the orphan grant sweep. Empty disables it.
	OrphanCleanupSchedule string `yaml:"orphan_cleanup_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging. LogLevelName carries the value from the YAML file and is
	// parsed into LogLevel after loading.
	LogLevel     observability.LogLevel `yaml:"-"`
	LogLevelName string                 `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from an optional YAML file named by
// GUARDIAN_CONFIG_FILE, then applies environment variable overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("GUARDIAN_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if cfg.Observability.LogLevelName != "" {
			cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		},
		Redis: RedisConfig{
			URL:      "redis://localhost:6379/0",
			PoolSize: 10,
		},
		Checker: CheckerConfig{
			CacheSize: 4096,
		},
		Maintenance: MaintenanceConfig{
			OrphanCleanupSchedule: "@hourly",
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "guardian",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Host = getEnv("GUARDIAN_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("GUARDIAN_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("GUARDIAN_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("GUARDIAN_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("GUARDIAN_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("GUARDIAN_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.HealthPort = getEnv("GUARDIAN_HEALTH_PORT", cfg.Server.HealthPort)

	cfg.Database.URL = getEnv("GUARDIAN_POSTGRES_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = getEnvInt("GUARDIAN_POSTGRES_MAX_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("GUARDIAN_POSTGRES_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvDuration("GUARDIAN_POSTGRES_CONN_LIFETIME", cfg.Database.ConnMaxLifetime)
	cfg.Database.ConnectTimeout = getEnvDuration("GUARDIAN_POSTGRES_TIMEOUT", cfg.Database.ConnectTimeout)

	cfg.Redis.Enabled = getEnvBool("GUARDIAN_REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.URL = getEnv("GUARDIAN_REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Password = getEnv("GUARDIAN_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("GUARDIAN_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.PoolSize = getEnvInt("GUARDIAN_REDIS_POOL_SIZE", cfg.Redis.PoolSize)

	cfg.Checker.CacheSize = getEnvInt("GUARDIAN_CHECKER_CACHE_SIZE", cfg.Checker.CacheSize)

	cfg.Authz.EnforceObjectPermissions = getEnvBool("GUARDIAN_ENFORCE_OBJECT_AUTHZ", cfg.Authz.EnforceObjectPermissions)

	cfg.Maintenance.OrphanCleanupSchedule = getEnv("GUARDIAN_ORPHAN_CLEANUP_SCHEDULE", cfg.Maintenance.OrphanCleanupSchedule)

	if level := os.Getenv("GUARDIAN_LOG_LEVEL"); level != "" {
		cfg.Observability.LogLevel = parseLogLevel(level)
	}
	cfg.Observability.MetricsEnabled = getEnvBool("GUARDIAN_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("GUARDIAN_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("GUARDIAN_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("GUARDIAN_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("GUARDIAN_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("GUARDIAN_OTEL_INSECURE", cfg.Observability.OTelInsecure)

	// Comma-separated types registered with the default permission set
	if types := os.Getenv("GUARDIAN_CATALOG_TYPES"); types != "" {
		known := make(map[string]bool, len(cfg.Catalog))
		for _, entry := range cfg.Catalog {
			known[entry.Type] = true
		}
		for _, objectType := range strings.Split(types, ",") {
			objectType = strings.TrimSpace(objectType)
			if objectType != "" && !known[objectType] {
				cfg.Catalog = append(cfg.Catalog, CatalogEntry{Type: objectType})
			}
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	if c.Checker.CacheSize <= 0 {
		return fmt.Errorf("checker cache size must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
