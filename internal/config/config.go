// Package config loads and validates the access-engine configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the PAE_ prefix (e.g., PAE_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// The JWT secret is read from PAE_JWT_SECRET as a plain environment variable so
// secret-injection tooling can treat it as a generic secret name.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/propty-os/access-engine/internal/db/models"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Access    AccessConfig    `mapstructure:"access"`
	Activity  ActivityConfig  `mapstructure:"activity"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format.
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the optional Redis connection used by the distributed
// permission-check rate limiter. When Addr is empty the limiter falls back to
// its in-process implementation.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AccessConfig tunes the permission validation engine.
type AccessConfig struct {
	// SensitiveModules is the configurable list of modules whose write grants
	// mark an actor as elevated for rate/alert accounting.
	SensitiveModules []string `mapstructure:"sensitive_modules"`
	// ChecksPerMinute caps permission checks per actor; 0 disables limiting.
	ChecksPerMinute int `mapstructure:"checks_per_minute"`
	// DenyTraceSeverities lists the severities whose denials are traced to the
	// activity log.
	DenyTraceSeverities []string `mapstructure:"deny_trace_severities"`
}

// DenyTraceSeveritySet returns the configured trace severities as a set,
// dropping any names that are not part of the severity enumeration.
func (c *AccessConfig) DenyTraceSeveritySet() map[models.Severity]bool {
	set := make(map[models.Severity]bool, len(c.DenyTraceSeverities))
	for _, name := range c.DenyTraceSeverities {
		s := models.Severity(name)
		if models.ValidSeverity(s) {
			set[s] = true
		}
	}
	return set
}

// SensitiveModuleSet returns the configured sensitive modules as a set,
// dropping any names that are not part of the module enumeration.
func (c *AccessConfig) SensitiveModuleSet() map[models.ModuleName]bool {
	set := make(map[models.ModuleName]bool, len(c.SensitiveModules))
	for _, name := range c.SensitiveModules {
		m := models.ModuleName(name)
		if models.ValidModule(m) {
			set[m] = true
		}
	}
	return set
}

// ActivityConfig tunes the activity-log ingestion pipeline.
type ActivityConfig struct {
	// QueueSize bounds the ingestion channel; a full queue drops events.
	QueueSize int `mapstructure:"queue_size"`
	// FlushTimeout bounds each persist attempt made by the consumer.
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	// RetentionCron is the robfig/cron spec for the retention sweep.
	RetentionCron string `mapstructure:"retention_cron"`
	// AlertRearmInterval is how often triggered alerts are checked for re-arm.
	AlertRearmInterval time.Duration `mapstructure:"alert_rearm_interval"`
}

// ArchiveConfig selects where archived activity logs are written.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"` // "local" or "s3"
	Local   LocalArchiveConfig `mapstructure:"local"`
	S3      S3ArchiveConfig    `mapstructure:"s3"`
}

// LocalArchiveConfig holds filesystem archive configuration.
type LocalArchiveConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3ArchiveConfig holds S3 archive configuration.
type S3ArchiveConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// SecurityConfig holds CORS and edge rate limiting settings.
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds edge (per-client HTTP) rate limiting settings.
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds metrics settings.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// BootstrapConfig seeds a first company with default roles and an owner admin
// on startup. Idempotent; safe to leave enabled.
type BootstrapConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	CompanyID     string `mapstructure:"company_id"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

// Load reads configuration from the given path (or ./config.yaml when empty),
// applies defaults and environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/access-engine")
	}

	v.SetEnvPrefix("PAE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env + defaults must be able to stand alone.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "access_engine")
	v.SetDefault("database.user", "access")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults (empty addr = in-process limiter)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// Access defaults
	v.SetDefault("access.sensitive_modules", []string{"settings", "accounting", "reports"})
	v.SetDefault("access.checks_per_minute", 100)
	v.SetDefault("access.deny_trace_severities", []string{"high", "critical"})

	// Activity defaults
	v.SetDefault("activity.queue_size", 1024)
	v.SetDefault("activity.flush_timeout", "5s")
	v.SetDefault("activity.retention_cron", "0 3 * * *")
	v.SetDefault("activity.alert_rearm_interval", "1m")

	// Archive defaults
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.local.base_path", "./archive")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "access-engine")
	v.SetDefault("telemetry.prometheus_port", 9090)

	// Bootstrap defaults
	v.SetDefault("bootstrap.enabled", false)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Access.ChecksPerMinute < 0 {
		return fmt.Errorf("access.checks_per_minute must not be negative")
	}
	for _, name := range c.Access.SensitiveModules {
		if !models.ValidModule(models.ModuleName(name)) {
			return fmt.Errorf("access.sensitive_modules: unknown module %q", name)
		}
	}

	if c.Activity.QueueSize < 1 {
		return fmt.Errorf("activity.queue_size must be at least 1")
	}

	switch c.Archive.Backend {
	case "local":
		if c.Archive.Local.BasePath == "" {
			return fmt.Errorf("archive.local.base_path is required when using local archive")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when using s3 archive")
		}
		if c.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when using s3 archive")
		}
	default:
		return fmt.Errorf("invalid archive backend: %s (must be local or s3)", c.Archive.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Bootstrap.Enabled {
		if c.Bootstrap.CompanyID == "" {
			return fmt.Errorf("bootstrap.company_id is required when bootstrap is enabled")
		}
		if c.Bootstrap.AdminEmail == "" {
			return fmt.Errorf("bootstrap.admin_email is required when bootstrap is enabled")
		}
	}

	return nil
}
