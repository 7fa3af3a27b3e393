package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database, Redis and S3 configuration
	Storage storage.Config

	// Audit interceptor configuration
	Audit AuditConfig

	// Retention job configuration
	Retention RetentionConfig

	// Request identity configuration
	Identity IdentityConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuditConfig holds audit classification settings
type AuditConfig struct {
	// ManualEntities are entity type names audited with the default policy
	ManualEntities []string

	// PolicyFile is an optional YAML file of per-entity policies
	PolicyFile string

	// Timeout bounds one audit pass; zero means no bound
	Timeout time.Duration

	// ResolutionCacheSize bounds the registry's type resolution memo
	ResolutionCacheSize int
}

// RetentionConfig holds retention job settings
type RetentionConfig struct {
	Days           int
	Schedule       string // cron spec
	ArchiveEnabled bool
	ArchivePrefix  string
}

// Policy returns the retention policy for the audit package
func (r RetentionConfig) Policy() audit.RetentionPolicy {
	return audit.RetentionPolicy{
		RetentionDays:  r.Days,
		ArchiveEnabled: r.ArchiveEnabled,
		ArchivePrefix:  r.ArchivePrefix,
	}
}

// IdentityConfig holds bearer token verification settings
type IdentityConfig struct {
	OIDCIssuer   string
	OIDCClientID string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSamplingRate   float64
}

// OTel returns the OpenTelemetry bootstrap config
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Endpoint:       o.OTelEndpoint,
		Insecure:       o.OTelInsecure,
		SamplingRate:   o.OTelSamplingRate,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Audit:         loadAuditConfig(),
		Retention:     loadRetentionConfig(),
		Identity:      loadIdentityConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CHRONICLE_HOST", "0.0.0.0"),
		Port:            getEnv("CHRONICLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CHRONICLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CHRONICLE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CHRONICLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CHRONICLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CHRONICLE_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Driver = getEnv("CHRONICLE_DB_DRIVER", cfg.Driver)
	cfg.PrimaryURL = getEnv("CHRONICLE_DB_URL", "")
	cfg.AuditURL = getEnv("CHRONICLE_AUDIT_DB_URL", "")
	if maxConns := getEnvInt("CHRONICLE_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("CHRONICLE_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("CHRONICLE_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	// S3 config
	cfg.S3Endpoint = getEnv("CHRONICLE_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("CHRONICLE_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("CHRONICLE_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("CHRONICLE_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("CHRONICLE_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("CHRONICLE_S3_USE_PATH_STYLE", false)

	// Redis config
	cfg.RedisURL = getEnv("CHRONICLE_REDIS_URL", "")
	cfg.RedisPassword = getEnv("CHRONICLE_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("CHRONICLE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if poolSize := getEnvInt("CHRONICLE_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	return cfg
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		ManualEntities:      getEnvList("CHRONICLE_AUDIT_MANUAL_ENTITIES"),
		PolicyFile:          getEnv("CHRONICLE_AUDIT_POLICY_FILE", ""),
		Timeout:             getEnvDuration("CHRONICLE_AUDIT_TIMEOUT", 0),
		ResolutionCacheSize: getEnvInt("CHRONICLE_AUDIT_RESOLUTION_CACHE", 1024),
	}
}

func loadRetentionConfig() RetentionConfig {
	defaults := audit.DefaultRetentionPolicy()
	return RetentionConfig{
		Days:           getEnvInt("CHRONICLE_RETENTION_DAYS", defaults.RetentionDays),
		Schedule:       getEnv("CHRONICLE_RETENTION_SCHEDULE", "@daily"),
		ArchiveEnabled: getEnvBool("CHRONICLE_ARCHIVE_ENABLED", defaults.ArchiveEnabled),
		ArchivePrefix:  getEnv("CHRONICLE_ARCHIVE_PREFIX", defaults.ArchivePrefix),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		OIDCIssuer:   getEnv("CHRONICLE_OIDC_ISSUER", ""),
		OIDCClientID: getEnv("CHRONICLE_OIDC_CLIENT_ID", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("CHRONICLE_LOG_LEVEL", "info"),
		MetricsEnabled:     getEnvBool("CHRONICLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CHRONICLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CHRONICLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CHRONICLE_OTEL_SERVICE_NAME", "chronicle"),
		OTelServiceVersion: getEnv("CHRONICLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CHRONICLE_OTEL_INSECURE", true),
		OTelSamplingRate:   getEnvFloat("CHRONICLE_OTEL_SAMPLING_RATE", 1.0),
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

	switch c.Storage.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Storage.Driver)
	}
	if c.Storage.PrimaryURL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Audit.Timeout < 0 {
		return fmt.Errorf("audit timeout must not be negative")
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("retention days must not be negative")
	}
	if c.Retention.ArchiveEnabled && c.Storage.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when archiving is enabled")
	}

	if (c.Identity.OIDCIssuer == "") != (c.Identity.OIDCClientID == "") {
		return fmt.Errorf("OIDC issuer and client id must be set together")
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

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// getEnvList returns a comma separated environment variable as a trimmed list
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
