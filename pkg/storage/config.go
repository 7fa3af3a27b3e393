package storage

import "time"

// Config holds connection settings for the databases, Redis and S3
type Config struct {
	// Database config
	Driver      string // "postgres" or "sqlite3"
	PrimaryURL  string
	AuditURL    string // defaults to PrimaryURL, always opened as its own handle
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          "postgres",
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     30 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		S3Region:        "us-east-1",
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
	}
}

// AuditDatabaseURL returns the audit store URL, falling back to the primary
func (c Config) AuditDatabaseURL() string {
	if c.AuditURL != "" {
		return c.AuditURL
	}
	return c.PrimaryURL
}
