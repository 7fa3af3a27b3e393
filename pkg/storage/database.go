package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

// Connections holds the primary database handle and the separate handle
// used by the audit store. The two never share a pool, so audit writes
// cannot join or starve the caller's transaction.
type Connections struct {
	Primary *sql.DB
	Audit   *sql.DB
	Dialect uow.Dialect
}

// Open opens and pings the primary and audit databases
func Open(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*Connections, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dialect, err := uow.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	primary, err := OpenDB(ctx, cfg.Driver, cfg.PrimaryURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary database: %w", err)
	}

	audit, err := OpenDB(ctx, cfg.Driver, cfg.AuditDatabaseURL(), cfg)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"driver":         cfg.Driver,
		"separate_audit": cfg.AuditURL != "" && cfg.AuditURL != cfg.PrimaryURL,
	}).Info("database connections initialized")

	return &Connections{Primary: primary, Audit: audit, Dialect: dialect}, nil
}

// OpenDB opens a pooled handle and verifies it with a ping
func OpenDB(ctx context.Context, driver, url string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// HealthCheck pings both handles
func (c *Connections) HealthCheck(ctx context.Context) error {
	if err := c.Primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary database unhealthy: %w", err)
	}
	if err := c.Audit.PingContext(ctx); err != nil {
		return fmt.Errorf("audit database unhealthy: %w", err)
	}
	return nil
}

// Close closes both handles
func (c *Connections) Close() error {
	var errs []error
	if err := c.Primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	if err := c.Audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}
	return errors.Join(errs...)
}
