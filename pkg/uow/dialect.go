package uow

import (
	"fmt"
	"strconv"
)

// Dialect captures the SQL differences between supported drivers
type Dialect interface {
	// Name returns the database/sql driver name
	Name() string

	// Placeholder returns the bind parameter for the n-th argument (1-based)
	Placeholder(n int) string

	// SupportsReturning reports whether INSERT ... RETURNING is available
	SupportsReturning() bool
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) SupportsReturning() bool { return true }

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) SupportsReturning() bool { return false }

var (
	// Postgres is the dialect for github.com/lib/pq
	Postgres Dialect = postgresDialect{}

	// SQLite is the dialect for github.com/mattn/go-sqlite3
	SQLite Dialect = sqliteDialect{}
)

var dialects = map[string]Dialect{
	"postgres": Postgres,
	"pq":       Postgres,
	"sqlite3":  SQLite,
	"sqlite":   SQLite,
}

// DialectFor resolves a dialect from a driver name
func DialectFor(driver string) (Dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
	return d, nil
}
