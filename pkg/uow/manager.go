package uow

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SaveChangesInterceptor is invoked by a session immediately before it opens
// the commit transaction. Both forms must have the same observable effect.
// Interceptors cannot fail a commit: they return nothing and panics are recovered.
type SaveChangesInterceptor interface {
	// SavingChanges is the blocking form used by Session.Save
	SavingChanges(s *Session)

	// SavingChangesContext is the context-aware form used by Session.Commit
	SavingChangesContext(ctx context.Context, s *Session)
}

// Manager owns a database handle and the interceptors applied to its sessions
type Manager struct {
	db      *sql.DB
	dialect Dialect
	logger  logrus.FieldLogger

	mu           sync.RWMutex
	interceptors []SaveChangesInterceptor
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithInterceptors registers interceptors at construction
func WithInterceptors(interceptors ...SaveChangesInterceptor) Option {
	return func(m *Manager) {
		m.interceptors = append(m.interceptors, interceptors...)
	}
}

// NewManager creates a new unit-of-work manager
func NewManager(db *sql.DB, dialect Dialect, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if dialect == nil {
		return nil, errors.New("dialect is required")
	}

	m := &Manager{
		db:      db,
		dialect: dialect,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AddInterceptor registers an interceptor for all future commits
func (m *Manager) AddInterceptor(i SaveChangesInterceptor) {
	if i == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interceptors = append(m.interceptors, i)
}

// DB returns the underlying database handle
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Dialect returns the SQL dialect
func (m *Manager) Dialect() Dialect {
	return m.dialect
}

// NewSession opens a new session. Sessions hold no database resources until commit.
func (m *Manager) NewSession() *Session {
	return &Session{
		id:      uuid.New(),
		manager: m,
		entries: make(map[any]*Entry),
	}
}

func (m *Manager) snapshotInterceptors() []SaveChangesInterceptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SaveChangesInterceptor, len(m.interceptors))
	copy(out, m.interceptors)
	return out
}

// runInterceptors calls each interceptor, isolating the commit from panics
func (m *Manager) runInterceptors(s *Session, call func(SaveChangesInterceptor)) {
	for _, i := range m.snapshotInterceptors() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithFields(logrus.Fields{
						"session_id": s.id.String(),
						"panic":      r,
					}).Error("save changes interceptor panicked")
				}
			}()
			call(i)
		}()
	}
}
