package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionClosed is returned by operations on a closed session
	ErrSessionClosed = errors.New("session is closed")

	// ErrNoRowsAffected is returned when an update or delete matched no row
	ErrNoRowsAffected = errors.New("no rows affected")
)

// Session tracks entities and commits their changes in one transaction
type Session struct {
	id      uuid.UUID
	manager *Manager

	entries map[any]*Entry
	order   []*Entry
	closed  bool
}

// ID returns the session identifier
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Manager returns the manager that opened this session
func (s *Session) Manager() *Manager {
	return s.manager
}

// Add tracks a new entity to be inserted
func (s *Session) Add(entity any) error {
	return s.track(entity, Added)
}

// Attach tracks an existing entity as Unchanged
func (s *Session) Attach(entity any) error {
	return s.track(entity, Unchanged)
}

// Update marks an entity as modified, attaching it when untracked
func (s *Session) Update(entity any) error {
	if err := s.check(entity); err != nil {
		return err
	}
	if e, ok := s.entries[entity]; ok {
		if e.state == Unchanged {
			e.state = Modified
		}
		return nil
	}
	return s.track(entity, Modified)
}

// Remove marks an entity for deletion. A pending insert is simply dropped.
func (s *Session) Remove(entity any) error {
	if err := s.check(entity); err != nil {
		return err
	}
	if e, ok := s.entries[entity]; ok {
		if e.state == Added {
			s.Detach(entity)
			return nil
		}
		e.state = Deleted
		return nil
	}
	return s.track(entity, Deleted)
}

// Detach stops tracking an entity
func (s *Session) Detach(entity any) {
	if s.check(entity) != nil {
		return
	}
	e, ok := s.entries[entity]
	if !ok {
		return
	}
	e.state = Detached
	delete(s.entries, entity)
	for i, o := range s.order {
		if o == e {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Entry returns the tracking entry for an entity
func (s *Session) Entry(entity any) (*Entry, bool) {
	if s.check(entity) != nil {
		return nil, false
	}
	e, ok := s.entries[entity]
	return e, ok
}

// Entries returns all tracked entries in the order they were first tracked
func (s *Session) Entries() []*Entry {
	out := make([]*Entry, len(s.order))
	copy(out, s.order)
	return out
}

// DetectChanges compares Unchanged entries against their snapshots
func (s *Session) DetectChanges() {
	for _, e := range s.order {
		e.detectChanges()
	}
}

// HasChanges reports whether a commit would write anything
func (s *Session) HasChanges() bool {
	s.DetectChanges()
	for _, e := range s.order {
		if e.state.Pending() {
			return true
		}
	}
	return false
}

// Close releases tracked entities; further use returns ErrSessionClosed
func (s *Session) Close() {
	s.closed = true
	s.entries = nil
	s.order = nil
}

// Commit runs interceptors and writes all pending changes in one transaction.
// It returns the number of entities written.
func (s *Session) Commit(ctx context.Context) (int, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}

	s.manager.runInterceptors(s, func(i SaveChangesInterceptor) {
		i.SavingChangesContext(ctx, s)
	})
	return s.flush(ctx)
}

// Save is the blocking form of Commit. It runs the blocking interceptor hook
// and writes with a background context.
func (s *Session) Save() (int, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}

	s.manager.runInterceptors(s, func(i SaveChangesInterceptor) {
		i.SavingChanges(s)
	})
	return s.flush(context.Background())
}

// check rejects values that cannot be map keys before they reach the tracker
func (s *Session) check(entity any) error {
	if s.closed {
		return ErrSessionClosed
	}
	if v := reflect.ValueOf(entity); !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return ErrNotMapped
	}
	return nil
}

func (s *Session) track(entity any, state EntityState) error {
	if err := s.check(entity); err != nil {
		return err
	}
	if e, ok := s.entries[entity]; ok {
		e.state = state
		return nil
	}

	e, err := newEntry(entity, state)
	if err != nil {
		return err
	}
	s.entries[entity] = e
	s.order = append(s.order, e)
	return nil
}

func (s *Session) flush(ctx context.Context) (int, error) {
	s.DetectChanges()

	var pending []*Entry
	for _, e := range s.order {
		if e.state.Pending() {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	tx, err := s.manager.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, e := range pending {
		if err := s.write(ctx, tx, e); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.manager.logger.WithError(rbErr).WithField("session_id", s.id.String()).
					Error("failed to rollback transaction")
			}
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.acceptChanges(pending)

	s.manager.logger.WithFields(logrus.Fields{
		"session_id": s.id.String(),
		"written":    len(pending),
	}).Debug("session committed")

	return len(pending), nil
}

func (s *Session) write(ctx context.Context, tx *sql.Tx, e *Entry) error {
	switch e.state {
	case Added:
		return s.insert(ctx, tx, e)
	case Modified:
		return s.update(ctx, tx, e)
	case Deleted:
		return s.delete(ctx, tx, e)
	}
	return nil
}

func (s *Session) insert(ctx context.Context, tx *sql.Tx, e *Entry) error {
	d := s.manager.dialect
	m := e.mapping

	var (
		cols         []string
		placeholders []string
		args         []any
	)
	values := m.values(e.value)
	for i, col := range m.Columns {
		if col.Auto && isZero(values[i]) {
			continue
		}
		cols = append(cols, col.Name)
		args = append(args, values[i])
		placeholders = append(placeholders, d.Placeholder(len(args)))
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", m.Table)
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			m.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	}

	key, hasKey := m.Key()
	autoKey := hasKey && key.Auto && !slices.Contains(cols, key.Name)

	if autoKey && d.SupportsReturning() {
		query += " RETURNING " + key.Name
		dest := e.keyDest()
		if err := tx.QueryRowContext(ctx, query, args...).Scan(dest); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", m.Table, err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", m.Table, err)
	}
	if autoKey {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read generated key for %s: %w", m.Table, err)
		}
		e.setKey(id)
	}
	return nil
}

func (s *Session) update(ctx context.Context, tx *sql.Tx, e *Entry) error {
	d := s.manager.dialect
	m := e.mapping

	key, ok := m.Key()
	if !ok {
		return fmt.Errorf("failed to update %s: %w", m.Table, ErrNoPrimaryKey)
	}

	var (
		sets []string
		args []any
		pk   any
	)
	values := m.values(e.value)
	for i, col := range m.Columns {
		if col.Name == key.Name {
			pk = values[i]
			continue
		}
		args = append(args, values[i])
		sets = append(sets, col.Name+" = "+d.Placeholder(len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, pk)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		m.Table, strings.Join(sets, ", "), key.Name, d.Placeholder(len(args)))

	return s.execOne(ctx, tx, "update", m.Table, query, args...)
}

func (s *Session) delete(ctx context.Context, tx *sql.Tx, e *Entry) error {
	m := e.mapping

	key, ok := m.Key()
	if !ok {
		return fmt.Errorf("failed to delete from %s: %w", m.Table, ErrNoPrimaryKey)
	}
	pk := fieldValue(e.value, key.index)

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", m.Table, key.Name, s.manager.dialect.Placeholder(1))
	return s.execOne(ctx, tx, "delete from", m.Table, query, pk)
}

func (s *Session) execOne(ctx context.Context, tx *sql.Tx, verb, table, query string, args ...any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", verb, table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", verb, table, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s %s: %w", verb, table, ErrNoRowsAffected)
	}
	return nil
}

func (s *Session) acceptChanges(written []*Entry) {
	for _, e := range written {
		if e.state == Deleted {
			s.Detach(e.entity)
			continue
		}
		e.state = Unchanged
		e.takeSnapshot()
	}
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}
