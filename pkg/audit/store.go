package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

var storeTracer = otel.Tracer("chronicle/audit/store")

// RecordStore is append-only storage for audit events
type RecordStore interface {
	// Append persists a new event in its own session and assigns its ID
	Append(ctx context.Context, event *AuditEvent) error

	// Scan streams events matching q. Each range over the result runs the query again.
	Scan(ctx context.Context, q *Query) iter.Seq2[*AuditEvent, error]

	// Get retrieves a specific audit event by ID
	Get(ctx context.Context, id int64) (*AuditEvent, error)

	// Stats summarizes events matching q
	Stats(ctx context.Context, q *Query) (*Stats, error)

	// Owns reports whether a session writes to this store
	Owns(s *uow.Session) bool
}

const eventColumns = "id, entity_name, action_type, user_name, time_stamp, entity_id, changes"

// orderColumns lists the columns accepted by Query.OrderBy
var orderColumns = map[string]string{
	"id":          "id",
	"entity_name": "entity_name",
	"action_type": "action_type",
	"user_name":   "user_name",
	"time_stamp":  "time_stamp",
	"timestamp":   "time_stamp",
	"entity_id":   "entity_id",
}

// DBStore implements RecordStore over database/sql. It owns a unit-of-work
// manager on its own handle, so audit writes never join a caller's transaction.
type DBStore struct {
	db      *sql.DB
	dialect uow.Dialect
	manager *uow.Manager
	logger  logrus.FieldLogger
	metrics *Metrics
}

// StoreOption configures a DBStore
type StoreOption func(*DBStore)

// WithStoreLogger sets the store logger
func WithStoreLogger(logger logrus.FieldLogger) StoreOption {
	return func(s *DBStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreMetrics records append outcomes
func WithStoreMetrics(m *Metrics) StoreOption {
	return func(s *DBStore) {
		s.metrics = m
	}
}

// NewDBStore creates a new database-backed audit store
func NewDBStore(db *sql.DB, dialect uow.Dialect, opts ...StoreOption) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &DBStore{
		db:      db,
		dialect: dialect,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	manager, err := uow.NewManager(db, dialect, uow.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit unit of work: %w", err)
	}
	s.manager = manager

	return s, nil
}

// Manager returns the store's own unit-of-work manager
func (s *DBStore) Manager() *uow.Manager {
	return s.manager
}

// DB returns the audit database handle
func (s *DBStore) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the audit_events table and its indexes if they don't exist
func (s *DBStore) EnsureSchema(ctx context.Context) error {
	var statements []string
	lookupKey := "changes"
	switch s.dialect {
	case uow.Postgres:
		statements = []string{
			`CREATE TABLE IF NOT EXISTS audit_events (
				id BIGSERIAL PRIMARY KEY,
				entity_name VARCHAR(255) NOT NULL,
				action_type VARCHAR(16) NOT NULL,
				user_name VARCHAR(255) NOT NULL,
				time_stamp TIMESTAMP WITH TIME ZONE NOT NULL,
				entity_id VARCHAR(255) NOT NULL DEFAULT '',
				changes JSONB NOT NULL
			)`,
		}
		// btree entries are limited to about a third of a page
		lookupKey = "md5(changes::text)"
	default:
		statements = []string{
			`CREATE TABLE IF NOT EXISTS audit_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				entity_name TEXT NOT NULL,
				action_type TEXT NOT NULL,
				user_name TEXT NOT NULL,
				time_stamp TIMESTAMP NOT NULL,
				entity_id TEXT NOT NULL DEFAULT '',
				changes TEXT NOT NULL
			)`,
		}
	}

	statements = append(statements,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_lookup
			ON audit_events(`+lookupKey+`, user_name, entity_name, entity_id, action_type, time_stamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_time_stamp ON audit_events(time_stamp)`,
	)

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure audit_events table: %w", err)
		}
	}
	return nil
}

// Append persists an event through a fresh session on the store's manager
func (s *DBStore) Append(ctx context.Context, event *AuditEvent) (err error) {
	ctx, span := storeTracer.Start(ctx, "AuditStore.Append",
		trace.WithAttributes(
			attribute.String("audit.entity", event.EntityName),
			attribute.String("audit.action", string(event.ActionType)),
		),
	)
	defer func() {
		s.metrics.appended(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to append audit event")
		}
		span.End()
	}()

	if event.TimeStamp.IsZero() {
		event.TimeStamp = time.Now()
	}
	event.TimeStamp = event.TimeStamp.UTC()
	if event.Changes == nil {
		event.Changes = Changes{}
	}

	session := s.manager.NewSession()
	defer session.Close()

	if err := session.Add(event); err != nil {
		return fmt.Errorf("failed to stage audit event: %w", err)
	}
	if _, err := session.Commit(ctx); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	span.SetAttributes(attribute.Int64("audit.event_id", event.ID))
	return nil
}

// Owns reports whether the session was opened by this store's manager
func (s *DBStore) Owns(session *uow.Session) bool {
	return session != nil && session.Manager() == s.manager
}

// Scan streams events matching q
func (s *DBStore) Scan(ctx context.Context, q *Query) iter.Seq2[*AuditEvent, error] {
	return func(yield func(*AuditEvent, error) bool) {
		query, args, err := s.selectQuery(q)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, span := storeTracer.Start(ctx, "AuditStore.Scan")
		defer span.End()

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			span.RecordError(err)
			yield(nil, fmt.Errorf("failed to query audit events: %w", err))
			return
		}
		defer rows.Close()

		var where func(*AuditEvent) bool
		var limit, offset int
		if q != nil && q.Where != nil {
			where, limit, offset = q.Where, q.Limit, q.Offset
		}

		skipped, emitted := 0, 0
		for rows.Next() {
			event, err := scanEvent(rows)
			if err != nil {
				yield(nil, err)
				return
			}

			if where != nil {
				if !where(event) {
					continue
				}
				if skipped < offset {
					skipped++
					continue
				}
				if limit > 0 && emitted >= limit {
					return
				}
			}

			emitted++
			if !yield(event, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			span.RecordError(err)
			yield(nil, fmt.Errorf("error iterating audit events: %w", err))
		}
	}
}

// Get retrieves a specific audit event by ID
func (s *DBStore) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_events WHERE id = %s", eventColumns, s.dialect.Placeholder(1))

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Stats retrieves audit event statistics for events matching q
func (s *DBStore) Stats(ctx context.Context, q *Query) (*Stats, error) {
	stats := &Stats{
		EventsByEntity: make(map[string]int64),
		EventsByAction: make(map[ActionType]int64),
	}
	if q != nil && (q.Since != nil || q.Until != nil) {
		stats.TimeRange = &TimeRange{}
		if q.Since != nil {
			stats.TimeRange.Start = q.Since.UTC()
		}
		if q.Until != nil {
			stats.TimeRange.End = q.Until.UTC()
		}
	}

	where, args := s.whereClause(q)

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&stats.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get total events: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT user_name) FROM audit_events"+where, args...).Scan(&stats.UniqueUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique users: %w", err)
	}

	byEntity, err := s.countBy(ctx, "entity_name", where, args)
	if err != nil {
		return nil, err
	}
	stats.EventsByEntity = byEntity

	byAction, err := s.countBy(ctx, "action_type", where, args)
	if err != nil {
		return nil, err
	}
	for action, n := range byAction {
		stats.EventsByAction[ActionType(action)] = n
	}

	return stats, nil
}

func (s *DBStore) countBy(ctx context.Context, column, where string, args []any) (map[string]int64, error) {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_events%s GROUP BY %s", column, where, column)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan events by %s: %w", column, err)
		}
		out[key] = count
	}
	return out, rows.Err()
}

// Purge deletes events older than before. Retention is the only caller;
// events are otherwise never removed.
func (s *DBStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	query := "DELETE FROM audit_events WHERE time_stamp < " + s.dialect.Placeholder(1)
	result, err := s.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"before": before.UTC().Format(time.RFC3339),
		"purged": n,
	}).Info("purged audit events")
	return n, nil
}

func (s *DBStore) selectQuery(q *Query) (string, []any, error) {
	where, args := s.whereClause(q)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(eventColumns)
	b.WriteString(" FROM audit_events")
	b.WriteString(where)

	if q == nil {
		return b.String(), args, nil
	}

	if q.OrderBy != "" {
		col, ok := orderColumns[strings.ToLower(q.OrderBy)]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidOrderBy, q.OrderBy)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(col)
		if q.Descending {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	// with an in-process predicate, paging happens after filtering
	if q.Where == nil {
		if q.Limit > 0 {
			args = append(args, q.Limit)
			b.WriteString(" LIMIT " + s.dialect.Placeholder(len(args)))
		}
		if q.Offset > 0 {
			if q.Limit <= 0 && s.dialect != uow.Postgres {
				b.WriteString(" LIMIT -1")
			}
			args = append(args, q.Offset)
			b.WriteString(" OFFSET " + s.dialect.Placeholder(len(args)))
		}
	}

	return b.String(), args, nil
}

func (s *DBStore) whereClause(q *Query) (string, []any) {
	if q == nil {
		return "", nil
	}

	var (
		clauses []string
		args    []any
	)
	add := func(expr string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(expr, s.dialect.Placeholder(len(args))))
	}

	if q.EntityName != "" {
		add("entity_name = %s", q.EntityName)
	}
	if q.EntityID != "" {
		add("entity_id = %s", q.EntityID)
	}
	if q.UserName != "" {
		add("user_name = %s", q.UserName)
	}
	if q.Since != nil {
		add("time_stamp >= %s", q.Since.UTC())
	}
	if q.Until != nil {
		add("time_stamp <= %s", q.Until.UTC())
	}

	if len(q.ActionTypes) > 0 {
		actions := make([]string, len(q.ActionTypes))
		for i, a := range q.ActionTypes {
			actions[i] = string(a)
		}

		if s.dialect == uow.Postgres {
			add("action_type = ANY(%s)", pq.Array(actions))
		} else {
			placeholders := make([]string, len(actions))
			for i, a := range actions {
				args = append(args, a)
				placeholders[i] = s.dialect.Placeholder(len(args))
			}
			clauses = append(clauses, "action_type IN ("+strings.Join(placeholders, ", ")+")")
		}
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*AuditEvent, error) {
	event := &AuditEvent{}
	err := row.Scan(
		&event.ID,
		&event.EntityName,
		&event.ActionType,
		&event.UserName,
		&event.TimeStamp,
		&event.EntityID,
		&event.Changes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}
	event.TimeStamp = event.TimeStamp.UTC()
	return event, nil
}
