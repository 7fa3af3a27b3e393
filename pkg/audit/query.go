package audit

import (
	"context"
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"
)

// RepositoryError wraps a failure of a read against the audit store
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("audit repository: %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// QueryService is the read side of the audit trail. Unlike the interceptor,
// it reports every failure to the caller.
type QueryService struct {
	store   RecordStore
	logger  logrus.FieldLogger
	metrics *Metrics
}

// QueryOption configures a QueryService
type QueryOption func(*QueryService)

// WithQueryLogger sets the query logger
func WithQueryLogger(logger logrus.FieldLogger) QueryOption {
	return func(q *QueryService) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithQueryMetrics counts query failures
func WithQueryMetrics(m *Metrics) QueryOption {
	return func(q *QueryService) {
		q.metrics = m
	}
}

// NewQueryService creates a query service over a record store
func NewQueryService(store RecordStore, opts ...QueryOption) *QueryService {
	q := &QueryService{
		store:  store,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// FindAll returns a lazy sequence of events matching q; nil selects all
// events. Nothing runs until the sequence is ranged over, and each range
// queries the store again. A failure is yielded once as a *RepositoryError
// and ends the sequence.
func (s *QueryService) FindAll(ctx context.Context, q *Query) iter.Seq2[*AuditEvent, error] {
	return func(yield func(*AuditEvent, error) bool) {
		for event, err := range s.store.Scan(ctx, q) {
			if err != nil {
				yield(nil, s.wrap("find", err))
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

// List collects FindAll into a slice
func (s *QueryService) List(ctx context.Context, q *Query) ([]*AuditEvent, error) {
	events := make([]*AuditEvent, 0)
	for event, err := range s.FindAll(ctx, q) {
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// Get retrieves a specific audit event by ID. A missing id wraps ErrEventNotFound.
func (s *QueryService) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	event, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return event, nil
}

// Stats retrieves audit event statistics
func (s *QueryService) Stats(ctx context.Context, q *Query) (*Stats, error) {
	stats, err := s.store.Stats(ctx, q)
	if err != nil {
		return nil, s.wrap("stats", err)
	}
	return stats, nil
}

// Export renders events matching q in the given format
func (s *QueryService) Export(ctx context.Context, q *Query, format ExportFormat) ([]byte, error) {
	events, err := s.List(ctx, q)
	if err != nil {
		return nil, err
	}

	data, err := exportEvents(events, format)
	if err != nil {
		return nil, s.wrap("export", err)
	}
	return data, nil
}

func (s *QueryService) wrap(op string, err error) error {
	s.metrics.queryError(op)
	s.logger.WithError(err).WithField("op", op).Warn("audit query failed")
	return &RepositoryError{Op: op, Err: err}
}
