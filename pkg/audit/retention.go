package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Archiver stores expiring events before they are purged.
// storage.S3Client satisfies it.
type Archiver interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// PurgeableStore is the part of DBStore retention needs
type PurgeableStore interface {
	Scan(ctx context.Context, q *Query) iter.Seq2[*AuditEvent, error]
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Retention archives and purges events older than the policy allows
type Retention struct {
	store    PurgeableStore
	archiver Archiver
	policy   RetentionPolicy
	logger   logrus.FieldLogger
	metrics  *Metrics
	now      func() time.Time
}

// RetentionOption configures a Retention job
type RetentionOption func(*Retention)

// WithArchiver sets the archive destination
func WithArchiver(a Archiver) RetentionOption {
	return func(r *Retention) {
		r.archiver = a
	}
}

// WithRetentionLogger sets the retention logger
func WithRetentionLogger(logger logrus.FieldLogger) RetentionOption {
	return func(r *Retention) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRetentionMetrics counts purged events
func WithRetentionMetrics(m *Metrics) RetentionOption {
	return func(r *Retention) {
		r.metrics = m
	}
}

// WithRetentionClock overrides the clock used to compute the cutoff
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(r *Retention) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRetention creates a retention job
func NewRetention(store PurgeableStore, policy RetentionPolicy, opts ...RetentionOption) (*Retention, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store is required")
	}

	r := &Retention{
		store:  store,
		policy: policy,
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if policy.ArchiveEnabled && r.archiver == nil {
		return nil, fmt.Errorf("archiving is enabled but no archiver is configured")
	}
	return r, nil
}

// Run archives (when enabled) and purges expired events, returning the number purged.
// Nothing is purged if archiving fails.
func (r *Retention) Run(ctx context.Context) (int64, error) {
	if r.policy.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := r.now().UTC().AddDate(0, 0, -r.policy.RetentionDays)
	logger := r.logger.WithField("cutoff", cutoff.Format(time.RFC3339))

	if r.policy.ArchiveEnabled {
		archived, key, err := r.archive(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		logger.WithFields(logrus.Fields{
			"archived": archived,
			"key":      key,
		}).Info("archived expiring audit events")
	}

	// archive covers time_stamp <= cutoff, purge removes time_stamp < cutoff
	purged, err := r.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	r.metrics.purged(purged)
	return purged, nil
}

func (r *Retention) archive(ctx context.Context, cutoff time.Time) (int, string, error) {
	var events []*AuditEvent
	for event, err := range r.store.Scan(ctx, &Query{Until: &cutoff, OrderBy: "id"}) {
		if err != nil {
			return 0, "", fmt.Errorf("failed to read expiring audit events: %w", err)
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return 0, "", nil
	}

	data, err := exportNDJSON(events)
	if err != nil {
		return 0, "", err
	}

	key := fmt.Sprintf("%s/audit-events-%s.ndjson", r.policy.ArchivePrefix, cutoff.Format("20060102T150405Z"))
	if err := r.archiver.PutObject(ctx, key, bytes.NewReader(data), "application/x-ndjson"); err != nil {
		return 0, "", fmt.Errorf("failed to archive audit events: %w", err)
	}
	return len(events), key, nil
}

// Schedule registers the job on a cron scheduler
func (r *Retention) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := r.Run(context.Background()); err != nil {
			r.logger.WithError(err).Error("audit retention failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return id, nil
}
