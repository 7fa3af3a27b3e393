package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

// Interceptor records an AuditEvent for every audited mutation of a session
// before the session commits. It implements uow.SaveChangesInterceptor.
//
// Auditing is best effort: failures are logged and counted but never reach
// the committing caller, and the primary commit always proceeds. One
// Interceptor is shared by all sessions; it keeps no per-call state.
type Interceptor struct {
	registry *Registry
	store    RecordStore
	actors   ActorProvider
	logger   logrus.FieldLogger
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time
	timeout  time.Duration
}

var _ uow.SaveChangesInterceptor = (*Interceptor)(nil)

// InterceptorOption configures an Interceptor
type InterceptorOption func(*Interceptor)

// WithActorProvider sets the source of actor identity
func WithActorProvider(p ActorProvider) InterceptorOption {
	return func(i *Interceptor) {
		if p != nil {
			i.actors = p
		}
	}
}

// WithLogger sets the interceptor logger
func WithLogger(logger logrus.FieldLogger) InterceptorOption {
	return func(i *Interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithMetrics records mutation outcomes
func WithMetrics(m *Metrics) InterceptorOption {
	return func(i *Interceptor) {
		i.metrics = m
	}
}

// WithTracer overrides the OpenTelemetry tracer
func WithTracer(t trace.Tracer) InterceptorOption {
	return func(i *Interceptor) {
		if t != nil {
			i.tracer = t
		}
	}
}

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) InterceptorOption {
	return func(i *Interceptor) {
		if now != nil {
			i.now = now
		}
	}
}

// WithAuditTimeout bounds a single audit pass
func WithAuditTimeout(d time.Duration) InterceptorOption {
	return func(i *Interceptor) {
		i.timeout = d
	}
}

// NewInterceptor creates an interceptor and builds the registry
func NewInterceptor(registry *Registry, store RecordStore, opts ...InterceptorOption) (*Interceptor, error) {
	if registry == nil {
		return nil, errors.New("audit registry is required")
	}
	if store == nil {
		return nil, errors.New("audit record store is required")
	}

	i := &Interceptor{
		registry: registry,
		store:    store,
		actors:   ContextActorProvider{},
		logger:   logrus.StandardLogger(),
		tracer:   otel.Tracer("chronicle/audit/interceptor"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	registry.Build()
	return i, nil
}

// SavingChangesContext audits the session's pending mutations
func (i *Interceptor) SavingChangesContext(ctx context.Context, s *uow.Session) {
	if ctx == nil {
		ctx = context.Background()
	}
	i.audit(ctx, s)
}

// SavingChanges is the blocking form kept for callers without a context.
// It runs the same pass synchronously on the calling goroutine.
func (i *Interceptor) SavingChanges(s *uow.Session) {
	i.audit(context.Background(), s)
}

func (i *Interceptor) audit(ctx context.Context, s *uow.Session) {
	if s == nil {
		return
	}

	logger := i.logger.WithField("session_id", s.ID().String())

	if i.store.Owns(s) {
		logger.Warn("skipping audit of the audit store's own session")
		i.metrics.mutation("", OutcomeSelfAudit)
		return
	}

	start := time.Now()
	defer i.metrics.observeDuration(start)

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	ctx, span := i.tracer.Start(ctx, "audit.SavingChanges",
		trace.WithAttributes(attribute.String("uow.session_id", s.ID().String())),
	)
	defer span.End()

	s.DetectChanges()
	entries := s.Entries()

	counts := make(map[string]int)
	for idx, e := range entries {
		if err := ctx.Err(); err != nil {
			abandoned := i.abandon(entries[idx:])
			counts[OutcomeCancelled] += abandoned
			logger.WithError(err).WithField("abandoned", abandoned).
				Warn("audit cancelled, remaining mutations not recorded")
			break
		}
		counts[i.auditEntry(ctx, logger, e)]++
	}

	span.SetAttributes(
		attribute.Int("audit.entries", len(entries)),
		attribute.Int("audit.audited", counts[OutcomeAudited]),
		attribute.Int("audit.failed", counts[OutcomeFailed]),
	)
}

// auditEntry decides and records one mutation. Errors and panics stop here.
func (i *Interceptor) auditEntry(ctx context.Context, logger logrus.FieldLogger, e *uow.Entry) (outcome string) {
	entity := e.Type().Name()
	state := e.State()
	stage := StageBuild

	entryLogger := logger.WithFields(logrus.Fields{
		"entity": entity,
		"state":  state.String(),
	})

	defer func() {
		if r := recover(); r != nil {
			i.discard(entryLogger, stage, fmt.Errorf("panic: %v", r))
			outcome = OutcomeFailed
		}
		i.metrics.mutation(entity, outcome)
	}()

	if !state.Pending() {
		return OutcomeUnchanged
	}

	policy, ok := i.registry.Resolve(e.Type())
	if !ok {
		return OutcomeNoPolicy
	}
	if !policy.Allows(state) {
		entryLogger.Debug("audit policy excludes mutation")
		return OutcomePolicy
	}

	stage = StageActor
	user, err := i.actors.Actor(ctx)
	if err != nil {
		i.discard(entryLogger, stage, err)
		return OutcomeFailed
	}
	if user == "" {
		user = AnonymousUser
	}

	stage = StageBuild
	event := i.buildEvent(e, user)

	stage = StagePersist
	if err := i.store.Append(ctx, event); err != nil {
		i.discard(entryLogger, stage, err)
		return OutcomeFailed
	}

	entryLogger.WithField("event_id", event.ID).Debug("mutation audited")
	return OutcomeAudited
}

func (i *Interceptor) buildEvent(e *uow.Entry, user string) *AuditEvent {
	event := &AuditEvent{
		EntityName: e.Type().Name(),
		ActionType: ActionFor(e.State()),
		UserName:   user,
		TimeStamp:  i.now().UTC(),
	}

	if key, ok := e.PrimaryKey(); ok && key != nil {
		event.EntityID = fmt.Sprint(key)
	}

	props := e.Properties()
	event.Changes = make(Changes, 0, len(props))
	for _, p := range props {
		event.Changes.Set(p.Name, p.Value)
	}

	return event
}

func (i *Interceptor) discard(logger logrus.FieldLogger, stage string, err error) {
	i.metrics.failure(stage)
	logger.WithError(err).WithField("stage", stage).Error("audit failed, mutation not recorded")
}

// abandon counts pending mutations left unprocessed after cancellation
func (i *Interceptor) abandon(entries []*uow.Entry) int {
	n := 0
	for _, e := range entries {
		if !e.State().Pending() {
			continue
		}
		n++
		i.metrics.mutation(e.Type().Name(), OutcomeCancelled)
	}
	return n
}
