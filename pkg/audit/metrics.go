package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for audit_interceptor_mutations_total
const (
	OutcomeAudited   = "audited"
	OutcomeNoPolicy  = "no_policy"
	OutcomeUnchanged = "unchanged"
	OutcomePolicy    = "policy"
	OutcomeSelfAudit = "self_audit"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Failure stages for audit_interceptor_failures_total
const (
	StageActor   = "actor"
	StageBuild   = "build"
	StagePersist = "persist"
)

// Metrics holds audit Prometheus metrics. A nil *Metrics is a no-op.
type Metrics struct {
	MutationsTotal      *prometheus.CounterVec
	FailuresTotal       *prometheus.CounterVec
	InterceptorDuration prometheus.Histogram
	StoreAppendsTotal   *prometheus.CounterVec
	QueryErrorsTotal    *prometheus.CounterVec
	RetentionPurged     prometheus.Counter
}

// NewMetrics creates and registers audit metrics. A nil registerer skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_interceptor_mutations_total",
				Help: "Pending mutations inspected by the audit interceptor, by outcome",
			},
			[]string{"entity", "outcome"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_interceptor_failures_total",
				Help: "Audit failures discarded by the interceptor",
			},
			[]string{"stage"},
		),
		InterceptorDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audit_interceptor_duration_seconds",
				Help:    "Time spent auditing a unit of work before commit",
				Buckets: prometheus.DefBuckets,
			},
		),
		StoreAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_store_appends_total",
				Help: "Audit event appends by status",
			},
			[]string{"status"},
		),
		QueryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_query_errors_total",
				Help: "Audit query failures by operation",
			},
			[]string{"op"},
		),
		RetentionPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_retention_purged_total",
				Help: "Audit events removed by retention",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.MutationsTotal,
			m.FailuresTotal,
			m.InterceptorDuration,
			m.StoreAppendsTotal,
			m.QueryErrorsTotal,
			m.RetentionPurged,
		)
	}

	return m
}

func (m *Metrics) mutation(entity, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(entity, outcome).Inc()
}

func (m *Metrics) failure(stage string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) observeDuration(start time.Time) {
	if m == nil {
		return
	}
	m.InterceptorDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) appended(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.StoreAppendsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) queryError(op string) {
	if m == nil {
		return
	}
	m.QueryErrorsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) purged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionPurged.Add(float64(n))
}
