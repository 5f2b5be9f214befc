package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the entity store. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Pipeline metrics
	OperationsTotal      *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	BatchCommitsTotal    *prometheus.CounterVec
	ClaimReleaseFailures prometheus.Counter
	RollbacksTotal       *prometheus.CounterVec
	VersionsPrunedTotal  prometheus.Counter
	EntityCacheLookups   *prometheus.CounterVec

	// Repair metrics
	RepairScheduledTotal   *prometheus.CounterVec
	RepairDeliveriesTotal  *prometheus.CounterVec
	RepairSkippedTotal     *prometheus.CounterVec
	RepairDeliveryDuration *prometheus.HistogramVec
	RepairOutstanding      prometheus.Gauge
	RepairCycleDuration    prometheus.Histogram

	// Index metrics
	IndexNotificationsTotal *prometheus.CounterVec
	IndexRefreshDuration    prometheus.Histogram
}

// NewMetrics creates the metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "entitystore",
			Name:      "operations_total",
			Help:      "Total number of pipeline operations by outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pairdb",
			Subsystem: "entitystore",
			Name:      "operation_duration_seconds",
			Help:      "Pipeline operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		BatchCommitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "entitystore",
			Name:      "batch_commits_total",
			Help:      "Total number of mutation batch executions",
		}, []string{"outcome"}),
		ClaimReleaseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "entitystore",
			Name:      "claim_release_failures_total",
			Help:      "Unique claims that could not be looked up or released during delete",
		}),
		RollbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "entitystore",
			Name:      "rollbacks_total",
			Help:      "Best-effort removals of STARTED log entries after a failed write",
		}, []string{"outcome"}),
		VersionsPrunedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "entitystore",
			Name:      "versions_pruned_total",
			Help:      "Superseded entity version rows physically removed",
		}),
		EntityCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "cache",
			Name:      "entity_lookups_total",
			Help:      "Entity cache lookups by result",
		}, []string{"result"}),

		RepairScheduledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "repair",
			Name:      "scheduled_total",
			Help:      "Repair messages scheduled",
		}, []string{"kind"}),
		RepairDeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "repair",
			Name:      "deliveries_total",
			Help:      "Repair message deliveries by mode and outcome",
		}, []string{"kind", "mode", "outcome"}),
		RepairSkippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "repair",
			Name:      "immediate_attempts_skipped_total",
			Help:      "Immediate repair attempts skipped because the worker pool was saturated",
		}, []string{"kind"}),
		RepairDeliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pairdb",
			Subsystem: "repair",
			Name:      "delivery_duration_seconds",
			Help:      "Repair handler latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		RepairOutstanding: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pairdb",
			Subsystem: "repair",
			Name:      "outstanding_messages",
			Help:      "Repair messages not yet acknowledged",
		}),
		RepairCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pairdb",
			Subsystem: "repair",
			Name:      "verification_cycle_duration_seconds",
			Help:      "Duration of one verification cycle",
			Buckets:   prometheus.DefBuckets,
		}),

		IndexNotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "index",
			Name:      "notifications_total",
			Help:      "Search index notifications by action and outcome",
		}, []string{"action", "outcome"}),
		IndexRefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pairdb",
			Subsystem: "index",
			Name:      "refresh_duration_seconds",
			Help:      "Time until a refresh probe became searchable",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordOperation records one pipeline operation
func (m *Metrics) RecordOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordBatchCommit(err error) {
	if m == nil {
		return
	}
	m.BatchCommitsTotal.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) RecordClaimReleaseFailure() {
	if m == nil {
		return
	}
	m.ClaimReleaseFailures.Inc()
}

func (m *Metrics) RecordRollback(err error) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) RecordVersionsPruned(n int) {
	if m == nil {
		return
	}
	m.VersionsPrunedTotal.Add(float64(n))
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EntityCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRepairScheduled(kind string) {
	if m == nil {
		return
	}
	m.RepairScheduledTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRepairSkipped(kind string) {
	if m == nil {
		return
	}
	m.RepairSkippedTotal.WithLabelValues(kind).Inc()
}

// RecordRepairDelivery records a handler run; mode is "immediate" or "redelivery"
func (m *Metrics) RecordRepairDelivery(kind, mode string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.RepairDeliveriesTotal.WithLabelValues(kind, mode, outcome(err)).Inc()
	m.RepairDeliveryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetRepairOutstanding(n int64) {
	if m == nil {
		return
	}
	m.RepairOutstanding.Set(float64(n))
}

func (m *Metrics) RecordRepairCycle(start time.Time) {
	if m == nil {
		return
	}
	m.RepairCycleDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordIndexNotification(action string, err error) {
	if m == nil {
		return
	}
	m.IndexNotificationsTotal.WithLabelValues(action, outcome(err)).Inc()
}

func (m *Metrics) RecordIndexRefresh(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.IndexRefreshDuration.Observe(elapsed.Seconds())
}
