package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine activity per record kind.
type Metrics struct {
	Saves            *prometheus.CounterVec
	SaveDuration     *prometheus.HistogramVec
	Deletes          *prometheus.CounterVec
	Rejections       *prometheus.CounterVec
	NeighborShifts   *prometheus.CounterVec
	ChildAdjustments *prometheus.CounterVec
	CascadeFailures  *prometheus.CounterVec
	Queries          *prometheus.CounterVec
}

// New registers the engine metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validity_saves_total",
			Help: "Records saved, by kind and outcome (created, updated, discarded)",
		}, []string{"kind", "outcome"}),
		SaveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "validity_save_duration_seconds",
			Help:    "Duration of top-level saves including cascades",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		Deletes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validity_deletes_total",
			Help: "Records deleted, by kind and reason",
		}, []string{"kind", "reason"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validity_rejections_total",
			Help: "Saves refused by a temporal rule, by kind and error code",
		}, []string{"kind", "code"}),
		NeighborShifts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validity_neighbor_shifts_total",
			Help: "Neighbouring records adjusted by the shift strategy, by kind and action",
		}, []string{"kind", "action"}),
		ChildAdjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validity_child_adjustments_total",
			Help: "Child records re-clamped or removed after a parent save",
		}, []string{"kind", "action"}),
		CascadeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validity_cascade_failures_total",
			Help: "Post-save cascade steps that failed, by kind",
		}, []string{"kind"}),
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validity_queries_total",
			Help: "Queries run through the engine, by kind and date mode",
		}, []string{"kind", "mode"}),
	}
}

func (m *Metrics) IncrementSaves(kind, outcome string) {
	m.Saves.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveSaveDuration(kind string, d time.Duration) {
	m.SaveDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncrementDeletes(kind, reason string) {
	m.Deletes.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) IncrementRejections(kind, code string) {
	m.Rejections.WithLabelValues(kind, code).Inc()
}

func (m *Metrics) IncrementNeighborShifts(kind, action string) {
	m.NeighborShifts.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) IncrementChildAdjustments(kind, action string) {
	m.ChildAdjustments.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) IncrementCascadeFailures(kind string) {
	m.CascadeFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementQueries(kind, mode string) {
	m.Queries.WithLabelValues(kind, mode).Inc()
}
