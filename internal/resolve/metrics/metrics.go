package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"unify/internal/resolve/models"
)

// Metrics holds all Prometheus metrics for the resolution engine.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	MergesTotal       *prometheus.CounterVec
	CappedMergesTotal prometheus.Counter
	ClustersTotal     prometheus.Counter
	HouseholdsTotal   prometheus.Counter
	BackfillRowsTotal *prometheus.CounterVec
	RunDuration       prometheus.Histogram
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unify_resolution_runs_total",
			Help: "Resolution runs by terminal status.",
		}, []string{"status"}),
		MergesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unify_merges_total",
			Help: "Successful cluster merges by signal method.",
		}, []string{"method"}),
		CappedMergesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unify_capped_merges_total",
			Help: "Merges refused by the cluster size cap.",
		}),
		ClustersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unify_clusters_total",
			Help: "Clusters formed across all runs.",
		}),
		HouseholdsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unify_households_total",
			Help: "Households formed across all runs.",
		}),
		BackfillRowsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unify_backfill_rows_total",
			Help: "Fact rows stamped with a person id, by table.",
		}, []string{"table"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "unify_run_duration_seconds",
			Help:    "Wall time of complete resolution runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// ObserveRun records one completed run's aggregate counts.
func (m *Metrics) ObserveRun(stats *models.RunStats) {
	m.RunsTotal.WithLabelValues("completed").Inc()
	for method, count := range stats.MergesByMethod {
		m.MergesTotal.WithLabelValues(string(method)).Add(float64(count))
	}
	m.CappedMergesTotal.Add(float64(stats.CappedMerges))
	m.ClustersTotal.Add(float64(stats.Clusters))
	m.HouseholdsTotal.Add(float64(stats.Households))
	for table, rows := range stats.BackfillRows {
		m.BackfillRowsTotal.WithLabelValues(table).Add(float64(rows))
	}
	m.RunDuration.Observe(stats.Duration.Seconds())
}

// ObserveFailure records an aborted run.
func (m *Metrics) ObserveFailure() {
	m.RunsTotal.WithLabelValues("failed").Inc()
}
