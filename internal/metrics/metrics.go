package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks reconciliation cycles, publication and upstream traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	ArtifactsTotal    *prometheus.CounterVec
	UpstreamRetries   *prometheus.CounterVec
	GroupLookupsTotal *prometheus.CounterVec
	RepositoriesGauge prometheus.Gauge
}

// New registers the metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groups_cycles_total",
			Help: "Reconciliation cycles by final status",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "groups_cycle_duration_seconds",
			Help:    "Duration of reconciliation cycles",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		ArtifactsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groups_artifacts_total",
			Help: "Artifacts handed to publication, by outcome (written, unchanged)",
		}, []string{"outcome"}),
		UpstreamRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groups_upstream_retries_total",
			Help: "Rate-limited upstream requests that were retried",
		}, []string{"upstream"}),
		GroupLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groups_group_lookups_total",
			Help: "Live group lookups made while resolving references, by result",
		}, []string{"result"}),
		RepositoriesGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "groups_repositories",
			Help: "Repositories in the last published catalog",
		}),
	}
}

// ObserveCycle records a finished cycle. Call with time.Now() at the start of the cycle.
func (m *Metrics) ObserveCycle(status string, start time.Time) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(time.Since(start).Seconds())
}

// IncArtifact records the outcome of one artifact save
func (m *Metrics) IncArtifact(changed bool) {
	if m == nil {
		return
	}
	outcome := "unchanged"
	if changed {
		outcome = "written"
	}
	m.ArtifactsTotal.WithLabelValues(outcome).Inc()
}

// IncRetry records a retried upstream request
func (m *Metrics) IncRetry(upstream string) {
	if m == nil {
		return
	}
	m.UpstreamRetries.WithLabelValues(upstream).Inc()
}

// IncGroupLookup records a live group lookup
func (m *Metrics) IncGroupLookup(found bool) {
	if m == nil {
		return
	}
	result := "not_found"
	if found {
		result = "found"
	}
	m.GroupLookupsTotal.WithLabelValues(result).Inc()
}

// SetRepositories records the size of the published catalog
func (m *Metrics) SetRepositories(n int) {
	if m == nil {
		return
	}
	m.RepositoriesGauge.Set(float64(n))
}
