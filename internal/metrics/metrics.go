// Package metrics exposes census statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Census outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Recorder owns the census collectors on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	totalWealth   prometheus.Gauge
	topPrizeSum   prometheus.Gauge
	activeGames   prometheus.Gauge
	runs          *prometheus.CounterVec
	lifecycle     *prometheus.CounterVec
	anomalies     prometheus.Counter
	skipped       prometheus.Counter
	runDuration   prometheus.Histogram
	archivedTotal *prometheus.CounterVec
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		totalWealth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scratchwatch_total_wealth",
			Help: "Remaining prize value across active games after the last committed census",
		}),
		topPrizeSum: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scratchwatch_top_prize_sum",
			Help: "Remaining top-tier prize value across active games",
		}),
		activeGames: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scratchwatch_active_games",
			Help: "Number of active games in the registry",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scratchwatch_census_runs_total",
			Help: "Census runs by outcome",
		}, []string{"outcome"}),
		lifecycle: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scratchwatch_lifecycle_events_total",
			Help: "Lifecycle transitions by kind",
		}, []string{"kind"}),
		anomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "scratchwatch_anomalies_total",
			Help: "Runs whose wealth deviated from the rolling baseline",
		}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "scratchwatch_skipped_records_total",
			Help: "Observed records rejected by validation",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scratchwatch_census_duration_seconds",
			Help:    "Census wall-clock duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		archivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scratchwatch_archive_passes_total",
			Help: "Archival passes by decision",
		}, []string{"decision"}),
	}
}

// ObserveRun records the outcome and duration of one census.
func (r *Recorder) ObserveRun(outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(seconds)
}

// SetSnapshot publishes the committed registry statistics.
func (r *Recorder) SetSnapshot(totalWealth, topPrizeSum decimal.Decimal, activeGames int) {
	if r == nil {
		return
	}
	r.totalWealth.Set(totalWealth.InexactFloat64())
	r.topPrizeSum.Set(topPrizeSum.InexactFloat64())
	r.activeGames.Set(float64(activeGames))
}

// AddLifecycle counts lifecycle events of one kind.
func (r *Recorder) AddLifecycle(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.lifecycle.WithLabelValues(kind).Add(float64(n))
}

// IncAnomaly counts one anomalous run.
func (r *Recorder) IncAnomaly() {
	if r == nil {
		return
	}
	r.anomalies.Inc()
}

// AddSkipped counts rejected records.
func (r *Recorder) AddSkipped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.skipped.Add(float64(n))
}

// ObserveArchive counts an archival pass.
func (r *Recorder) ObserveArchive(changed bool) {
	if r == nil {
		return
	}
	decision := "unchanged"
	if changed {
		decision = "changed"
	}
	r.archivedTotal.WithLabelValues(decision).Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
