package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/greenearth/esingest/enrich"
)

// EnrichCollector accumulates cumulative counters across EnrichAsync runs
// for one enrichment loop. Callers record each run's result with Observe;
// the collector itself never calls EnrichAsync.
type EnrichCollector struct {
	labels prometheus.Labels

	candidates atomic.Int64
	enriched atomic.Int64
	failed atomic.Int64
	runs atomic.Int64
	lastRunReachedLimit atomic.Bool

	descCandidates *prometheus.Desc
	descEnriched *prometheus.Desc
	descFailed *prometheus.Desc
	descRuns *prometheus.Desc
	descReachedLimit *prometheus.Desc
}

// NewEnrichCollector builds a collector for one named enrichment loop (the
// lookup index it maintains, typically).
func NewEnrichCollector(lookupIndex string) *EnrichCollector {
	constLabels := prometheus.Labels{"lookup_index": lookupIndex}
	return &EnrichCollector{
		labels: constLabels,
		descCandidates: prometheus.NewDesc(
			"esingest_enrich_candidates_total",
			"Documents examined by a staleness sweep across all runs.",
			nil, constLabels,
		),
		descEnriched: prometheus.NewDesc(
			"esingest_enrich_enriched_total",
			"Documents successfully re-enriched across all runs.",
			nil, constLabels,
		),
		descFailed: prometheus.NewDesc(
			"esingest_enrich_failed_total",
			"Documents whose inference call failed across all runs.",
			nil, constLabels,
		),
		descRuns: prometheus.NewDesc(
			"esingest_enrich_runs_total",
			"Completed EnrichAsync runs.",
			nil, constLabels,
		),
		descReachedLimit: prometheus.NewDesc(
			"esingest_enrich_reached_limit",
			"Whether the most recent run stopped early at MaxEnrichmentsPerRun.",
			nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *EnrichCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descCandidates
	ch <- c.descEnriched
	ch <- c.descFailed
	ch <- c.descRuns
	ch <- c.descReachedLimit
}

// Collect implements prometheus.Collector.
func (c *EnrichCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.descCandidates, prometheus.CounterValue, float64(c.candidates.Load()))
	ch <- prometheus.MustNewConstMetric(c.descEnriched, prometheus.CounterValue, float64(c.enriched.Load()))
	ch <- prometheus.MustNewConstMetric(c.descFailed, prometheus.CounterValue, float64(c.failed.Load()))
	ch <- prometheus.MustNewConstMetric(c.descRuns, prometheus.CounterValue, float64(c.runs.Load()))

	reached := 0.0
	if c.lastRunReachedLimit.Load() {
		reached = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.descReachedLimit, prometheus.GaugeValue, reached)
}

// Observe folds one EnrichAsync result into the running totals.
func (c *EnrichCollector) Observe(result enrich.Result) {
	c.candidates.Add(int64(result.TotalCandidates))
	c.enriched.Add(int64(result.Enriched))
	c.failed.Add(int64(result.Failed))
	c.runs.Add(1)
	c.lastRunReachedLimit.Store(result.ReachedLimit)
}
