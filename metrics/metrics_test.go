package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenearth/esingest/bulk"
	"github.com/greenearth/esingest/channel"
	"github.com/greenearth/esingest/enrich"
)

func gatherMetric(t *testing.T, c prometheus.Collector, name string) []*dto.Metric {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()
		}
	}
	return nil
}

func metricValue(m *dto.Metric) float64 {
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestChannelCollector_AccumulatesExportOutcomes(t *testing.T) {
	c := NewChannelCollector("posts")

	c.OnExportResponse(&bulk.Response{}, channel.ExportStats{OK: 3, Retryable: 1, Fatal: 2})
	c.OnExportResponse(&bulk.Response{}, channel.ExportStats{OK: 1})
	c.OnExportRetry(nil)

	metrics := gatherMetric(t, c, "esingest_channel_exported_items_total")
	require.Len(t, metrics, 3)

	byOutcome := map[string]float64{}
	for _, m := range metrics {
		byOutcome[labelValue(m, "outcome")] = metricValue(m)
	}
	assert.Equal(t, 4.0, byOutcome["ok"])
	assert.Equal(t, 1.0, byOutcome["retryable"])
	assert.Equal(t, 2.0, byOutcome["fatal"])

	retries := gatherMetric(t, c, "esingest_channel_export_retries_total")
	require.Len(t, retries, 1)
	assert.Equal(t, 1.0, metricValue(retries[0]))
}

func TestChannelCollector_TracksInboundAndActiveExporters(t *testing.T) {
	c := NewChannelCollector("posts")

	c.OnInboundPublish("doc-1")
	c.OnInboundPublish("doc-2")
	c.OnInboundPublishFailure("doc-3", assert.AnError)

	c.OnOutboundChannelStarted(0)
	c.OnOutboundChannelStarted(1)
	c.OnOutboundChannelExited(0)

	inbound := gatherMetric(t, c, "esingest_channel_inbound_writes_total")
	byResult := map[string]float64{}
	for _, m := range inbound {
		byResult[labelValue(m, "result")] = metricValue(m)
	}
	assert.Equal(t, 2.0, byResult["published"])
	assert.Equal(t, 1.0, byResult["failed"])

	active := gatherMetric(t, c, "esingest_channel_active_exporters")
	require.Len(t, active, 1)
	assert.Equal(t, 1.0, metricValue(active[0]))
}

func TestChannelCollector_ConstLabelIdentifiesTheChannel(t *testing.T) {
	c := NewChannelCollector("posts")
	c.OnExportRetry(nil)

	metrics := gatherMetric(t, c, "esingest_channel_export_retries_total")
	require.Len(t, metrics, 1)
	assert.Equal(t, "posts", labelValue(metrics[0], "channel"))
}

func TestEnrichCollector_ObserveAccumulatesAcrossRuns(t *testing.T) {
	c := NewEnrichCollector("lookup-index")

	c.Observe(enrich.Result{TotalCandidates: 10, Enriched: 8, Failed: 2})
	c.Observe(enrich.Result{TotalCandidates: 5, Enriched: 5, ReachedLimit: true})

	candidates := gatherMetric(t, c, "esingest_enrich_candidates_total")
	require.Len(t, candidates, 1)
	assert.Equal(t, 15.0, metricValue(candidates[0]))

	enriched := gatherMetric(t, c, "esingest_enrich_enriched_total")
	assert.Equal(t, 13.0, metricValue(enriched[0]))

	failed := gatherMetric(t, c, "esingest_enrich_failed_total")
	assert.Equal(t, 2.0, metricValue(failed[0]))

	runs := gatherMetric(t, c, "esingest_enrich_runs_total")
	assert.Equal(t, 2.0, metricValue(runs[0]))

	reachedLimit := gatherMetric(t, c, "esingest_enrich_reached_limit")
	require.Len(t, reachedLimit, 1)
	assert.Equal(t, 1.0, metricValue(reachedLimit[0]), "last observed run reached its limit")
}
