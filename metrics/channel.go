// Package metrics implements prometheus.Collector adapters for the
// channel and enrichment packages, modeled on a Stats()-snapshot style
// metrics indexer. Wiring these collectors is additive instrumentation;
// channel and enrich both run correctly with no collector attached at all.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/greenearth/esingest/bulk"
	"github.com/greenearth/esingest/channel"
)

// ChannelCollector accumulates one Channel's export/inbound counters and
// reports them as a prometheus.Collector. Attach it to a Channel via its
// Observer parameter; register it with a prometheus.Registry separately.
type ChannelCollector struct {
	channel.NoopObserver

	labels prometheus.Labels

	exportedOK atomic.Int64
	exportedRetryable atomic.Int64
	exportedFatal atomic.Int64
	retries atomic.Int64
	inboundPublished atomic.Int64
	inboundFailed atomic.Int64
	activeExporters atomic.Int64

	descExported *prometheus.Desc
	descRetries *prometheus.Desc
	descInbound *prometheus.Desc
	descActive *prometheus.Desc
}

// NewChannelCollector builds a collector for one named Channel (e.g. the
// target index or data stream), so a process running several channels can
// register one collector per target without label collisions.
func NewChannelCollector(channelName string) *ChannelCollector {
	constLabels := prometheus.Labels{"channel": channelName}
	return &ChannelCollector{
		labels: constLabels,
		descExported: prometheus.NewDesc(
			"esingest_channel_exported_items_total",
			"Bulk response items observed, partitioned by outcome.",
			[]string{"outcome"}, constLabels,
		),
		descRetries: prometheus.NewDesc(
			"esingest_channel_export_retries_total",
			"Pages resubmitted after a retryable bulk response.",
			nil, constLabels,
		),
		descInbound: prometheus.NewDesc(
			"esingest_channel_inbound_writes_total",
			"Documents accepted into the inbound queue, partitioned by result.",
			[]string{"result"}, constLabels,
		),
		descActive: prometheus.NewDesc(
			"esingest_channel_active_exporters",
			"Exporter goroutines currently running.",
			nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *ChannelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descExported
	ch <- c.descRetries
	ch <- c.descInbound
	ch <- c.descActive
}

// Collect implements prometheus.Collector.
func (c *ChannelCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.descExported, prometheus.CounterValue, float64(c.exportedOK.Load()), "ok")
	ch <- prometheus.MustNewConstMetric(c.descExported, prometheus.CounterValue, float64(c.exportedRetryable.Load()), "retryable")
	ch <- prometheus.MustNewConstMetric(c.descExported, prometheus.CounterValue, float64(c.exportedFatal.Load()), "fatal")
	ch <- prometheus.MustNewConstMetric(c.descRetries, prometheus.CounterValue, float64(c.retries.Load()))
	ch <- prometheus.MustNewConstMetric(c.descInbound, prometheus.CounterValue, float64(c.inboundPublished.Load()), "published")
	ch <- prometheus.MustNewConstMetric(c.descInbound, prometheus.CounterValue, float64(c.inboundFailed.Load()), "failed")
	ch <- prometheus.MustNewConstMetric(c.descActive, prometheus.GaugeValue, float64(c.activeExporters.Load()))
}

// OnExportResponse accumulates the per-item outcome counts of one bulk
// response, overriding channel.NoopObserver. It runs once per export
// attempt, so an item that is retried and later acknowledged is counted
// once as retryable and once as ok.
func (c *ChannelCollector) OnExportResponse(resp *bulk.Response, stats channel.ExportStats) {
	c.exportedOK.Add(int64(stats.OK))
	c.exportedRetryable.Add(int64(stats.Retryable))
	c.exportedFatal.Add(int64(stats.Fatal))
}

// OnExportRetry counts one page resubmission, overriding channel.NoopObserver.
func (c *ChannelCollector) OnExportRetry(items []bulk.Doc) {
	c.retries.Add(1)
}

// OnInboundPublish counts one document accepted into the inbound queue.
func (c *ChannelCollector) OnInboundPublish(d any) {
	c.inboundPublished.Add(1)
}

// OnInboundPublishFailure counts one document rejected by the inbound queue.
func (c *ChannelCollector) OnInboundPublishFailure(d any, err error) {
	c.inboundFailed.Add(1)
}

// OnOutboundChannelStarted tracks one exporter goroutine starting up.
func (c *ChannelCollector) OnOutboundChannelStarted(workerID int) {
	c.activeExporters.Add(1)
}

// OnOutboundChannelExited tracks one exporter goroutine shutting down.
func (c *ChannelCollector) OnOutboundChannelExited(workerID int) {
	c.activeExporters.Add(-1)
}
