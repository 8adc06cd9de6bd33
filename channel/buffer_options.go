// Package channel implements the buffered two-stage ingestion pipeline: a
// bounded inbound queue feeding a batcher that assembles fixed-size or
// age-bounded pages, handed to a bounded pool of exporters that write
// NDJSON bulk pages and retry partial failures. The worker-pool shape
// follows a batchChan/esWorker pattern, generalized from one fixed-shape
// batch job to a generic page of D and extended with the retry/backoff
// and lifecycle machinery a generic pipeline requires.
package channel

import (
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// BufferOptions configures one Channel.
type BufferOptions struct {
	InboundMaxSize int
	OutboundMaxSize int
	OutboundMaxLifetime time.Duration
	ExportMaxConcurrency int
	ExportMaxRetries int

	// ExportBackoff must be non-decreasing; the channel cuts the wait
	// short when ctx is cancelled. DefaultBackoff is used when nil.
	ExportBackoff func(retry int) time.Duration

	// WaitHandle, if set, is signaled (non-blocking) each time a group of
	// items reaches a terminal state: once for the acknowledged items and
	// once for the failed items of a response. A response whose items are
	// all requeued for retry signals nothing, so the count of signals is
	// not one per exported buffer. Test-only.
	WaitHandle chan<- struct{}

	// Tracer, if set, wraps each export attempt in a span. Nil is a valid
	// zero value; exportPage skips span creation entirely when unset.
	Tracer trace.Tracer

	// Meter, if set, backs a small set of exported-item/retry counters
	// alongside whatever Observer/ChannelCollector a caller has attached.
	// Nil is a valid zero value.
	Meter metric.Meter
}

// DefaultBackoff is exponential with a 30s cap: 1s, 2s, 4s, 8s, ....
func DefaultBackoff(retry int) time.Duration {
	d := time.Duration(1) << uint(retry) * time.Second
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// derived holds the quantities computed once at construction.
type derived struct {
	maxConcurrency int
	batchExportSize int
	drainSize int
}

func computeDerived(o BufferOptions) derived {
	inbound := o.InboundMaxSize
	outbound := o.OutboundMaxSize
	if outbound <= 0 {
		outbound = 1
	}

	maxConcurrency := clamp(inbound/outbound, 1, 2*runtime.NumCPU())
	if o.ExportMaxConcurrency > 0 {
		maxConcurrency = o.ExportMaxConcurrency
	}
	batchExportSize := min(outbound, max(1, inbound/maxConcurrency))
	drainSize := min(100_000, 2*outbound)

	return derived{
		maxConcurrency: maxConcurrency,
		batchExportSize: batchExportSize,
		drainSize: drainSize,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
