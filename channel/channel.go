package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/greenearth/esingest/bootstrap"
	"github.com/greenearth/esingest/bulk"
	"github.com/greenearth/esingest/strategy"
	"github.com/greenearth/esingest/transport"
)

// page is one batcher-assembled unit of work, generalized from a fixed
// struct of like/tombstone/delete slices into a single homogeneous slice
// of bulk.Doc built from whatever D the caller writes, via the
// document-ingest strategy.
type page struct {
	docs []bulk.Doc
	retries int
}

// Channel is the generic buffered two-stage pipeline described at package
// level. D is the caller's opaque document type.
type Channel[D any] struct {
	opts BufferOptions
	derived derived

	strategy *strategy.IngestStrategy[D]
	transport transport.Interface
	observer Observer
	encoder *bulk.Encoder

	mu sync.Mutex
	state State
	concreteIndex string
	batchTS time.Time

	inbound chan D
	batchCh chan page
	pending atomic.Int64
	stopCh chan struct{}
	workerWG sync.WaitGroup

	exportedCounter metric.Int64Counter
	retriesCounter metric.Int64Counter
}

// NewChannel constructs a Channel in state Created. Call Bootstrap then
// Start before writing.
func NewChannel[D any](s *strategy.IngestStrategy[D], t transport.Interface, opts BufferOptions, observer Observer) *Channel[D] {
	if opts.ExportBackoff == nil {
		opts.ExportBackoff = DefaultBackoff
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	c := &Channel[D]{
		opts: opts,
		derived: computeDerived(opts),
		strategy: s,
		transport: t,
		observer: observer,
		encoder: bulk.NewEncoder(),
		state: Created,
	}
	if opts.Meter != nil {
		c.exportedCounter, _ = opts.Meter.Int64Counter("esingest.channel.exported_items",
			metric.WithDescription("Bulk response items observed, partitioned by outcome."))
		c.retriesCounter, _ = opts.Meter.Int64Counter("esingest.channel.export_retries",
			metric.WithDescription("Pages resubmitted after a retryable bulk response."))
	}
	return c
}

func (c *Channel[D]) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, to) {
		return fmt.Errorf("esingest/channel: invalid transition %s -> %s", c.state, to)
	}
	c.state = to
	return nil
}

// State returns the channel's current lifecycle state.
func (c *Channel[D]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Bootstrap runs the strategy's bootstrap steps and resolves the
// concrete index via its provisioning role.
func (c *Channel[D]) Bootstrap(ctx context.Context, bc *bootstrap.Context) error {
	if err := bootstrap.NewEngine(c.strategy.BootstrapSteps...).Run(ctx, bc); err != nil {
		return fmt.Errorf("esingest/channel: bootstrap: %w", err)
	}

	now := time.Now().UTC()
	tc := c.strategy.TC
	concreteIndex, _, err := c.strategy.Provisioning.Resolve(ctx, c.transport, tc.WildcardPattern(), tc.WriteTarget, bc.ChannelHash, now, tc.DatePattern)
	if err != nil {
		return fmt.Errorf("esingest/channel: resolve provisioning: %w", err)
	}
	c.concreteIndex = concreteIndex
	c.batchTS = now

	return c.transition(Bootstrapped)
}

// Start transitions to Running and launches the inbound reader/batcher and
// the exporter worker pool.
func (c *Channel[D]) Start(ctx context.Context) error {
	if err := c.transition(Running); err != nil {
		return err
	}

	c.inbound = make(chan D, c.opts.InboundMaxSize)
	c.batchCh = make(chan page, c.derived.maxConcurrency)
	c.stopCh = make(chan struct{})

	c.workerWG.Add(1)
	go c.runBatcher(ctx)

	for i := 0; i < c.derived.maxConcurrency; i++ {
		c.workerWG.Add(1)
		go c.runExporter(ctx, i)
	}

	return nil
}

// TryWrite is non-blocking; it returns false iff the inbound queue is
// full or the channel is not Running.
func (c *Channel[D]) TryWrite(d D) bool {
	if c.State() != Running {
		c.observer.OnInboundPublishFailure(d, fmt.Errorf("esingest/channel: not running"))
		return false
	}
	select {
		case c.inbound <- d:
		c.pending.Add(1)
		c.observer.OnInboundPublish(d)
		return true
		default:
		c.observer.OnInboundPublishFailure(d, fmt.Errorf("esingest/channel: inbound queue full"))
		return false
	}
}

// WaitToWrite blocks until space is available, the channel is closed, or
// cancel trips. It returns false without enqueueing if ctx
// is cancelled first.
func (c *Channel[D]) WaitToWrite(ctx context.Context, d D) bool {
	if c.State() != Running {
		c.observer.OnInboundPublishFailure(d, fmt.Errorf("esingest/channel: not running"))
		return false
	}
	select {
		case c.inbound <- d:
		c.pending.Add(1)
		c.observer.OnInboundPublish(d)
		return true
		case <-ctx.Done():
		return false
		case <-c.stopCh:
		c.observer.OnInboundPublishFailure(d, fmt.Errorf("esingest/channel: closed"))
		return false
	}
}

// WaitForDrain blocks until every currently-buffered item reaches a
// terminal state or maxWait elapses. Implemented as a bounded poll of the
// pending counter rather than sync.Cond, which makes the
// maxWait/cancellation interplay straightforward.
func (c *Channel[D]) WaitForDrain(ctx context.Context, maxWait time.Duration) bool {
	if err := c.transition(Draining); err != nil {
		// Already Draining or Drained is fine to re-poll; anything else is
		// a programmer error the caller should see via the returned state.
		if c.State() != Draining && c.State() != Drained {
			return false
		}
	}

	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.pending.Load() == 0 {
			c.mu.Lock()
			if c.state == Draining {
				c.state = Drained
			}
			c.mu.Unlock()
			return true
		}
		if maxWait > 0 && time.Now().After(deadline) {
			return false
		}
		select {
			case <-ctx.Done():
			return false
			case <-ticker.C:
		}
	}
}

// Dispose stops the batcher and exporter goroutines. Must be called after
// Drained; a channel not yet drained is disposed anyway to support
// best-effort shutdown on cancellation.
func (c *Channel[D]) Dispose() {
	c.mu.Lock()
	if c.state == Disposed {
		c.mu.Unlock()
		return
	}
	c.state = Disposed
	c.mu.Unlock()

	close(c.stopCh)
	close(c.inbound)
	c.workerWG.Wait()
}

// MarkReindexTargetDrained transitions a Bootstrapped (never Started)
// channel directly to Drained. It is for a dual-target orchestrator's
// Reindex mode, where the secondary channel is bootstrapped but never
// armed for direct writes and is instead populated by a
// server-side reindex; ApplyAliases can then run on it like any other
// drained channel.
func (c *Channel[D]) MarkReindexTargetDrained() error {
	return c.transition(Drained)
}

// ApplyAliases delegates to the strategy's alias role.
// May only be invoked after drain.
func (c *Channel[D]) ApplyAliases(ctx context.Context) error {
	if s := c.State(); s != Drained && s != Disposed {
		return fmt.Errorf("esingest/channel: ApplyAliases requires Drained, got %s", s)
	}
	return c.strategy.Alias.Apply(ctx, c.transport, c.concreteIndex)
}

// Rollover delegates to the strategy's optional rollover role.
func (c *Channel[D]) Rollover(ctx context.Context, conditions strategy.RolloverConditions) (bool, string, error) {
	if c.strategy.Rollover == nil {
		return false, "", fmt.Errorf("esingest/channel: strategy has no rollover role")
	}
	alias := c.strategy.TC.WriteTarget
	return c.strategy.Rollover.Rollover(ctx, c.transport, alias, conditions)
}

// ConcreteIndex returns the index resolved during Bootstrap.
func (c *Channel[D]) ConcreteIndex() string { return c.concreteIndex }

// Strategy exposes the ingest strategy this channel was built with, for
// callers (the orchestrator) that need its TypeContext or roles.
func (c *Channel[D]) Strategy() *strategy.IngestStrategy[D] { return c.strategy }

// runBatcher is the inbound reader + batcher "Scheduling
// model": releases a page either when full (BatchExportSize) or when its
// oldest item exceeds OutboundMaxLifetime.
func (c *Channel[D]) runBatcher(ctx context.Context) {
	defer c.workerWG.Done()
	c.observer.OnInboundChannelStarted()
	defer c.observer.OnInboundChannelExited()

	var buf []D
	timer := time.NewTimer(c.opts.OutboundMaxLifetime)
	defer timer.Stop()
	timerActive := true

	flush := func() {
		if len(buf) == 0 {
			return
		}
		docs := make([]bulk.Doc, len(buf))
		for i, d := range buf {
			concrete := c.concreteIndex
			if c.strategy.TC.DatePattern != "" && !c.strategy.TC.UseBatchDate {
				concrete = c.strategy.TC.ResolveIndexName(d, c.batchTS)
			}
			op := c.strategy.DocumentIngest.Header(d, concrete, c.batchTS)
			docs[i] = bulk.Doc{Op: op, Body: d}
		}
		select {
			case c.batchCh <- page{docs: docs}:
			c.observer.OnOutboundPublish(docs)
			case <-c.stopCh:
		}
		buf = nil
	}

	for {
		if !timerActive {
			timer.Reset(c.opts.OutboundMaxLifetime)
			timerActive = true
		}
		select {
			case d, ok := <-c.inbound:
			if !ok {
				flush()
				return
			}
			buf = append(buf, d)
			if len(buf) >= c.derived.batchExportSize {
				if !timer.Stop() {
					<-timer.C
				}
				timerActive = false
				flush()
			}
			case <-timer.C:
			timerActive = false
			flush()
			case <-ctx.Done():
			flush()
			return
			case <-c.stopCh:
			return
		}
	}
}

// runExporter claims pages from batchCh and runs the export algorithm. Up
// to ExportMaxConcurrency instances run independently, mirroring the
// esWorker pool.
func (c *Channel[D]) runExporter(ctx context.Context, id int) {
	defer c.workerWG.Done()
	c.observer.OnOutboundChannelStarted(id)
	defer c.observer.OnOutboundChannelExited(id)

	for {
		select {
			case p, ok := <-c.batchCh:
			if !ok {
				return
			}
			c.exportPage(ctx, p)
			case <-ctx.Done():
			return
			case <-c.stopCh:
			return
		}
	}
}

// recordExportStats folds one terminal page outcome into the OpenTelemetry
// counters, if a Meter was configured. A no-op otherwise.
func (c *Channel[D]) recordExportStats(ctx context.Context, stats ExportStats) {
	if c.exportedCounter == nil {
		return
	}
	if stats.OK > 0 {
		c.exportedCounter.Add(ctx, int64(stats.OK), metric.WithAttributes(attribute.String("outcome", "ok")))
	}
	if stats.Retryable > 0 {
		c.exportedCounter.Add(ctx, int64(stats.Retryable), metric.WithAttributes(attribute.String("outcome", "retryable")))
	}
	if stats.Fatal > 0 {
		c.exportedCounter.Add(ctx, int64(stats.Fatal), metric.WithAttributes(attribute.String("outcome", "fatal")))
	}
	if stats.Retries > 0 {
		c.retriesCounter.Add(ctx, 1)
	}
}

// spanError records err on the span active in ctx, if tracing is enabled.
func (c *Channel[D]) spanError(ctx context.Context, err error) {
	if c.opts.Tracer == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// exportPage implements "Export algorithm" steps 1-4,
// recursing on the retryable subset until ExportMaxRetries is exhausted.
func (c *Channel[D]) exportPage(ctx context.Context, p page) {
	if c.opts.Tracer != nil {
		var span trace.Span
		ctx, span = c.opts.Tracer.Start(ctx, "esingest.channel.exportPage", trace.WithAttributes(
			attribute.Int("esingest.page_size", len(p.docs)),
			attribute.Int("esingest.retry", p.retries),
		))
		defer span.End()
	}

	stats := ExportStats{Retries: p.retries}
	c.observer.OnExportAttempt(p.retries, len(p.docs))

	body, release, err := c.encoder.Encode(p.docs)
	if err != nil {
		c.spanError(ctx, err)
		c.observer.OnExportException(err)
		c.finalizeFailed(p.docs, err)
		stats.Fatal = len(p.docs)
		c.observer.OnExportBuffer(stats)
		c.recordExportStats(ctx, stats)
		return
	}
	defer release()

	path := c.strategy.DocumentIngest.BulkPath(c.concreteIndex)
	status, respBody, err := transport.RequestRaw(ctx, c.transport, "POST", path, body, "application/x-ndjson")
	if err != nil {
		c.spanError(ctx, err)
		c.observer.OnExportException(err)
		c.retryOrFail(ctx, p, p.docs, fmt.Errorf("esingest/channel: bulk request: %w", err))
		return
	}
	if !transport.IsOKStatus(status) {
		err := fmt.Errorf("esingest/channel: bulk request returned %d: %s", status, respBody)
		c.spanError(ctx, err)
		c.observer.OnExportException(err)
		c.retryOrFail(ctx, p, p.docs, err)
		return
	}

	resp, err := bulk.DecodeResponse(respBody, len(p.docs))
	if err != nil {
		c.spanError(ctx, err)
		c.observer.OnExportException(err)
		c.retryOrFail(ctx, p, p.docs, err)
		return
	}

	var okDocs, retryDocs, fatalDocs []bulk.Doc
	for i, item := range resp.Items {
		switch item.Classify() {
			case bulk.ItemOK:
			okDocs = append(okDocs, p.docs[i])
			case bulk.ItemRetryable:
			retryDocs = append(retryDocs, p.docs[i])
			default:
			fatalDocs = append(fatalDocs, p.docs[i])
		}
	}

	stats.OK = len(okDocs)
	stats.Retryable = len(retryDocs)
	stats.Fatal = len(fatalDocs)
	c.observer.OnExportResponse(resp, stats)

	c.finalizeOK(okDocs)
	if len(fatalDocs) > 0 {
		c.observer.OnExportMaxRetries(fatalDocs, fmt.Errorf("esingest/bulk: fatal item status"))
		c.finalizeFailed(fatalDocs, fmt.Errorf("esingest/bulk: fatal item status"))
	}

	if len(retryDocs) == 0 {
		c.observer.OnExportBuffer(stats)
		c.recordExportStats(ctx, stats)
		return
	}

	if p.retries >= c.opts.ExportMaxRetries {
		c.observer.OnExportMaxRetries(retryDocs, fmt.Errorf("esingest/channel: exhausted %d retries", c.opts.ExportMaxRetries))
		c.finalizeFailed(retryDocs, fmt.Errorf("esingest/channel: exhausted retries"))
		c.observer.OnExportBuffer(stats)
		c.recordExportStats(ctx, stats)
		return
	}

	c.observer.OnExportRetry(retryDocs)
	c.sleepBackoff(ctx, p.retries+1)
	c.exportPage(ctx, page{docs: retryDocs, retries: p.retries + 1})
}

// retryOrFail handles a transport-level (not per-item) failure: the whole
// page is retried subject to the same bound "Failure
// semantics".
func (c *Channel[D]) retryOrFail(ctx context.Context, p page, docs []bulk.Doc, err error) {
	if p.retries >= c.opts.ExportMaxRetries {
		c.observer.OnExportMaxRetries(docs, err)
		c.finalizeFailed(docs, err)
		c.observer.OnExportBuffer(ExportStats{Fatal: len(docs), Retries: p.retries})
		return
	}
	c.observer.OnExportRetry(docs)
	c.sleepBackoff(ctx, p.retries+1)
	c.exportPage(ctx, page{docs: docs, retries: p.retries + 1})
}

func (c *Channel[D]) sleepBackoff(ctx context.Context, retry int) {
	d := c.opts.ExportBackoff(retry)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
		case <-t.C:
		case <-ctx.Done():
	}
}

func (c *Channel[D]) finalizeOK(docs []bulk.Doc) {
	if len(docs) == 0 {
		return
	}
	c.pending.Add(-int64(len(docs)))
	c.signalWaitHandle()
}

func (c *Channel[D]) finalizeFailed(docs []bulk.Doc, err error) {
	if len(docs) == 0 {
		return
	}
	c.pending.Add(-int64(len(docs)))
	c.observer.OnOutboundPublishFailure(docs, err)
	c.signalWaitHandle()
}

func (c *Channel[D]) signalWaitHandle() {
	if c.opts.WaitHandle == nil {
		return
	}
	select {
		case c.opts.WaitHandle <- struct{}{}:
		default:
	}
}
