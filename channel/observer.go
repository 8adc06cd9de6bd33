package channel

import "github.com/greenearth/esingest/bulk"

// ExportStats summarizes one terminal page outcome for OnExportBuffer, the
// channel's callback surface.
type ExportStats struct {
	OK int
	Retryable int
	Fatal int
	Retries int
}

// Observer is the channel's callback surface. Every method has a no-op
// default via NoopObserver so callers only implement what they use,
// mirroring a preference for small logger-shaped interfaces over a
// monolithic listener.
type Observer interface {
	OnExportBuffer(stats ExportStats)
	OnExportAttempt(retries, itemCount int)
	OnExportResponse(resp *bulk.Response, stats ExportStats)
	OnExportRetry(items []bulk.Doc)
	OnExportMaxRetries(items []bulk.Doc, err error)
	OnExportException(err error)
	OnInboundPublish(d any)
	OnInboundPublishFailure(d any, err error)
	OnOutboundPublish(items []bulk.Doc)
	OnOutboundPublishFailure(items []bulk.Doc, err error)
	OnInboundChannelStarted()
	OnInboundChannelExited()
	OnOutboundChannelStarted(workerID int)
	OnOutboundChannelExited(workerID int)
}

// NoopObserver implements Observer with no-ops; embed it to override only
// the hooks a caller cares about.
type NoopObserver struct{}

func (NoopObserver) OnExportBuffer(ExportStats) {}
func (NoopObserver) OnExportAttempt(int, int) {}
func (NoopObserver) OnExportResponse(*bulk.Response, ExportStats) {}
func (NoopObserver) OnExportRetry([]bulk.Doc) {}
func (NoopObserver) OnExportMaxRetries([]bulk.Doc, error) {}
func (NoopObserver) OnExportException(error) {}
func (NoopObserver) OnInboundPublish(any) {}
func (NoopObserver) OnInboundPublishFailure(any, error) {}
func (NoopObserver) OnOutboundPublish([]bulk.Doc) {}
func (NoopObserver) OnOutboundPublishFailure([]bulk.Doc, error) {}
func (NoopObserver) OnInboundChannelStarted() {}
func (NoopObserver) OnInboundChannelExited() {}
func (NoopObserver) OnOutboundChannelStarted(int) {}
func (NoopObserver) OnOutboundChannelExited(int) {}
