// Package logging is the ambient logging layer the producer adapters, the
// spool state manager and the demo command log through; bootstrap,
// orchestrator and enrich do not log. It keeps a
// simple Info/Error/Debug call shape but backs it with go.uber.org/zap,
// the structured-logging library most of this ecosystem reaches for
// around an Elasticsearch sink. The core public API (channel, bootstrap,
// orchestrator, enrich) never requires a logger argument — instrumentation
// there is via the Observer hook interfaces — this package is scaffolding
// for the binaries and adapters built on top of the core.
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the narrow surface the rest of this module logs through.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface above,
// using Printf-style formatting to match call sites
// (logger.Info("Connected to Elasticsearch at %s", url)) without requiring
// every caller to switch to structured key-value fields.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger backed by zap. When enabled is false, a no-op logger
// is returned, silencing all three levels rather than just raising the
// level — LOGGING_ENABLED=false means "produce no log output at all", not
// "only errors".
func New(enabled bool) Logger {
	if !enabled {
		return noop{}
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build()
	if err != nil {
		// zap.NewProductionConfig().Build() only fails on a broken sink
		// registration; fall back to zap's example logger so callers never
		// have to handle a construction error for plain stdout logging.
		base = zap.NewExample()
	}

	return &zapLogger{sugar: base.Sugar()}
}

// NewWithWriter builds a Logger writing to an arbitrary io.Writer, the
// structured-logging equivalent of Logger.SetOutput — used
// by tests that want to capture log output.
func NewWithWriter(w io.Writer) Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zapcore.DebugLevel)
	return &zapLogger{sugar: zap.New(core).Sugar()}
}

func (l *zapLogger) Info(msg string, args ...any) {
	l.sugar.Infof(msg, args...)
}

func (l *zapLogger) Error(msg string, args ...any) {
	l.sugar.Errorf(msg, args...)
}

func (l *zapLogger) Debug(msg string, args ...any) {
	l.sugar.Debugf(msg, args...)
}

// noop discards every call; used when logging is disabled entirely.
type noop struct{}

func (noop) Info(string, ...any) {}
func (noop) Error(string, ...any) {}
func (noop) Debug(string, ...any) {}
