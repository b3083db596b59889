package cauldron

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cauldron/content"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/parallelsort"
	"github.com/gogpu/cauldron/rendermodule"
	"github.com/gogpu/cauldron/shader"
	"github.com/gogpu/cauldron/shadowatlas"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for cauldron and all its sub-packages,
// including the wgpu HAL. By default nothing is logged.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used by cauldron:
//   - [slog.LevelDebug]: pipeline creation, cache hits and misses, sort passes
//   - [slog.LevelInfo]: lifecycle events (device opened, module initialized, atlas created)
//   - [slog.LevelWarn]: recoverable issues (light without a shadow map, fallbacks)
//   - [slog.LevelError]: listener or module failures
//
// Example:
//
//	cauldron.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	gpu.SetLogger(l)
	shader.SetLogger(l)
	parallelsort.SetLogger(l)
	content.SetLogger(l)
	rendermodule.SetLogger(l)
	shadowatlas.SetLogger(l)
	hal.SetLogger(l)
}

// Logger returns the current logger used by cauldron.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }
