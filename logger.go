package framegraph

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler drops every record. Enabled reports false, so disabled log
// calls never format their attributes.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var silent = slog.New(nopHandler{})

// pkgLogger is the logger new contexts start from.
var pkgLogger atomic.Pointer[slog.Logger]

func init() { pkgLogger.Store(silent) }

// SetLogger sets the logger that contexts created afterwards use, unless
// WithLogger overrides it. nil restores the silent default. Contexts that
// already exist keep their logger.
//
// Levels:
//   - [slog.LevelDebug]: per-step compile statistics, barrier counts
//   - [slog.LevelInfo]: compiles, cache hits and evictions
//   - [slog.LevelWarn]: diagnostics such as unused swapchains or culled resources
//   - [slog.LevelError]: compile errors and aborted executions
//
//	framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = silent
	}
	pkgLogger.Store(l)
}

// Logger returns the package logger.
func Logger() *slog.Logger { return pkgLogger.Load() }

// LoggerSetter is implemented by backends that log. NewContext passes the
// context logger to its backend so both write to the same sink.
type LoggerSetter interface {
	SetLogger(*slog.Logger)
}

func shareLogger(b Backend, l *slog.Logger) {
	if ls, ok := b.(LoggerSetter); ok {
		ls.SetLogger(l)
	}
}
