// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package meshbvh

import (
	"context"
	"log/slog"
	"sync/atomic"
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
// SetLogger can be called concurrently with a running build.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for meshbvh. By default nothing is logged.
// Pass nil to restore the silent default.
//
// The logger reaches the compute context of every Generator at its next
// Build, provided the context accepts one (both bundled backends do).
//
// Log levels used by meshbvh:
//   - [slog.LevelDebug]: per-level progress, dispatch sizes, stage timings
//   - [slog.LevelInfo]: build start and completion
//   - [slog.LevelWarn]: builds stopped by the level cap
//
// Example:
//
//	meshbvh.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger. Safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }

// loggerSetter is implemented by compute contexts that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger hands l to cc if cc accepts a logger.
func propagateLogger(cc any, l *slog.Logger) {
	if ls, ok := cc.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
