// Package logging defines the narrow structured-logging seam the rest of
// vectra logs through, so the core never imports a concrete logging
// library directly.
package logging

import (
	"context"
	"log/slog"
)

// Logger is the structured logging surface vectra depends on. Field pairs
// follow the key/value-varargs convention of log/slog and zap's SugaredLogger.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// Noop discards every log line. Used as the default when no Logger is
// configured.
func Noop() Logger { return noop{} }

type noop struct{}

func (noop) Debug(string, ...any) {}
func (noop) Info(string, ...any)  {}
func (noop) Warn(string, ...any)  {}
func (noop) Error(string, ...any) {}
func (n noop) With(...any) Logger { return n }

// Slog adapts a *slog.Logger to Logger.
type Slog struct {
	l *slog.Logger
}

// NewSlog wraps l. A nil l wraps slog.Default().
func NewSlog(l *slog.Logger) Slog {
	if l == nil {
		l = slog.Default()
	}
	return Slog{l: l}
}

func (s Slog) Debug(msg string, kv ...any) { s.l.Log(context.Background(), slog.LevelDebug, msg, kv...) }
func (s Slog) Info(msg string, kv ...any)  { s.l.Log(context.Background(), slog.LevelInfo, msg, kv...) }
func (s Slog) Warn(msg string, kv ...any)  { s.l.Log(context.Background(), slog.LevelWarn, msg, kv...) }
func (s Slog) Error(msg string, kv ...any) { s.l.Log(context.Background(), slog.LevelError, msg, kv...) }
func (s Slog) With(kv ...any) Logger       { return Slog{l: s.l.With(kv...)} }
