// Package zapadapter wraps go.uber.org/zap behind logging.Logger, for
// deployments that already standardize on zap's sugared API.
package zapadapter

import (
	"go.uber.org/zap"

	"github.com/liliang-cn/vectra/logging"
)

type adapter struct {
	l *zap.SugaredLogger
}

// Wrap adapts a *zap.Logger to logging.Logger. A nil l wraps a production
// zap logger built with zap.NewProduction (falling back to a no-op logger
// if that construction itself fails, which only happens when the process
// cannot open its configured sinks).
func Wrap(l *zap.Logger) logging.Logger {
	if l == nil {
		prod, err := zap.NewProduction()
		if err != nil {
			return logging.Noop()
		}
		l = prod
	}
	return adapter{l: l.Sugar()}
}

func (a adapter) Debug(msg string, kv ...any) { a.l.Debugw(msg, kv...) }
func (a adapter) Info(msg string, kv ...any)  { a.l.Infow(msg, kv...) }
func (a adapter) Warn(msg string, kv ...any)  { a.l.Warnw(msg, kv...) }
func (a adapter) Error(msg string, kv ...any) { a.l.Errorw(msg, kv...) }
func (a adapter) With(kv ...any) logging.Logger {
	return adapter{l: a.l.With(kv...)}
}
