// Package logging provides the structured logger threaded through the
// dispatcher core as an explicit value, rather than a package-level
// global (see DESIGN.md, "internal/logging").
package logging

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger with the fields every dispatcher
// component wants attached (host alias, dir alias, msg name).
type Logger struct {
	*logrus.Logger
}

// New builds a Logger writing to w at the given level.
func New(w io.Writer, level logrus.Level) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{Logger: l}
}

type ctxKey struct{}

// WithContext stashes the logger on ctx for components that only take
// a context.Context.
func WithContext(ctx context.Context, log *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext retrieves the logger stashed by WithContext, falling
// back to a discard logger so callers never need a nil check.
func FromContext(ctx context.Context) *Logger {
	if log, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return log
	}
	return New(io.Discard, logrus.PanicLevel)
}

// Host returns an entry pre-tagged with a host alias.
func (l *Logger) Host(alias string) *logrus.Entry {
	return l.WithField("host", alias)
}

// Dir returns an entry pre-tagged with a directory alias.
func (l *Logger) Dir(alias string) *logrus.Entry {
	return l.WithField("dir", alias)
}

// Msg returns an entry pre-tagged with a message name.
func (l *Logger) Msg(name string) *logrus.Entry {
	return l.WithField("msg", name)
}
