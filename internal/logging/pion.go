package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below debug; pion is very chatty at trace.
const levelTrace = slog.LevelDebug - 4

// PionFactory routes pion's scoped loggers into slog.
type PionFactory struct {
	Logger *slog.Logger
}

func NewPionFactory(l *slog.Logger) *PionFactory {
	if l == nil {
		l = slog.Default()
	}
	return &PionFactory{Logger: l}
}

func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: f.Logger.With("mod", scope)}
}

type pionLogger struct {
	log *slog.Logger
}

func (p pionLogger) logf(level slog.Level, format string, args ...interface{}) {
	if !p.log.Enabled(context.Background(), level) {
		return
	}
	p.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (p pionLogger) Trace(msg string) { p.log.Log(context.Background(), levelTrace, msg) }

func (p pionLogger) Tracef(format string, args ...interface{}) { p.logf(levelTrace, format, args...) }

func (p pionLogger) Debug(msg string) { p.log.Debug(msg) }

func (p pionLogger) Debugf(format string, args ...interface{}) {
	p.logf(slog.LevelDebug, format, args...)
}

func (p pionLogger) Info(msg string) { p.log.Info(msg) }

func (p pionLogger) Infof(format string, args ...interface{}) { p.logf(slog.LevelInfo, format, args...) }

func (p pionLogger) Warn(msg string) { p.log.Warn(msg) }

func (p pionLogger) Warnf(format string, args ...interface{}) { p.logf(slog.LevelWarn, format, args...) }

func (p pionLogger) Error(msg string) { p.log.Error(msg) }

func (p pionLogger) Errorf(format string, args ...interface{}) {
	p.logf(slog.LevelError, format, args...)
}
