// Package logger defines the structured logger used by the builder, the
// compiler and the runner, with adapters for log/slog and logrus.
package logger

import (
	"log/slog"

	"github.com/sirupsen/logrus"
)

// Logger takes a message and alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger drops every message. It is the default.
type NoopLogger struct{}

func (*NoopLogger) Debug(_ string, _ ...any) {}
func (*NoopLogger) Info(_ string, _ ...any)  {}
func (*NoopLogger) Warn(_ string, _ ...any)  {}
func (*NoopLogger) Error(_ string, _ ...any) {}

// SlogAdapter forwards to a *slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps l, which must not be nil.
func NewSlogAdapter(l *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: l}
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }

// LogrusAdapter forwards to a logrus entry, turning key-value pairs into
// fields.
type LogrusAdapter struct {
	entry *logrus.Entry
}

// NewLogrusAdapter wraps l. A nil l uses logrus.StandardLogger().
func NewLogrusAdapter(l *logrus.Logger) *LogrusAdapter {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusAdapter{entry: logrus.NewEntry(l)}
}

func (a *LogrusAdapter) Debug(msg string, args ...any) { a.with(args).Debug(msg) }
func (a *LogrusAdapter) Info(msg string, args ...any)  { a.with(args).Info(msg) }
func (a *LogrusAdapter) Warn(msg string, args ...any)  { a.with(args).Warn(msg) }
func (a *LogrusAdapter) Error(msg string, args ...any) { a.with(args).Error(msg) }

// with converts args into fields. A key that is not a string is formatted
// with logrus' "!BADKEY" convention and a trailing key gets a nil value.
func (a *LogrusAdapter) with(args []any) *logrus.Entry {
	if len(args) == 0 {
		return a.entry
	}
	fields := make(logrus.Fields, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		var v any
		if i+1 < len(args) {
			v = args[i+1]
		}
		if err, ok := v.(error); ok && key == "error" {
			fields[logrus.ErrorKey] = err
			continue
		}
		fields[key] = v
	}
	return a.entry.WithFields(fields)
}
