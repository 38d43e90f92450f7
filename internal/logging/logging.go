// Package logging provides the structured logger shared by every SDK
// component. Each component gets a logrus entry scoped with a component
// field so log lines can be filtered per subsystem.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Options configures the process-wide base logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// JSON switches the formatter to JSON output.
	JSON bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	baseMu sync.RWMutex
	base   = defaultBase()
)

func defaultBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Configure applies options to the process-wide base logger. Loggers created
// before or after Configure share the same base, so it takes effect globally.
func Configure(opts Options) {
	baseMu.Lock()
	defer baseMu.Unlock()

	if opts.Output != nil {
		base.SetOutput(opts.Output)
	}
	if opts.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	base.SetLevel(parseLevel(opts.Level))
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is a component-scoped structured logger.
type Logger struct {
	entry *logrus.Entry
}

// NewDefault returns a logger scoped to the given component.
func NewDefault(component string) *Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return &Logger{entry: base.WithField("component", component)}
}

// WithField returns a logger carrying an additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger carrying the given fields. A nil map is allowed.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if fields == nil {
		return l
	}
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a logger carrying the error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// Entry exposes the underlying logrus entry for callers that need it.
func (l *Logger) Entry() *logrus.Entry { return l.entry }

func (l *Logger) Debug(args ...any)                 { l.entry.Debug(args...) }
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Info(args ...any)                  { l.entry.Info(args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(args ...any)                  { l.entry.Warn(args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(args ...any)                 { l.entry.Error(args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
