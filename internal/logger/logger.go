// Package logger holds carmine's logrus instance. The library is silent by
// default: a host application that wants to see flush sizes, cluster
// redirects, or tundra worker outcomes calls Configure with the level it
// cares about. Nothing in this package can terminate the process — a
// client library has no business calling Fatal on its host.
package logger

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogLevel names the verbosity thresholds Configure accepts.
type LogLevel string

const (
	DebugLevel  LogLevel = "debug"
	InfoLevel   LogLevel = "info"
	WarnLevel   LogLevel = "warn"
	ErrorLevel  LogLevel = "error"
	SilentLevel LogLevel = "silent"
)

var current atomic.Pointer[logrus.Logger]

func init() {
	current.Store(newLogger(SilentLevel, os.Stderr))
}

func newLogger(level LogLevel, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	switch level {
	case DebugLevel:
		log.SetLevel(logrus.DebugLevel)
	case InfoLevel:
		log.SetLevel(logrus.InfoLevel)
	case WarnLevel:
		log.SetLevel(logrus.WarnLevel)
	case ErrorLevel:
		log.SetLevel(logrus.ErrorLevel)
	case SilentLevel:
		log.SetLevel(logrus.PanicLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// Configure replaces the package logger with one at the given level writing
// to out. A nil out keeps stderr. Safe to call at any time, including while
// other goroutines are logging.
func Configure(level LogLevel, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	current.Store(newLogger(level, out))
}

// Get returns the active logger, for callers that want logrus entries with
// their own fields attached.
func Get() *logrus.Logger { return current.Load() }

// WithField returns an entry carrying one field.
func WithField(key string, value any) *logrus.Entry {
	return Get().WithField(key, value)
}

// WithFields returns an entry carrying several fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

func Debugf(format string, args ...any) { Get().Debugf(format, args...) }
func Infof(format string, args ...any)  { Get().Infof(format, args...) }
func Warnf(format string, args ...any)  { Get().Warnf(format, args...) }
func Errorf(format string, args ...any) { Get().Errorf(format, args...) }

func Debug(args ...any) { Get().Debug(args...) }
func Info(args ...any)  { Get().Info(args...) }
func Warn(args ...any)  { Get().Warn(args...) }
func Error(args ...any) { Get().Error(args...) }
