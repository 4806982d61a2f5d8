package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"taker-terminal/internal/config"
)

// Fields mirrors logrus.Fields so callers do not import logrus directly.
type Fields map[string]interface{}

// Log wraps logrus.Logger.
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry so chained calls keep returning our type.
type Entry struct {
	*logrus.Entry
}

var globalLogger = New()

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

// New builds a JSON logger at info level writing to stdout.
func New() *Log {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	})
	return &Log{Logger: l}
}

func GetLogger() *Log {
	return globalLogger
}

// Configure applies level and output settings. LOG_LEVEL overrides level.
func (l *Log) Configure(level string, cfg config.LoggingConfig) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	l.SetLevel(lvl)
	l.SetReportCaller(lvl >= logrus.DebugLevel)

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	l.SetOutput(out)
	return nil
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

// Discard returns an entry that drops everything, handy in tests.
func Discard() *Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Entry{Entry: logrus.NewEntry(l)}
}
