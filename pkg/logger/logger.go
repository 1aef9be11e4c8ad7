// Package logger wraps logrus with the fields every integration-layer
// service logs: service name, tenant and trace id.
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried into log entries.
type ContextKey string

const (
	// TraceIDKey is the context key for the request trace id.
	TraceIDKey ContextKey = "trace_id"
	// TenantKey is the context key for the tenant (buildable) id.
	TenantKey ContextKey = "tenant_id"
)

// Logger is a wrapper around logrus.Logger
type Logger struct {
	*logrus.Logger
	service string
}

// Config contains logging configuration.
type Config struct {
	Level  string
	Format string
}

// New creates a new logger instance. JSON format is the default; "text"
// selects the human-readable text formatter.
func New(service string, cfg Config) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables, defaulting to info/json.
func NewFromEnv(service string) *Logger {
	return New(service, Config{
		Level:  strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Format: strings.TrimSpace(os.Getenv("LOG_FORMAT")),
	})
}

// WithContext creates a log entry carrying the service plus any trace and
// tenant ids present on the context.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if tenant := ctx.Value(TenantKey); tenant != nil {
		entry = entry.WithField("tenant_id", tenant)
	}
	return entry
}

// WithService returns a plain entry tagged with the service name.
func (l *Logger) WithService() *logrus.Entry {
	return l.Logger.WithField("service", l.service)
}
