package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger. format is "json" (default) or "text".
func NewLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(ParseLogrusLevel(level))

	switch strings.ToLower(format) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}
	return logger
}

// NewDiscardLogger returns a logger that drops everything; used when callers
// pass no logger.
func NewDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns logger, or a discarding logger when it is nil.
func OrDiscard(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return NewDiscardLogger()
	}
	return logger
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
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

// WithComponent creates a logger entry with component context
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return OrDiscard(logger).WithField("component", component)
}

// LogStartup logs application startup information
func LogStartup(logger *logrus.Logger, serviceName, version string, port int) {
	OrDiscard(logger).WithFields(logrus.Fields{
		"service": serviceName,
		"version": version,
		"port":    port,
		"event":   "startup",
	}).Info("Application startup")
}

// LogShutdown logs application shutdown information
func LogShutdown(logger *logrus.Logger, serviceName, reason string) {
	OrDiscard(logger).WithFields(logrus.Fields{
		"service": serviceName,
		"reason":  reason,
		"event":   "shutdown",
	}).Info("Application shutdown")
}

// LogStage logs the completion of one pipeline stage.
func LogStage(entry *logrus.Entry, stage string, duration time.Duration, fields logrus.Fields) {
	f := logrus.Fields{
		"stage":       stage,
		"duration_ms": duration.Milliseconds(),
		"event":       "stage",
	}
	for k, v := range fields {
		f[k] = v
	}
	entry.WithFields(f).Info("Pipeline stage finished")
}

// LogCacheOperation logs cache operations in a standardized format
func LogCacheOperation(logger *logrus.Logger, operation, key string, hit bool, duration time.Duration) {
	OrDiscard(logger).WithFields(logrus.Fields{
		"operation":   operation,
		"key":         key,
		"hit":         hit,
		"duration_ms": duration.Milliseconds(),
		"event":       "cache",
	}).Debug("Cache operation")
}

// LogDatabaseOperation logs database operations in a standardized format
func LogDatabaseOperation(logger *logrus.Logger, operation, table string, duration time.Duration, rows int64) {
	OrDiscard(logger).WithFields(logrus.Fields{
		"operation":   operation,
		"table":       table,
		"duration_ms": duration.Milliseconds(),
		"rows":        rows,
		"event":       "database",
	}).Debug("Database operation")
}
