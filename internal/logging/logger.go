package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger creates a logrus logger configured for the environment.
// Development gets the text formatter; everything else logs JSON.
func NewLogger(logLevel string, environment string) *logrus.Logger {
	return newLogger(os.Stdout, logLevel, environment)
}

func newLogger(out io.Writer, logLevel string, environment string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(ParseLogrusLevel(logLevel))
	if strings.ToLower(environment) == "development" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
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

// WithComponent creates an entry tagged with the component name
func WithComponent(logger logrus.FieldLogger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// LogStartup logs application startup information
func LogStartup(logger logrus.FieldLogger, serviceName string, version string, port int) {
	logger.WithFields(logrus.Fields{
		"service": serviceName,
		"version": version,
		"port":    port,
		"event":   "startup",
	}).Info("Application startup")
}

// LogShutdown logs application shutdown information
func LogShutdown(logger logrus.FieldLogger, serviceName string, reason string) {
	logger.WithFields(logrus.Fields{
		"service": serviceName,
		"reason":  reason,
		"event":   "shutdown",
	}).Info("Application shutdown")
}

// LogAPIRequest logs API requests in a standardized format
func LogAPIRequest(logger logrus.FieldLogger, method string, path string, statusCode int, durationMs int64, requestID string) {
	entry := logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      statusCode,
		"duration_ms": durationMs,
		"request_id":  requestID,
		"event":       "api",
	})
	switch {
	case statusCode >= 500:
		entry.Error("API request")
	case statusCode >= 400:
		entry.Warn("API request")
	default:
		entry.Info("API request")
	}
}

// LogDatabaseOperation logs database operations in a standardized format
func LogDatabaseOperation(logger logrus.FieldLogger, operation string, table string, durationMs int64, rows int64) {
	logger.WithFields(logrus.Fields{
		"operation":   operation,
		"table":       table,
		"duration_ms": durationMs,
		"rows":        rows,
		"event":       "database",
	}).Debug("Database operation")
}
