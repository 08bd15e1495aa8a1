// Package logging provides the proxy's structured logger: one process-wide
// logrus instance, JSON-formatted, carrying service/version fields, with
// WithField/WithFields child loggers per connection and stream.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry with the handful of purpose-built event
// loggers the proxy needs (access log, error log) on top of the generic
// leveled methods.
type Logger struct {
	*logrus.Entry
}

// NewLogger creates the process-wide structured logger. syslogEndpoint is
// accepted for configuration-surface compatibility but forwarding to a
// remote syslog collector is not wired (no spec component emits to one);
// a configured endpoint is logged as a warning instead of silently ignored.
func NewLogger(level string, syslogEndpoint string) (*Logger, error) {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logger.SetOutput(os.Stdout)

	entry := logger.WithFields(logrus.Fields{
		"service": "quicproxy",
		"version": "1.0.0",
	})
	l := &Logger{Entry: entry}

	if syslogEndpoint != "" {
		l.WithField("syslog_endpoint", syslogEndpoint).Warn("syslog forwarding not implemented, logging to stdout only")
	}

	return l, nil
}

// WithField adds a field to the logger.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithFields adds multiple fields to the logger.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields)}
}

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Info(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Error(msg)
}

// Warn logs a warning message with optional key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Warn(msg)
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Debug(msg)
}

func parseKeysAndValues(keysAndValues ...interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fields[fmt.Sprintf("%v", keysAndValues[i])] = keysAndValues[i+1]
		}
	}
	return fields
}

// LogAccess emits one proxied request's access log line in the format
// "<peer_ip>::<elapsed_ms_or_-1>::<status>::<method>::<url>", plus the same
// event as structured fields for log aggregation. elapsedMs is -1 when no
// backend timing was captured (e.g. a request that was rejected before
// SendRequest).
func (l *Logger) LogAccess(peerIP string, elapsedMs int64, status int, method, url string) {
	line := fmt.Sprintf("%s::%d::%d::%s::%s", peerIP, elapsedMs, status, strings.ToUpper(method), url)
	l.Entry.WithFields(logrus.Fields{
		"type":       "access",
		"peer_ip":    peerIP,
		"elapsed_ms": elapsedMs,
		"status":     status,
		"method":     strings.ToUpper(method),
		"url":        url,
	}).Info(line)
}

// LogError logs an error with structured fields.
func (l *Logger) LogError(errorType, errorMessage, details string) {
	l.Entry.WithFields(logrus.Fields{
		"error_type":    errorType,
		"error_message": errorMessage,
		"details":       details,
		"type":          "error",
	}).Error(errorMessage)
}
