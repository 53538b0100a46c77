package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

func init() {
	// Read LOG_LEVEL from environment
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		_ = SetLevel(levelStr)
	}
}

// ParseLevel maps a level name to a logrus level.
// "warning" is accepted as an alias for "warn".
func ParseLevel(levelStr string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", levelStr)
}

// SetLevel changes the active log level
func SetLevel(levelStr string) error {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// SetOutput redirects log output, mostly for tests
func SetOutput(out io.Writer) {
	log.SetOutput(out)
}

// WithField returns an entry carrying a structured field
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return log.IsLevelEnabled(logrus.DebugLevel)
}
