package log

import "log/slog"

// Logger is an alias for slog.Logger, kept so the module's library
// packages need not import log/slog directly (the cmd/ binaries do, to
// build their handlers).
type Logger = slog.Logger
type Handler = slog.Handler

var defaultLogger *Logger = slog.Default()

// SetDefaultLogger overrides the logger used by the package-level
// Debugf/Infof/Warnf/Errorf helpers.
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// SetDefaultHandler overrides the handler used to build the default logger.
func SetDefaultHandler(handler Handler) {
	defaultLogger = slog.New(handler)
}

// GetDefaultLogger returns the process-wide default logger.
func GetDefaultLogger() *Logger {
	return defaultLogger
}
