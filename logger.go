package blueberry

// Logger defines the interface for container logging.
// The container uses structured logging with key-value pairs
// to provide consistent, parseable log output across all components.
//
// All container operations (descriptor registration, launches, admission
// decisions, shutdown sweeps) are logged through this interface, so the
// hosting process controls how container logs appear.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// internal/logging provides a zap-backed implementation.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal events like descriptor registration and launches.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for failures that are reported but do not abort the container.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
