package modreg

// Logger defines the interface for registry logging.
// The registry uses structured logging with key-value pairs so that
// every lifecycle transition, batch run and health evaluation produces
// consistent, parseable output.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("module registered", "module", "auth", "version", "1.2.0")
//
// This shape is compatible with slog, zerolog, zap and similar libraries;
// see internal/logging for the zerolog adapter used by the modregd binary.
type Logger interface {
	// Info logs normal lifecycle events such as registration and batch completion.
	Info(msg string, args ...any)

	// Error logs per-module failures that the registry isolated.
	Error(msg string, args ...any)

	// Warn logs unusual but non-fatal conditions such as blocked modules.
	Warn(msg string, args ...any)

	// Debug logs individual state transitions and resolver output.
	Debug(msg string, args ...any)
}

// NopLogger discards everything. It is the default for the registry and for
// the helper packages that take a Logger.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Debug(string, ...any) {}
