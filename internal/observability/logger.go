// Package observability provides structured logging for chancore.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/masq"
	"github.com/rivermedia/chancore/internal/config"
)

// urlSensitiveParamPattern matches sensitive query parameters in URLs, such
// as the SRT/RTMP stream URIs that channel specs carry (?password=...,
// ?token=...).
var urlSensitiveParamPattern = regexp.MustCompile(`(?i)(password|passphrase|secret|token|apikey|api_key|credential)=([^&\s"']+)`)

type contextKey string

const (
	// RequestIDKey is the context key for HTTP request IDs.
	RequestIDKey contextKey = "request_id"
	// CorrelationIDKey is the context key for cross-process correlation IDs,
	// used to tie a lifecycle operation to the chanrole processes it spawns.
	CorrelationIDKey contextKey = "correlation_id"
	loggerKey        contextKey = "logger"
)

// GlobalLogLevel is the shared log level that can be changed at runtime via
// SetLogLevel/GetLogLevel.
var GlobalLogLevel = &slog.LevelVar{}

var enableRequestLogging atomic.Bool

// NewLogger creates a slog.Logger from the given configuration, writing to
// stdout.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

func sensitiveFieldRedactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("password"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("passphrase"),
		masq.WithFieldName("Passphrase"),
		masq.WithFieldName("secret"),
		masq.WithFieldName("Secret"),
		masq.WithFieldName("token"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("apikey"),
		masq.WithFieldName("ApiKey"),
		masq.WithFieldName("api_key"),
		masq.WithFieldName("credential"),
		masq.WithFieldName("Credential"),
	)
}

func redactURLParams(s string) string {
	return urlSensitiveParamPattern.ReplaceAllString(s, "$1=[REDACTED]")
}

// NewLoggerWithWriter creates a slog.Logger writing to w, honoring
// GlobalLogLevel for runtime-adjustable verbosity and redacting credentials
// that may appear in stream URIs or handler options.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	GlobalLogLevel.Set(level)

	redactor := sensitiveFieldRedactor()

	opts := &slog.HandlerOptions{
		Level:     GlobalLogLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a = redactor(groups, a)

			if a.Value.Kind() == slog.KindString {
				str := a.Value.String()
				if redacted := redactURLParams(str); redacted != str {
					a = slog.String(a.Key, redacted)
				}
			}

			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel changes the global log level at runtime. Valid levels:
// trace, debug, info, warn, error.
func SetLogLevel(level string) {
	GlobalLogLevel.Set(parseLevel(level))
}

// GetLogLevel returns the current log level as a string.
func GetLogLevel() string {
	level := GlobalLogLevel.Level()
	switch {
	case level < slog.LevelDebug:
		return "trace"
	case level == slog.LevelDebug:
		return "debug"
	case level == slog.LevelInfo:
		return "info"
	case level == slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// SetRequestLogging enables or disables HTTP access logging.
func SetRequestLogging(enabled bool) { enableRequestLogging.Store(enabled) }

// IsRequestLoggingEnabled reports whether HTTP access logging is enabled.
func IsRequestLoggingEnabled() bool { return enableRequestLogging.Load() }

// WithComponent tags a logger with the originating component name, e.g.
// "lifecycle", "health", "pipeline.input".
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithChannel tags a logger with the channel name it concerns.
func WithChannel(logger *slog.Logger, channel string) *slog.Logger {
	return logger.With(slog.String("channel", channel))
}

// WithCorrelationID tags a logger with a correlation id.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With(slog.String("correlation_id", correlationID))
}

// WithError adds an error attribute to a logger.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext extracts a logger from ctx, falling back to slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger stores a logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// CorrelationIDFromContext extracts a correlation id from ctx.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithCorrelationID stores a correlation id in ctx.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// SetDefault installs logger as the slog default.
func SetDefault(logger *slog.Logger) { slog.SetDefault(logger) }

// TimedOperation logs the start and completion of an operation with its
// duration. The returned function must be deferred.
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
