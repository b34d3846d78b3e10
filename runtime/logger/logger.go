// Package logger provides structured logging for the voice bridge with
// automatic redaction of credentials.
//
// All exported functions use the global DefaultLogger, which is configured
// from the LOG_LEVEL environment variable at startup and can be replaced by
// Configure once the bridge configuration has been loaded.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
)

var (
	// DefaultLogger is the global structured logger instance.
	DefaultLogger *slog.Logger

	outputMu  sync.Mutex
	logOutput io.Writer = os.Stderr
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}
	initLoggerWithConfig(level, nil, nil, false)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutput redirects log output. A nil writer resets to stderr.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	if w == nil {
		w = os.Stderr
	}
	logOutput = w
	outputMu.Unlock()
	initLoggerWithConfig(globalModuleConfig.DefaultLevel(), nil, nil, false)
}

// SetLevel changes the logging level for all subsequent log operations.
func SetLevel(level slog.Level) {
	globalModuleConfig.SetDefaultLevel(level)
	initLoggerWithConfig(level, nil, nil, false)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise info.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message, adding fields carried by ctx.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message, adding fields carried by ctx.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning. Use for recovered failures such as a pipe restart.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning, adding fields carried by ctx.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message, adding fields carried by ctx.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

var apiKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),   // OpenAI API keys
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), // Bearer tokens
}

// RedactSensitiveData masks API keys and bearer tokens in s. OpenAI keys keep
// their first four characters.
func RedactSensitiveData(s string) string {
	result := s
	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return result
}
