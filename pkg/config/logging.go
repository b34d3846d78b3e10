package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/leomancini/ai-phone-firmware/runtime/logger"
)

// LoggingConfigSpec is the logging section.
type LoggingConfigSpec struct {
	DefaultLevel string `yaml:"defaultLevel,omitempty"`
	Format       string `yaml:"format,omitempty"`
	// Output is stderr, stdout or a file path. Files are appended to.
	Output string `yaml:"output,omitempty"`
	// CommonFields are added to every record, e.g. the phone's location.
	CommonFields map[string]string `yaml:"commonFields,omitempty"`
	// Modules override the level for a component and everything below it,
	// e.g. "runtime.capture".
	Modules []ModuleLoggingConfig `yaml:"modules,omitempty"`
}

// ModuleLoggingConfig sets the level of one module.
type ModuleLoggingConfig struct {
	Name  string `yaml:"name"`
	Level string `yaml:"level"`
}

// Log levels.
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Log outputs other than a file path.
const (
	LogOutputStderr = "stderr"
	LogOutputStdout = "stdout"
)

var logLevels = []string{LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError}

// DefaultLoggingConfig returns text logs at info on stderr.
func DefaultLoggingConfig() LoggingConfigSpec {
	return LoggingConfigSpec{
		DefaultLevel: LogLevelInfo,
		Format:       LogFormatText,
		Output:       LogOutputStderr,
	}
}

// Validate reports every invalid field of the section.
func (c *LoggingConfigSpec) Validate() error {
	var errs []error
	levelMsg := "must be one of: " + strings.Join(logLevels, ", ")

	if c.DefaultLevel != "" && !slices.Contains(logLevels, c.DefaultLevel) {
		errs = append(errs, &ValidationError{Field: "logging.defaultLevel", Message: levelMsg, Value: c.DefaultLevel})
	}
	if c.Format != "" && c.Format != LogFormatJSON && c.Format != LogFormatText {
		errs = append(errs, &ValidationError{Field: "logging.format", Message: "must be one of: json, text", Value: c.Format})
	}
	seen := make(map[string]bool, len(c.Modules))
	for i, mod := range c.Modules {
		switch {
		case mod.Name == "":
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("logging.modules[%d].name", i),
				Message: "module name is required",
			})
		case seen[mod.Name]:
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("logging.modules[%d].name", i),
				Message: "duplicate module",
				Value:   mod.Name,
			})
		}
		seen[mod.Name] = true
		if mod.Level != "" && !slices.Contains(logLevels, mod.Level) {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("logging.modules[%s].level", mod.Name),
				Message: levelMsg,
				Value:   mod.Level,
			})
		}
	}
	return errors.Join(errs...)
}

// ValidationError is one invalid manifest field.
type ValidationError struct {
	Field   string
	Message string
	Value   string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config validation error: %s: %s (got: %s)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("config validation error: %s: %s", e.Field, e.Message)
}

// ToLogger converts the section for logger.Configure.
func (c *LoggingConfigSpec) ToLogger() *logger.LoggingConfigSpec {
	out := &logger.LoggingConfigSpec{
		DefaultLevel: c.DefaultLevel,
		Format:       c.Format,
		CommonFields: c.CommonFields,
	}
	for _, mod := range c.Modules {
		out.Modules = append(out.Modules, logger.ModuleLoggingSpec{Name: mod.Name, Level: mod.Level})
	}
	return out
}

// OpenOutput returns the writer named by Output. Closing it is a no-op for
// the standard streams.
func (c *LoggingConfigSpec) OpenOutput() (io.WriteCloser, error) {
	switch c.Output {
	case "", LogOutputStderr:
		return nopCloser{os.Stderr}, nil
	case LogOutputStdout:
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Output), 0o750); err != nil {
		return nil, fmt.Errorf("log output: %w", err)
	}
	f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path from manifest
	if err != nil {
		return nil, fmt.Errorf("log output: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
