package logger

import (
	"log/slog"
	"strings"
	"sync"
)

// ModuleConfig holds per-module log levels. Module names use dot notation
// derived from the package path ("runtime.capture"); a more specific name
// overrides its parents.
type ModuleConfig struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	modules      map[string]slog.Level
}

// NewModuleConfig creates a ModuleConfig with the given default level.
func NewModuleConfig(defaultLevel slog.Level) *ModuleConfig {
	return &ModuleConfig{
		defaultLevel: defaultLevel,
		modules:      make(map[string]slog.Level),
	}
}

// SetModuleLevel sets the level for one module.
func (m *ModuleConfig) SetModuleLevel(module string, level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[module] = level
}

// SetDefaultLevel sets the fallback level.
func (m *ModuleConfig) SetDefaultLevel(level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLevel = level
}

// DefaultLevel returns the fallback level.
func (m *ModuleConfig) DefaultLevel() slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultLevel
}

// Len returns the number of module overrides.
func (m *ModuleConfig) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.modules)
}

// LevelFor returns the level for module, walking up the dotted hierarchy
// ("runtime.providers.openai" -> "runtime.providers" -> "runtime") before
// falling back to the default.
func (m *ModuleConfig) LevelFor(module string) slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for module != "" {
		if level, ok := m.modules[module]; ok {
			return level
		}
		lastDot := strings.LastIndex(module, ".")
		if lastDot == -1 {
			break
		}
		module = module[:lastDot]
	}
	return m.defaultLevel
}

var globalModuleConfig = NewModuleConfig(slog.LevelInfo)

// LoggingConfigSpec is the logging section of the bridge configuration.
// It mirrors config.LoggingConfigSpec to avoid an import cycle.
type LoggingConfigSpec struct {
	DefaultLevel string
	Format       string
	CommonFields map[string]string
	Modules      []ModuleLoggingSpec
}

// ModuleLoggingSpec sets the level for one module.
type ModuleLoggingSpec struct {
	Name  string
	Level string
}

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Configure rebuilds the global logger from cfg. A nil cfg is a no-op.
func Configure(cfg *LoggingConfigSpec) error {
	if cfg == nil {
		return nil
	}

	defaultLevel := slog.LevelInfo
	if cfg.DefaultLevel != "" {
		defaultLevel = ParseLevel(cfg.DefaultLevel)
	}

	commonFields := make([]slog.Attr, 0, len(cfg.CommonFields))
	for k, v := range cfg.CommonFields {
		commonFields = append(commonFields, slog.String(k, v))
	}

	moduleConfig := NewModuleConfig(defaultLevel)
	for _, mod := range cfg.Modules {
		moduleConfig.SetModuleLevel(mod.Name, ParseLevel(mod.Level))
	}
	globalModuleConfig = moduleConfig

	initLoggerWithConfig(defaultLevel, commonFields, moduleConfig, cfg.Format == FormatJSON)
	return nil
}

func initLoggerWithConfig(level slog.Level, commonFields []slog.Attr, moduleConfig *ModuleConfig, useJSON bool) {
	outputMu.Lock()
	out := logOutput
	outputMu.Unlock()

	opts := &slog.HandlerOptions{Level: level}
	if moduleConfig != nil && moduleConfig.Len() > 0 {
		// Module handler does its own filtering; let everything through.
		opts.Level = slog.LevelDebug
	}

	var base slog.Handler
	if useJSON {
		base = slog.NewJSONHandler(out, opts)
	} else {
		base = slog.NewTextHandler(out, opts)
	}

	var handler slog.Handler
	if moduleConfig != nil && moduleConfig.Len() > 0 {
		handler = NewModuleHandler(base, moduleConfig, commonFields...)
	} else {
		handler = NewContextHandler(base, commonFields...)
	}

	DefaultLogger = slog.New(handler)
}

// GetModuleConfig returns the active module configuration.
func GetModuleConfig() *ModuleConfig {
	return globalModuleConfig
}
