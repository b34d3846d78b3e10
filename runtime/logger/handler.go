package logger

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
)

// ContextHandler is a slog.Handler that adds common fields and the logging
// fields stored in the context to every record before delegating.
type ContextHandler struct {
	inner        slog.Handler
	commonFields []slog.Attr
}

// NewContextHandler wraps inner.
func NewContextHandler(inner slog.Handler, commonFields ...slog.Attr) *ContextHandler {
	return &ContextHandler{inner: inner, commonFields: commonFields}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enriches r and passes it on.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, h.enrich(ctx, r, ""))
}

//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ContextHandler) enrich(ctx context.Context, r slog.Record, module string) slog.Record {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	out.AddAttrs(h.commonFields...)
	if module != "" {
		out.AddAttrs(slog.String("logger", module))
	}
	if ctx != nil {
		for _, key := range allContextKeys {
			if s, ok := ctx.Value(key).(string); ok && s != "" {
				out.AddAttrs(slog.String(string(key), s))
			}
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(a)
		return true
	})
	return out
}

// WithAttrs returns a handler whose inner handler carries attrs.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), commonFields: h.commonFields}
}

// WithGroup returns a handler whose inner handler opens group name.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name), commonFields: h.commonFields}
}

// Unwrap returns the inner handler.
func (h *ContextHandler) Unwrap() slog.Handler {
	return h.inner
}

var _ slog.Handler = (*ContextHandler)(nil)

// ModuleHandler filters records by the level configured for the calling
// package and tags them with a "logger" attribute.
type ModuleHandler struct {
	ContextHandler
	moduleConfig *ModuleConfig
}

// NewModuleHandler wraps inner with per-module filtering.
func NewModuleHandler(inner slog.Handler, moduleConfig *ModuleConfig, commonFields ...slog.Attr) *ModuleHandler {
	return &ModuleHandler{
		ContextHandler: ContextHandler{inner: inner, commonFields: commonFields},
		moduleConfig:   moduleConfig,
	}
}

// Enabled reports whether any module could log at level. Exact filtering
// happens in Handle once the caller PC is known.
func (h *ModuleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle drops records below the caller module's level.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ModuleHandler) Handle(ctx context.Context, r slog.Record) error {
	module := moduleFromPC(r.PC)
	if r.Level < h.moduleConfig.LevelFor(module) {
		return nil
	}
	return h.inner.Handle(ctx, h.enrich(ctx, r, module))
}

// WithAttrs returns a module handler whose inner handler carries attrs.
func (h *ModuleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ModuleHandler{
		ContextHandler: ContextHandler{inner: h.inner.WithAttrs(attrs), commonFields: h.commonFields},
		moduleConfig:   h.moduleConfig,
	}
}

// WithGroup returns a module handler whose inner handler opens group name.
func (h *ModuleHandler) WithGroup(name string) slog.Handler {
	return &ModuleHandler{
		ContextHandler: ContextHandler{inner: h.inner.WithGroup(name), commonFields: h.commonFields},
		moduleConfig:   h.moduleConfig,
	}
}

var _ slog.Handler = (*ModuleHandler)(nil)

const moduleRoot = "github.com/leomancini/ai-phone-firmware/"

// moduleFromPC resolves the package of the frame that logged. Records sent
// through the package-level helpers report the helper's frame, so the first
// frame outside this package is used instead.
func moduleFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	module := extractModuleFromFunction(frame.Function)
	if module != "runtime.logger" {
		return module
	}
	return callerOutsideLogger()
}

func callerOutsideLogger() string {
	const maxDepth = 16
	var pcs [maxDepth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if module := extractModuleFromFunction(frame.Function); module != "" && module != "runtime.logger" {
			return module
		}
		if !more {
			return ""
		}
	}
}

// extractModuleFromFunction turns
// "github.com/leomancini/ai-phone-firmware/runtime/capture.(*Pipe).Start"
// into "runtime.capture". Functions outside this module yield "".
func extractModuleFromFunction(fn string) string {
	idx := strings.Index(fn, moduleRoot)
	if idx == -1 {
		return ""
	}
	path := fn[idx+len(moduleRoot):]

	// Package path ends at the first dot after the last slash.
	lastSlash := strings.LastIndex(path, "/")
	if dot := strings.Index(path[lastSlash+1:], "."); dot != -1 {
		path = path[:lastSlash+1+dot]
	}
	return strings.ReplaceAll(path, "/", ".")
}
