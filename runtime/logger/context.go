package logger

import "context"

type contextKey string

// Context keys whose values are added to every record logged with that context.
const (
	ContextKeySessionID contextKey = "session_id"
	ContextKeyTurnID    contextKey = "turn_id"
	ContextKeyComponent contextKey = "component"
)

var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyTurnID,
	ContextKeyComponent,
}

// WithSessionID returns a context carrying the conversation session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithTurnID returns a context carrying the current turn ID.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, ContextKeyTurnID, turnID)
}

// WithComponent returns a context carrying the component name.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ContextKeyComponent, component)
}

// LoggingFields holds the values extracted from a context.
type LoggingFields struct {
	SessionID string
	TurnID    string
	Component string
}

// ExtractLoggingFields reads all logging fields from ctx.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	var f LoggingFields
	f.SessionID, _ = ctx.Value(ContextKeySessionID).(string)
	f.TurnID, _ = ctx.Value(ContextKeyTurnID).(string)
	f.Component, _ = ctx.Value(ContextKeyComponent).(string)
	return f
}
