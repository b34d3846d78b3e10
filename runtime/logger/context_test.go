package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestExtractLoggingFields(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess_1")
	ctx = WithTurnID(ctx, "turn-9")
	ctx = WithComponent(ctx, "playback")

	f := ExtractLoggingFields(ctx)
	if f.SessionID != "sess_1" || f.TurnID != "turn-9" || f.Component != "playback" {
		t.Errorf("unexpected fields: %+v", f)
	}

	empty := ExtractLoggingFields(context.Background())
	if empty != (LoggingFields{}) {
		t.Errorf("expected zero fields, got %+v", empty)
	}
}

func TestContextHandler_CommonAndContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := slog.New(NewContextHandler(base, slog.String("service", "voicebridge")))

	ctx := WithComponent(context.Background(), "capture")
	l.InfoContext(ctx, "chunk emitted", "seq", 4)

	out := buf.String()
	for _, want := range []string{"service=voicebridge", "component=capture", "seq=4"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %s", want, out)
		}
	}
}

func TestContextHandler_SkipsEmptyValues(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)
	l := slog.New(NewContextHandler(base))

	l.InfoContext(WithTurnID(context.Background(), ""), "no turn")
	if strings.Contains(buf.String(), "turn_id") {
		t.Errorf("empty turn_id should be omitted: %s", buf.String())
	}
}

func TestContextHandler_UnwrapAndGroups(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)
	h := NewContextHandler(base)
	if h.Unwrap() != base {
		t.Error("Unwrap should return the inner handler")
	}

	l := slog.New(h.WithGroup("link")).With("name", "handset")
	l.Info("connected")
	if !strings.Contains(buf.String(), "link.name=handset") {
		t.Errorf("expected grouped attr: %s", buf.String())
	}
}
