package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"TRACE", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetVerbose(t *testing.T) {
	defer SetLevel(slog.LevelInfo)

	SetVerbose(true)
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug enabled after SetVerbose(true)")
	}

	SetVerbose(false)
	if DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug disabled after SetVerbose(false)")
	}
}

func TestSetOutput_CapturesRecords(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel(slog.LevelInfo)

	Info("capture started", "path", "/tmp/capture-1.wav")
	Warn("capture restarting", "attempt", 2)
	Debug("hidden at info level")

	out := buf.String()
	if !strings.Contains(out, "capture started") || !strings.Contains(out, "path=/tmp/capture-1.wav") {
		t.Errorf("missing info record: %s", out)
	}
	if !strings.Contains(out, "attempt=2") {
		t.Errorf("missing warn record: %s", out)
	}
	if strings.Contains(out, "hidden at info level") {
		t.Errorf("debug record should be filtered: %s", out)
	}
}

func TestContextVariants_AddSessionFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	ctx := WithSessionID(context.Background(), "sess_abc")
	ctx = WithTurnID(ctx, "turn-1")
	InfoContext(ctx, "turn started")
	ErrorContext(ctx, "turn failed", "error", "stall")

	out := buf.String()
	if strings.Count(out, "session_id=sess_abc") != 2 {
		t.Errorf("expected session_id on both records: %s", out)
	}
	if !strings.Contains(out, "turn_id=turn-1") {
		t.Errorf("expected turn_id: %s", out)
	}
}

func TestRedactSensitiveData(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		contains string
		absent   string
	}{
		{
			name:     "openai key",
			in:       "dial failed for key sk-proj_abcdefghijklmnopqrstuvwxyz123456",
			contains: "sk-p...[REDACTED]",
			absent:   "abcdefghijklmnop",
		},
		{
			name:     "bearer header",
			in:       "Authorization: Bearer abc.def-123",
			contains: "Bearer [REDACTED]",
			absent:   "abc.def-123",
		},
		{
			name:     "nothing sensitive",
			in:       "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview",
			contains: "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactSensitiveData(tt.in)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, got)
			}
			if tt.absent != "" && strings.Contains(got, tt.absent) {
				t.Errorf("expected %q to be redacted from %q", tt.absent, got)
			}
		})
	}
}
