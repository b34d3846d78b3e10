package config

import (
	"os"
	"syscall"

	"github.com/leomancini/ai-phone-firmware/runtime/capture"
	"github.com/leomancini/ai-phone-firmware/runtime/conversation"
	"github.com/leomancini/ai-phone-firmware/runtime/handset"
	"github.com/leomancini/ai-phone-firmware/runtime/playback"
	"github.com/leomancini/ai-phone-firmware/runtime/process"
	"github.com/leomancini/ai-phone-firmware/runtime/providers/openai"
	"github.com/leomancini/ai-phone-firmware/runtime/session"
	"github.com/leomancini/ai-phone-firmware/runtime/telemetry"
	"github.com/leomancini/ai-phone-firmware/runtime/version"
	"github.com/leomancini/ai-phone-firmware/runtime/wsclient"
)

var signals = map[string]syscall.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGKILL": syscall.SIGKILL,
}

func signalByName(name string) (syscall.Signal, bool) {
	sig, ok := signals[name]
	return sig, ok
}

// Policy converts the section for wsclient.
func (r ReconnectSpec) Policy() wsclient.ReconnectPolicy {
	return wsclient.ReconnectPolicy{
		InitialDelay: r.InitialDelay.Std(),
		MaxDelay:     r.MaxDelay.Std(),
		Multiplier:   r.Multiplier,
		Jitter:       r.Jitter,
		MaxAttempts:  r.MaxAttempts,
	}
}

// APIKey reads the key from the configured environment variable.
func (c *ConversationSpec) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// TurnDetectionConfig converts the turn detection section.
func (c *ConversationSpec) TurnDetectionConfig() conversation.TurnDetectionConfig {
	t := c.TurnDetection
	return conversation.TurnDetectionConfig{
		Mode:            conversation.DetectionMode(t.Mode),
		Sensitivity:     conversation.Sensitivity(t.Eagerness),
		PrefixPadding:   t.PrefixPadding.Std(),
		SilenceDuration: t.SilenceDuration.Std(),
		AutoRespond:     boolOr(t.AutoRespond, true),
		Interruptible:   boolOr(t.Interruptible, true),
	}
}

// LinkConfig returns the realtime link configuration. The emitter is left
// for the caller to set.
func (c *ConversationSpec) LinkConfig() openai.LinkConfig {
	return openai.LinkConfig{
		URL:          c.URL,
		Model:        c.Model,
		APIKey:       c.APIKey(),
		Reconnect:    c.Reconnect.Policy(),
		PingInterval: c.PingInterval.Std(),
	}
}

// LinkConfig returns the handset link configuration.
func (h *HandsetSpec) LinkConfig() handset.Config {
	return handset.Config{
		URL:          h.URL,
		Reconnect:    h.Reconnect.Policy(),
		PingInterval: h.PingInterval.Std(),
		StatusRate:   h.StatusRateLimit,
		StatusBurst:  h.StatusBurst,
	}
}

// Ladder returns the escalation ladder for device processes. Unknown
// signals are skipped; Validate reports them.
func (s *SessionSpec) Ladder() process.Ladder {
	ladder := process.Ladder{SweepGrace: s.Termination.SweepGrace.Std()}
	for _, step := range s.Termination.Steps {
		sig, ok := signalByName(step.Signal)
		if !ok {
			continue
		}
		ladder.Steps = append(ladder.Steps, process.Step{Signal: sig, Grace: step.Grace.Std()})
	}
	return ladder
}

// PipeConfig returns the recording pipe configuration.
func (c *CaptureSpec) PipeConfig(ladder process.Ladder) capture.Config {
	return capture.Config{
		Command:           c.Command,
		Args:              append([]string(nil), c.Args...),
		TempDir:           c.TempDir,
		HeaderBytes:       c.HeaderBytes,
		PollInterval:      c.PollInterval.Std(),
		RestartDelay:      c.RestartDelay.Std(),
		MaxRestarts:       c.MaxRestarts,
		TransientPatterns: append([]string(nil), c.TransientPatterns...),
		Ladder:            ladder,
	}
}

// PipeConfig returns the playback pipe configuration.
func (p *PlaybackSpec) PipeConfig(ladder process.Ladder) playback.Config {
	return playback.Config{
		Command:       p.Command,
		Args:          append([]string(nil), p.Args...),
		StreamHeader:  boolOr(p.StreamHeader, true),
		CapacityBytes: p.CapacityBytes,
		StallTimeout:  p.StallTimeout.Std(),
		DrainTimeout:  p.DrainTimeout.Std(),
		Ladder:        ladder,
	}
}

// SessionConfig returns the controller tunables. Links, pipes and the
// emitter are left for the caller to set.
func (s *BridgeSpec) SessionConfig() session.Config {
	return session.Config{
		Instructions:    s.Conversation.Instructions,
		InputFormat:     s.Conversation.InputFormat,
		TurnDetection:   s.Conversation.TurnDetectionConfig(),
		QuietInterval:   s.Session.QuietInterval.Std(),
		MaxPipeRestarts: s.Session.MaxPipeRestarts,
		EndSessionGrace: s.Session.EndSessionGrace.Std(),
		StatusMessages:  s.Handset.HandsetEnabled() && boolOr(s.Handset.StatusMessages, true),
		RetainTurnAudio: s.Recording.Enabled,
	}
}

// ProviderConfig returns the OTLP exporter configuration.
func (t *TelemetrySpec) ProviderConfig() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		Endpoint:       t.Endpoint,
		ServiceName:    t.ServiceName,
		ServiceVersion: version.GetVersion(),
		SampleRatio:    t.SampleRatio,
	}
}
