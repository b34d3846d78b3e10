package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// BridgeConfig is the bridge manifest.
type BridgeConfig struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   metav1.ObjectMeta `yaml:"metadata,omitempty"`
	Spec       BridgeSpec        `yaml:"spec"`
}

// BridgeSpec holds every configurable section.
type BridgeSpec struct {
	Conversation ConversationSpec  `yaml:"conversation"`
	Handset      HandsetSpec       `yaml:"handset"`
	Capture      CaptureSpec       `yaml:"capture"`
	Playback     PlaybackSpec      `yaml:"playback"`
	Session      SessionSpec       `yaml:"session"`
	Recording    RecordingSpec     `yaml:"recording"`
	Journal      JournalSpec       `yaml:"journal"`
	Metrics      MetricsSpec       `yaml:"metrics"`
	Telemetry    TelemetrySpec     `yaml:"telemetry"`
	StateStore   StateStoreSpec    `yaml:"stateStore"`
	Logging      LoggingConfigSpec `yaml:"logging"`
}

// ConversationSpec configures the realtime conversation link.
type ConversationSpec struct {
	// URL overrides the realtime endpoint built from Model.
	URL   string `yaml:"url,omitempty"`
	Model string `yaml:"model,omitempty"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv     string            `yaml:"apiKeyEnv,omitempty"`
	Instructions  string            `yaml:"instructions,omitempty"`
	InputFormat   string            `yaml:"inputFormat,omitempty"`
	TurnDetection TurnDetectionSpec `yaml:"turnDetection"`
	Reconnect     ReconnectSpec     `yaml:"reconnect"`
	PingInterval  Duration          `yaml:"pingInterval,omitempty"`
}

// TurnDetectionSpec is the provider-neutral turn detection section.
type TurnDetectionSpec struct {
	Mode            string   `yaml:"mode,omitempty"`
	Eagerness       string   `yaml:"eagerness,omitempty"`
	PrefixPadding   Duration `yaml:"prefixPadding,omitempty"`
	SilenceDuration Duration `yaml:"silenceDuration,omitempty"`
	AutoRespond     *bool    `yaml:"autoRespond,omitempty"`
	Interruptible   *bool    `yaml:"interruptible,omitempty"`
}

// ReconnectSpec bounds link redials.
type ReconnectSpec struct {
	InitialDelay Duration `yaml:"initialDelay,omitempty"`
	MaxDelay     Duration `yaml:"maxDelay,omitempty"`
	Multiplier   float64  `yaml:"multiplier,omitempty"`
	Jitter       float64  `yaml:"jitter,omitempty"`
	MaxAttempts  int      `yaml:"maxAttempts,omitempty"`
}

// HandsetSpec configures the handset socket link.
type HandsetSpec struct {
	// Enabled defaults to true. A disabled handset runs one headless
	// session until shutdown.
	Enabled        *bool         `yaml:"enabled,omitempty"`
	URL            string        `yaml:"url,omitempty"`
	Reconnect      ReconnectSpec `yaml:"reconnect"`
	PingInterval   Duration      `yaml:"pingInterval,omitempty"`
	StatusMessages *bool         `yaml:"statusMessages,omitempty"`
	// StatusRateLimit is status messages per second; negative disables it.
	StatusRateLimit float64 `yaml:"statusRateLimit,omitempty"`
	StatusBurst     int     `yaml:"statusBurst,omitempty"`
}

// CaptureSpec configures the recording pipe.
type CaptureSpec struct {
	Command           string   `yaml:"command,omitempty"`
	Args              []string `yaml:"args,omitempty"`
	TempDir           string   `yaml:"tempDir,omitempty"`
	HeaderBytes       int64    `yaml:"headerBytes,omitempty"`
	PollInterval      Duration `yaml:"pollInterval,omitempty"`
	RestartDelay      Duration `yaml:"restartDelay,omitempty"`
	MaxRestarts       int      `yaml:"maxRestarts,omitempty"`
	TransientPatterns []string `yaml:"transientPatterns,omitempty"`
}

// PlaybackSpec configures the playback pipe.
type PlaybackSpec struct {
	Command       string   `yaml:"command,omitempty"`
	Args          []string `yaml:"args,omitempty"`
	StreamHeader  *bool    `yaml:"streamHeader,omitempty"`
	CapacityBytes int      `yaml:"capacityBytes,omitempty"`
	StallTimeout  Duration `yaml:"stallTimeout,omitempty"`
	DrainTimeout  Duration `yaml:"drainTimeout,omitempty"`
}

// SessionSpec configures the session controller.
type SessionSpec struct {
	QuietInterval   Duration        `yaml:"quietInterval,omitempty"`
	MaxPipeRestarts int             `yaml:"maxPipeRestarts,omitempty"`
	EndSessionGrace Duration        `yaml:"endSessionGrace,omitempty"`
	Termination     TerminationSpec `yaml:"termination"`
}

// TerminationSpec is the escalation ladder used to stop device processes.
type TerminationSpec struct {
	Steps      []SignalStep `yaml:"steps,omitempty"`
	SweepGrace Duration     `yaml:"sweepGrace,omitempty"`
}

// SignalStep sends Signal and waits up to Grace for the process to exit.
type SignalStep struct {
	Signal string   `yaml:"signal"`
	Grace  Duration `yaml:"grace"`
}

// RecordingSpec configures the per-turn response archive.
type RecordingSpec struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// JournalSpec configures the per-session event journal.
type JournalSpec struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// MetricsSpec configures the Prometheus exporter.
type MetricsSpec struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// TelemetrySpec configures OTLP trace export.
type TelemetrySpec struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty"`
	// SampleRatio is the fraction of sessions traced; zero traces all.
	SampleRatio float64 `yaml:"sampleRatio,omitempty"`
}

// State store types.
const (
	StateStoreMemory = "memory"
	StateStoreRedis  = "redis"
)

// StateStoreSpec configures where session snapshots are kept.
type StateStoreSpec struct {
	Type     string   `yaml:"type,omitempty"`
	Addr     string   `yaml:"addr,omitempty"`
	Password string   `yaml:"password,omitempty"`
	DB       int      `yaml:"db,omitempty"`
	Prefix   string   `yaml:"prefix,omitempty"`
	TTL      Duration `yaml:"ttl,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("500ms").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats d like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// HandsetEnabled reports whether the handset link is used.
func (s *HandsetSpec) HandsetEnabled() bool { return boolOr(s.Enabled, true) }
