package config

import (
	"time"

	"github.com/leomancini/ai-phone-firmware/runtime/capture"
	"github.com/leomancini/ai-phone-firmware/runtime/conversation"
	"github.com/leomancini/ai-phone-firmware/runtime/handset"
	"github.com/leomancini/ai-phone-firmware/runtime/playback"
	"github.com/leomancini/ai-phone-firmware/runtime/process"
	"github.com/leomancini/ai-phone-firmware/runtime/providers/openai"
	"github.com/leomancini/ai-phone-firmware/runtime/recording"
	"github.com/leomancini/ai-phone-firmware/runtime/session"
	"github.com/leomancini/ai-phone-firmware/runtime/wsclient"
)

// Defaults for sections that have no runtime package of their own.
const (
	DefaultAPIKeyEnv   = "OPENAI_API_KEY"
	DefaultMetricsAddr = ":9090"
	DefaultJournalDir  = "./journal"
	DefaultServiceName = "voicebridge"
	DefaultOTLPURL     = "http://localhost:4318"
	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "voicebridge"
	DefaultStateTTL    = 7 * 24 * time.Hour
)

// Default returns a manifest reproducing the reference deployment: rec and
// sox on ALSA, the handset server on port 8765, semantic VAD.
func Default() *BridgeConfig {
	cfg := &BridgeConfig{APIVersion: APIVersion, Kind: Kind}
	cfg.Metadata.Name = "default"
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field. Explicit values are kept.
func (c *BridgeConfig) ApplyDefaults() {
	s := &c.Spec
	s.Conversation.applyDefaults()
	s.Handset.applyDefaults()
	s.Capture.applyDefaults()
	s.Playback.applyDefaults()
	s.Session.applyDefaults()

	if s.Recording.Dir == "" {
		s.Recording.Dir = recording.DefaultArchiveDir
	}
	if s.Journal.Dir == "" {
		s.Journal.Dir = DefaultJournalDir
	}
	if s.Metrics.Addr == "" {
		s.Metrics.Addr = DefaultMetricsAddr
	}
	if s.Telemetry.Endpoint == "" {
		s.Telemetry.Endpoint = DefaultOTLPURL
	}
	if s.Telemetry.ServiceName == "" {
		s.Telemetry.ServiceName = DefaultServiceName
	}
	s.StateStore.applyDefaults()

	logDefaults := DefaultLoggingConfig()
	if s.Logging.DefaultLevel == "" {
		s.Logging.DefaultLevel = logDefaults.DefaultLevel
	}
	if s.Logging.Format == "" {
		s.Logging.Format = logDefaults.Format
	}
	if s.Logging.Output == "" {
		s.Logging.Output = logDefaults.Output
	}
}

func (c *ConversationSpec) applyDefaults() {
	if c.Model == "" {
		c.Model = openai.DefaultModel
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Instructions == "" {
		c.Instructions = openai.DefaultInstructions
	}
	if c.InputFormat == "" {
		c.InputFormat = openai.DefaultInputFormat
	}
	c.TurnDetection.applyDefaults()
	c.Reconnect.applyDefaults()
	if c.PingInterval == 0 {
		c.PingInterval = Duration(wsclient.DefaultPingInterval)
	}
}

func (t *TurnDetectionSpec) applyDefaults() {
	def := conversation.DefaultTurnDetection()
	if t.Mode == "" {
		t.Mode = string(def.Mode)
	}
	if t.Eagerness == "" {
		t.Eagerness = string(def.Sensitivity)
	}
	if t.PrefixPadding == 0 {
		t.PrefixPadding = Duration(def.PrefixPadding)
	}
	if t.SilenceDuration == 0 {
		t.SilenceDuration = Duration(def.SilenceDuration)
	}
	if t.AutoRespond == nil {
		t.AutoRespond = &def.AutoRespond
	}
	if t.Interruptible == nil {
		t.Interruptible = &def.Interruptible
	}
}

func (r *ReconnectSpec) applyDefaults() {
	def := wsclient.DefaultReconnectPolicy()
	if r.InitialDelay == 0 {
		r.InitialDelay = Duration(def.InitialDelay)
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = Duration(def.MaxDelay)
	}
	if r.Multiplier == 0 {
		r.Multiplier = def.Multiplier
	}
	if r.Jitter == 0 {
		r.Jitter = def.Jitter
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
}

func (h *HandsetSpec) applyDefaults() {
	if h.URL == "" {
		h.URL = handset.DefaultURL
	}
	h.Reconnect.applyDefaults()
	if h.PingInterval == 0 {
		h.PingInterval = Duration(wsclient.DefaultPingInterval)
	}
	if h.StatusRateLimit == 0 {
		h.StatusRateLimit = handset.DefaultStatusRate
	}
	if h.StatusBurst == 0 {
		h.StatusBurst = handset.DefaultStatusBurst
	}
}

func (c *CaptureSpec) applyDefaults() {
	def := capture.DefaultConfig()
	if c.Command == "" {
		c.Command = def.Command
	}
	if len(c.Args) == 0 {
		c.Args = def.Args
	}
	if c.HeaderBytes == 0 {
		c.HeaderBytes = def.HeaderBytes
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(def.PollInterval)
	}
	if c.RestartDelay == 0 {
		c.RestartDelay = Duration(def.RestartDelay)
	}
	if c.MaxRestarts == 0 {
		c.MaxRestarts = def.MaxRestarts
	}
	if len(c.TransientPatterns) == 0 {
		c.TransientPatterns = def.TransientPatterns
	}
}

func (p *PlaybackSpec) applyDefaults() {
	def := playback.DefaultConfig()
	if p.Command == "" {
		p.Command = def.Command
	}
	if len(p.Args) == 0 {
		p.Args = def.Args
	}
	if p.StreamHeader == nil {
		p.StreamHeader = &def.StreamHeader
	}
	if p.CapacityBytes == 0 {
		p.CapacityBytes = def.CapacityBytes
	}
	if p.StallTimeout == 0 {
		p.StallTimeout = Duration(def.StallTimeout)
	}
	if p.DrainTimeout == 0 {
		p.DrainTimeout = Duration(def.DrainTimeout)
	}
}

func (s *SessionSpec) applyDefaults() {
	if s.QuietInterval == 0 {
		s.QuietInterval = Duration(session.DefaultQuietInterval)
	}
	if s.MaxPipeRestarts == 0 {
		s.MaxPipeRestarts = session.DefaultMaxPipeRestarts
	}
	if s.EndSessionGrace == 0 {
		s.EndSessionGrace = Duration(session.DefaultEndSessionGrace)
	}
	if len(s.Termination.Steps) == 0 {
		s.Termination.Steps = []SignalStep{
			{Signal: "SIGTERM", Grace: Duration(process.DefaultTermGrace)},
			{Signal: "SIGKILL", Grace: Duration(process.DefaultKillGrace)},
		}
	}
	if s.Termination.SweepGrace == 0 {
		s.Termination.SweepGrace = Duration(process.DefaultSweepGrace)
	}
}

func (s *StateStoreSpec) applyDefaults() {
	if s.Type == "" {
		s.Type = StateStoreMemory
	}
	if s.Type == StateStoreRedis && s.Addr == "" {
		s.Addr = DefaultRedisAddr
	}
	if s.Prefix == "" {
		s.Prefix = DefaultRedisPrefix
	}
	if s.TTL == 0 {
		s.TTL = Duration(DefaultStateTTL)
	}
}
