package conversation

import (
	"fmt"
	"time"

	"github.com/leomancini/ai-phone-firmware/runtime/audio"
)

// Command is one outbound command. The set of implementations is closed.
type Command interface {
	isCommand()
}

// ConfigureSession sets the assistant instructions, the captured audio
// format and turn detection.
type ConfigureSession struct {
	Instructions  string
	InputFormat   string
	TurnDetection TurnDetectionConfig
}

// AppendAudio forwards captured PCM.
type AppendAudio struct {
	Audio audio.Chunk
}

// EndSession asks the service to end the session.
type EndSession struct{}

func (ConfigureSession) isCommand() {}
func (AppendAudio) isCommand()      {}
func (EndSession) isCommand()       {}

// DetectionMode selects who decides when the user has finished speaking.
type DetectionMode string

const (
	// DetectionServerVAD uses silence-based voice activity detection.
	DetectionServerVAD DetectionMode = "server_vad"
	// DetectionSemanticVAD uses the model's judgement of the utterance.
	DetectionSemanticVAD DetectionMode = "semantic_vad"
	// DetectionNone disables remote turn detection.
	DetectionNone DetectionMode = "none"
)

// Sensitivity is an abstract eagerness level. Providers map it to their own
// thresholds.
type Sensitivity string

// Sensitivity levels.
const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
	SensitivityAuto   Sensitivity = "auto"
)

// TurnDetectionConfig is the provider-neutral turn detection setup.
type TurnDetectionConfig struct {
	Mode        DetectionMode
	Sensitivity Sensitivity
	// PrefixPadding and SilenceDuration only apply to DetectionServerVAD.
	PrefixPadding   time.Duration
	SilenceDuration time.Duration
	// AutoRespond starts a response as soon as the user stops speaking.
	AutoRespond bool
	// Interruptible lets user speech cancel an ongoing response.
	Interruptible bool
}

// DefaultTurnDetection matches the reference deployment.
func DefaultTurnDetection() TurnDetectionConfig {
	return TurnDetectionConfig{
		Mode:            DetectionSemanticVAD,
		Sensitivity:     SensitivityMedium,
		PrefixPadding:   300 * time.Millisecond,
		SilenceDuration: 500 * time.Millisecond,
		AutoRespond:     true,
		Interruptible:   true,
	}
}

// Validate checks the enumerations and durations.
func (c TurnDetectionConfig) Validate() error {
	switch c.Mode {
	case DetectionServerVAD, DetectionSemanticVAD, DetectionNone:
	default:
		return fmt.Errorf("turn detection: unknown mode %q", c.Mode)
	}
	switch c.Sensitivity {
	case "", SensitivityLow, SensitivityMedium, SensitivityHigh, SensitivityAuto:
	default:
		return fmt.Errorf("turn detection: unknown sensitivity %q", c.Sensitivity)
	}
	if c.PrefixPadding < 0 || c.SilenceDuration < 0 {
		return fmt.Errorf("turn detection: durations must not be negative")
	}
	return nil
}
