package openai

import (
	"time"

	"github.com/leomancini/ai-phone-firmware/runtime/conversation"
)

// Realtime API constants
const (
	// RealtimeAPIEndpoint is the base WebSocket endpoint for OpenAI Realtime API.
	RealtimeAPIEndpoint = "wss://api.openai.com/v1/realtime"

	// RealtimeBetaHeader is required for the Realtime API.
	RealtimeBetaHeader = "realtime=v1"

	// DefaultModel is the realtime model used by the reference deployment.
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"

	// DefaultInstructions is sent when no instructions are configured.
	DefaultInstructions = "You are a helpful AI assistant. Please provide clear and concise responses."

	// DefaultInputFormat is the only audio format the pipes produce.
	DefaultInputFormat = "pcm16"
)

// VAD thresholds per sensitivity. A lower threshold triggers on quieter
// speech.
const (
	thresholdLow    = 0.7
	thresholdMedium = 0.5
	thresholdHigh   = 0.3
)

// TurnDetectionToWire translates the provider-neutral configuration into
// the turn_detection object. DetectionNone maps to nil, which is sent as an
// explicit null.
func TurnDetectionToWire(cfg conversation.TurnDetectionConfig) *TurnDetectionWireConfig {
	autoRespond := cfg.AutoRespond
	interruptible := cfg.Interruptible

	switch cfg.Mode {
	case conversation.DetectionNone:
		return nil
	case conversation.DetectionServerVAD:
		return &TurnDetectionWireConfig{
			Type:              string(conversation.DetectionServerVAD),
			Threshold:         vadThreshold(cfg.Sensitivity),
			PrefixPaddingMs:   millis(cfg.PrefixPadding),
			SilenceDurationMs: millis(cfg.SilenceDuration),
			CreateResponse:    &autoRespond,
			InterruptResponse: &interruptible,
		}
	default:
		eagerness := string(cfg.Sensitivity)
		if eagerness == "" {
			eagerness = string(conversation.SensitivityAuto)
		}
		return &TurnDetectionWireConfig{
			Type:              string(conversation.DetectionSemanticVAD),
			Eagerness:         eagerness,
			CreateResponse:    &autoRespond,
			InterruptResponse: &interruptible,
		}
	}
}

func vadThreshold(s conversation.Sensitivity) float64 {
	switch s {
	case conversation.SensitivityLow:
		return thresholdLow
	case conversation.SensitivityHigh:
		return thresholdHigh
	default:
		return thresholdMedium
	}
}

func millis(d time.Duration) int {
	return int(d / time.Millisecond)
}
