// Package conversation defines the closed set of events and commands
// exchanged with the remote conversation service. Providers decode their
// wire protocol into these types at the link boundary so the session
// controller only ever switches over a finite list of variants.
package conversation

import "github.com/leomancini/ai-phone-firmware/runtime/audio"

// Event is one inbound event. The set of implementations is closed.
type Event interface {
	isEvent()
}

// SessionReady is sent once the remote session exists.
type SessionReady struct {
	SessionID string
}

// SpeechStarted reports that the remote VAD heard the user start talking.
type SpeechStarted struct{}

// SpeechStopped reports that the remote VAD heard the user stop talking.
type SpeechStopped struct{}

// TurnStarted marks the beginning of a response.
type TurnStarted struct {
	ResponseID string
}

// AudioDelta carries one piece of response audio, already decoded to PCM.
type AudioDelta struct {
	ResponseID string
	Audio      audio.Chunk
}

// TurnDone is the textual end of a response. Audio may still be in flight.
// Status is empty for a completed response and otherwise names how it
// ended early, such as cancelled or failed.
type TurnDone struct {
	ResponseID string
	Transcript string
	Status     string
}

// Error is an error reported by the remote service. It does not end the
// session.
type Error struct {
	Code    string
	Message string
}

// Closed reports that the link dropped. Fatal is set once reconnection has
// been given up.
type Closed struct {
	Err   error
	Fatal bool
}

func (SessionReady) isEvent()  {}
func (SpeechStarted) isEvent() {}
func (SpeechStopped) isEvent() {}
func (TurnStarted) isEvent()   {}
func (AudioDelta) isEvent()    {}
func (TurnDone) isEvent()      {}
func (Error) isEvent()         {}
func (Closed) isEvent()        {}

// Name returns a stable label for ev, used in logs and metrics.
func Name(ev Event) string {
	switch ev.(type) {
	case SessionReady:
		return "session_ready"
	case SpeechStarted:
		return "speech_started"
	case SpeechStopped:
		return "speech_stopped"
	case TurnStarted:
		return "turn_started"
	case AudioDelta:
		return "audio_delta"
	case TurnDone:
		return "turn_done"
	case Error:
		return "error"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
