// Package handset implements the link to the handset socket server, which
// reports hook switch, keypad and indicator state and accepts indicator,
// ringtone and status-message requests.
package handset

import (
	"encoding/json"
	"fmt"
)

// Presence is the hook switch position.
type Presence string

// Presence values. PresenceUnknown holds until the server reports a state.
const (
	PresenceUnknown Presence = ""
	PresenceUp      Presence = "up"
	PresenceDown    Presence = "down"
)

// Event is one inbound handset event. The set of implementations is closed.
type Event interface {
	isEvent()
}

// PresenceChanged reports the hook switch position. The server sends it on
// connect and on every change.
type PresenceChanged struct {
	Presence Presence
}

// IndicatorState reports the indicator light.
type IndicatorState struct {
	On bool
}

// KeyPressed reports a keypad press.
type KeyPressed struct {
	Key string
}

// RingtoneStopped reports that a ringtone stopped playing.
type RingtoneStopped struct {
	Reason string
}

// Closed reports that the link dropped. Fatal is set once reconnection has
// been given up.
type Closed struct {
	Err   error
	Fatal bool
}

func (PresenceChanged) isEvent() {}
func (IndicatorState) isEvent()  {}
func (KeyPressed) isEvent()      {}
func (RingtoneStopped) isEvent() {}
func (Closed) isEvent()          {}

// Command is one outbound handset request. The set of implementations is
// closed.
type Command interface {
	isCommand()
}

// SetIndicator turns the indicator light on or off.
type SetIndicator struct {
	On bool
}

// StatusMessage is a line of text relayed to every handset client.
type StatusMessage struct {
	Text string
}

// Ring starts a ringtone. An empty Ringtone uses the server default.
type Ring struct {
	Ringtone string
}

// StopRing stops the current ringtone.
type StopRing struct{}

func (SetIndicator) isCommand()  {}
func (StatusMessage) isCommand() {}
func (Ring) isCommand()          {}
func (StopRing) isCommand()      {}

// Wire event names.
const (
	wireHandsetState   = "handset_state"
	wireLEDState       = "led_state"
	wireKeypadPress    = "keypad_press"
	wireRingtoneStop   = "ringtone_stopped"
	wireStatusEcho     = "ai_realtime_client_message"
	wireLEDOn          = "led_on"
	wireLEDOff         = "led_off"
	wireStatusMessage  = "open_ai_realtime_client_message"
	wireRing           = "ring"
	wireStop           = "stop"
	stateUp, stateDown = "up", "down"
	stateOn, stateOff  = "on", "off"
)

// message is the single JSON object shape used in both directions.
type message struct {
	Event    string `json:"event"`
	State    string `json:"state,omitempty"`
	Key      string `json:"key,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
	Ringtone string `json:"ringtone,omitempty"`
	Data     string `json:"data,omitempty"`
}

// decode parses one inbound frame. Known frames the bridge does not act on
// decode to nil with no error.
func decode(data []byte) (Event, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	switch m.Event {
	case wireHandsetState:
		switch m.State {
		case stateUp:
			return PresenceChanged{Presence: PresenceUp}, nil
		case stateDown:
			return PresenceChanged{Presence: PresenceDown}, nil
		default:
			return nil, fmt.Errorf("handset_state: unknown state %q", m.State)
		}
	case wireLEDState:
		switch m.State {
		case stateOn:
			return IndicatorState{On: true}, nil
		case stateOff:
			return IndicatorState{On: false}, nil
		default:
			return nil, fmt.Errorf("led_state: unknown state %q", m.State)
		}
	case wireKeypadPress:
		if m.Key == "" {
			return nil, fmt.Errorf("keypad_press: missing key")
		}
		return KeyPressed{Key: m.Key}, nil
	case wireRingtoneStop:
		return RingtoneStopped{Reason: m.Reason}, nil
	case wireStatusEcho:
		// Our own status messages come back as a broadcast.
		return nil, nil
	case "":
		return nil, fmt.Errorf("frame without event")
	default:
		return nil, nil
	}
}

func encode(cmd Command) (message, error) {
	switch c := cmd.(type) {
	case SetIndicator:
		if c.On {
			return message{Event: wireLEDOn}, nil
		}
		return message{Event: wireLEDOff}, nil
	case StatusMessage:
		return message{Event: wireStatusMessage, Message: c.Text}, nil
	case Ring:
		return message{Event: wireRing, Ringtone: c.Ringtone}, nil
	case StopRing:
		return message{Event: wireStop}, nil
	default:
		return message{}, fmt.Errorf("unsupported command %T", cmd)
	}
}
