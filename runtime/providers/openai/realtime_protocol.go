// Package openai implements the conversation link over the OpenAI Realtime
// API websocket protocol.
package openai

import "encoding/json"

// Client Events - sent from client to server

// ClientEvent is the base structure for all client events.
type ClientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// SessionUpdateEvent updates session configuration.
type SessionUpdateEvent struct {
	ClientEvent
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session configuration sent in session.update.
// TurnDetection has no omitempty: an explicit null disables VAD, while an
// omitted field leaves the server default in place.
type SessionConfig struct {
	Modalities        []string                 `json:"modalities,omitempty"`
	Instructions      string                   `json:"instructions,omitempty"`
	Voice             string                   `json:"voice,omitempty"`
	InputAudioFormat  string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat string                   `json:"output_audio_format,omitempty"`
	TurnDetection     *TurnDetectionWireConfig `json:"turn_detection"`
}

// TurnDetectionWireConfig is the turn_detection object of session.update.
type TurnDetectionWireConfig struct {
	Type string `json:"type"`

	// server_vad
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`

	// semantic_vad
	Eagerness string `json:"eagerness,omitempty"`

	CreateResponse    *bool `json:"create_response,omitempty"`
	InterruptResponse *bool `json:"interrupt_response,omitempty"`
}

// InputAudioBufferAppendEvent appends audio to the input buffer.
type InputAudioBufferAppendEvent struct {
	ClientEvent
	Audio string `json:"audio"` // Base64-encoded audio data
}

// SessionEndEvent asks the server to end the session.
type SessionEndEvent struct {
	ClientEvent
}

// Server Events - received from server

// ServerEvent is the base structure for all server events.
type ServerEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// ErrorEvent indicates an error occurred.
type ErrorEvent struct {
	ServerEvent
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// SessionCreatedEvent is sent when the session is established.
type SessionCreatedEvent struct {
	ServerEvent
	Session SessionInfo `json:"session"`
}

// SessionInfo is the part of the session object the link uses.
type SessionInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Model  string `json:"model"`
}

// InputAudioBufferSpeechStartedEvent indicates speech was detected.
type InputAudioBufferSpeechStartedEvent struct {
	ServerEvent
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// InputAudioBufferSpeechStoppedEvent indicates speech ended.
type InputAudioBufferSpeechStoppedEvent struct {
	ServerEvent
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

// ResponseCreatedEvent indicates a response has started.
type ResponseCreatedEvent struct {
	ServerEvent
	Response ResponseInfo `json:"response"`
}

// ResponseInfo contains response metadata.
type ResponseInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Status string `json:"status"`
}

// ResponseDoneEvent is sent when a response reaches a terminal status.
type ResponseDoneEvent struct {
	ServerEvent
	Response ResponseDoneInfo `json:"response"`
}

// ResponseDoneInfo is the final response object.
type ResponseDoneInfo struct {
	ResponseInfo
	StatusDetails *ResponseStatusDetails `json:"status_details,omitempty"`
}

// ResponseStatusDetails explains a status other than completed.
type ResponseStatusDetails struct {
	Type   string       `json:"type"`
	Reason string       `json:"reason,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// Terminal response statuses.
const (
	ResponseStatusCompleted  = "completed"
	ResponseStatusCancelled  = "cancelled"
	ResponseStatusFailed     = "failed"
	ResponseStatusIncomplete = "incomplete"
)

// ResponseContentPartDoneEvent indicates content part completed.
type ResponseContentPartDoneEvent struct {
	ServerEvent
	ResponseID   string           `json:"response_id"`
	ItemID       string           `json:"item_id"`
	OutputIndex  int              `json:"output_index"`
	ContentIndex int              `json:"content_index"`
	Part         ContentPartValue `json:"part"`
}

// ContentPartValue is a completed content part.
type ContentPartValue struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ResponseAudioDeltaEvent provides streaming audio.
type ResponseAudioDeltaEvent struct {
	ServerEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"` // Base64-encoded audio
}

// ParseServerEvent parses a raw JSON message into the appropriate event type.
// Types the link does not act on come back as *ServerEvent.
func ParseServerEvent(data []byte) (interface{}, error) {
	// First, parse just the type
	var base ServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	// Then parse into the specific type
	switch base.Type {
	case "error":
		var e ErrorEvent
		return &e, json.Unmarshal(data, &e)
	case "session.created":
		var e SessionCreatedEvent
		return &e, json.Unmarshal(data, &e)
	case "input_audio_buffer.speech_started":
		var e InputAudioBufferSpeechStartedEvent
		return &e, json.Unmarshal(data, &e)
	case "input_audio_buffer.speech_stopped":
		var e InputAudioBufferSpeechStoppedEvent
		return &e, json.Unmarshal(data, &e)
	case "response.created":
		var e ResponseCreatedEvent
		return &e, json.Unmarshal(data, &e)
	case "response.done":
		var e ResponseDoneEvent
		return &e, json.Unmarshal(data, &e)
	case "response.content_part.done":
		var e ResponseContentPartDoneEvent
		return &e, json.Unmarshal(data, &e)
	case "response.audio.delta":
		var e ResponseAudioDeltaEvent
		return &e, json.Unmarshal(data, &e)
	default:
		return &base, nil
	}
}
