package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/audio"
	"github.com/leomancini/ai-phone-firmware/runtime/conversation"
	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
	"github.com/leomancini/ai-phone-firmware/runtime/wsclient"
)

const (
	component    = "openai"
	eventsBuffer = 256
)

// LinkConfig configures a realtime Link.
type LinkConfig struct {
	// URL overrides the endpoint. When empty it is built from
	// RealtimeAPIEndpoint and Model.
	URL          string
	Model        string
	APIKey       string
	Reconnect    wsclient.ReconnectPolicy
	PingInterval time.Duration
	// Emitter receives link.error and link.malformed events. Optional.
	Emitter *events.Emitter
}

// EndpointURL returns the websocket URL the link dials.
func (c LinkConfig) EndpointURL() string {
	if c.URL != "" {
		return c.URL
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	return RealtimeAPIEndpoint + "?model=" + url.QueryEscape(model)
}

// Link is a conversation link over the OpenAI Realtime websocket protocol.
// Inbound frames are decoded into conversation events at this boundary;
// frames that cannot be decoded are logged and dropped.
type Link struct {
	cfg    LinkConfig
	client *wsclient.Client
	events chan conversation.Event

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Audio sequence numbers restart at zero per response.
	seqMu    sync.Mutex
	seqResp  string
	sequence uint64
}

// NewLink creates a Link. Nothing is dialed until Open.
func NewLink(cfg LinkConfig) *Link {
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	header.Set("OpenAI-Beta", RealtimeBetaHeader)

	return &Link{
		cfg: cfg,
		client: wsclient.New(wsclient.Config{
			Name:         events.LinkConversation,
			URL:          cfg.EndpointURL(),
			Header:       header,
			Reconnect:    cfg.Reconnect,
			PingInterval: cfg.PingInterval,
		}),
		events: make(chan conversation.Event, eventsBuffer),
	}
}

// Open connects to the service. The session is usable once a
// conversation.SessionReady event arrives.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.wg.Add(1)
	go l.translate(runCtx)
	l.mu.Unlock()

	// The lock is not held while dialing so Close can interrupt.
	if err := l.client.Open(ctx); err != nil {
		_ = l.Close()
		return pkgerrors.New(component, "Open", err).WithKind(pkgerrors.KindLink)
	}
	return nil
}

// Events delivers decoded inbound events in arrival order. The channel is
// never closed; events left unread at Close are discarded.
func (l *Link) Events() <-chan conversation.Event { return l.events }

// Send encodes cmd and writes it to the socket.
func (l *Link) Send(cmd conversation.Command) error {
	var msg any
	switch c := cmd.(type) {
	case conversation.ConfigureSession:
		msg = sessionUpdate(c)
	case conversation.AppendAudio:
		msg = InputAudioBufferAppendEvent{
			ClientEvent: ClientEvent{Type: "input_audio_buffer.append"},
			Audio:       base64.StdEncoding.EncodeToString(c.Audio.Bytes()),
		}
	case conversation.EndSession:
		msg = SessionEndEvent{ClientEvent: ClientEvent{Type: "session.end"}}
	default:
		return pkgerrors.New(component, "Send", fmt.Errorf("unsupported command %T", cmd))
	}

	if err := l.client.Send(msg); err != nil {
		return pkgerrors.New(component, "Send", err).WithKind(pkgerrors.KindLink)
	}
	return nil
}

// Close closes the socket and stops translating. The link can be opened
// again afterwards.
func (l *Link) Close() error {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	l.wg.Wait()
	err := l.client.Close()

	for {
		select {
		case <-l.events:
		default:
			return err
		}
	}
}

func sessionUpdate(c conversation.ConfigureSession) SessionUpdateEvent {
	instructions := c.Instructions
	if instructions == "" {
		instructions = DefaultInstructions
	}
	format := c.InputFormat
	if format == "" {
		format = DefaultInputFormat
	}
	return SessionUpdateEvent{
		ClientEvent: ClientEvent{Type: "session.update"},
		Session: SessionConfig{
			Instructions:     instructions,
			InputAudioFormat: format,
			TurnDetection:    TurnDetectionToWire(c.TurnDetection),
		},
	}
}

func (l *Link) translate(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.client.Notices():
			ev := l.decode(n)
			if ev == nil {
				continue
			}
			select {
			case l.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Link) decode(n wsclient.Notice) conversation.Event {
	switch n.Kind {
	case wsclient.Disconnected:
		return conversation.Closed{Err: n.Err}
	case wsclient.GaveUp:
		return conversation.Closed{Err: n.Err, Fatal: true}
	case wsclient.Message:
		ev, err := l.decodeMessage(n.Data)
		if err != nil {
			malformed := pkgerrors.New(component, "Decode", err).WithKind(pkgerrors.KindMalformed)
			logger.Warn("dropping malformed realtime event", "error", malformed)
			l.cfg.Emitter.LinkMalformed(events.LinkConversation, malformed)
			return nil
		}
		return ev
	default:
		return nil
	}
}

func (l *Link) decodeMessage(data []byte) (conversation.Event, error) {
	parsed, err := ParseServerEvent(data)
	if err != nil {
		return nil, err
	}

	switch e := parsed.(type) {
	case *SessionCreatedEvent:
		logger.Info("realtime session created", "session_id", e.Session.ID, "model", e.Session.Model)
		return conversation.SessionReady{SessionID: e.Session.ID}, nil
	case *InputAudioBufferSpeechStartedEvent:
		return conversation.SpeechStarted{}, nil
	case *InputAudioBufferSpeechStoppedEvent:
		return conversation.SpeechStopped{}, nil
	case *ResponseCreatedEvent:
		return conversation.TurnStarted{ResponseID: e.Response.ID}, nil
	case *ResponseAudioDeltaEvent:
		pcm, err := base64.StdEncoding.DecodeString(e.Delta)
		if err != nil {
			return nil, fmt.Errorf("audio delta: %w", err)
		}
		return conversation.AudioDelta{
			ResponseID: e.ResponseID,
			Audio:      audio.WrapChunk(l.nextSequence(e.ResponseID), pcm),
		}, nil
	case *ResponseContentPartDoneEvent:
		transcript := e.Part.Transcript
		if transcript == "" {
			transcript = e.Part.Text
		}
		return conversation.TurnDone{ResponseID: e.ResponseID, Transcript: transcript}, nil
	case *ResponseDoneEvent:
		// A completed response already ended its turn with content_part.done.
		status := e.Response.Status
		if status == ResponseStatusCompleted || status == "" {
			return nil, nil
		}
		attrs := []any{"response_id", e.Response.ID, "status", status}
		if d := e.Response.StatusDetails; d != nil {
			attrs = append(attrs, "reason", d.Reason)
			if d.Error != nil {
				attrs = append(attrs, "error", d.Error.Message)
			}
		}
		logger.Warn("realtime response ended early", attrs...)
		return conversation.TurnDone{ResponseID: e.Response.ID, Status: status}, nil
	case *ErrorEvent:
		logger.Warn("realtime error", "code", e.Error.Code, "type", e.Error.Type, "message", e.Error.Message)
		l.cfg.Emitter.LinkError(events.LinkConversation, e.Error.Code, e.Error.Message)
		return conversation.Error{Code: e.Error.Code, Message: e.Error.Message}, nil
	case *ServerEvent:
		if e.Type == "" {
			return nil, fmt.Errorf("event without type")
		}
		logger.Debug("ignoring realtime event", "type", e.Type)
		return nil, nil
	default:
		return nil, nil
	}
}

func (l *Link) nextSequence(responseID string) uint64 {
	l.seqMu.Lock()
	defer l.seqMu.Unlock()
	if responseID != l.seqResp {
		l.seqResp = responseID
		l.sequence = 0
	}
	seq := l.sequence
	l.sequence++
	return seq
}
