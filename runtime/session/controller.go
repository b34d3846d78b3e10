package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/audio"
	"github.com/leomancini/ai-phone-firmware/runtime/capture"
	"github.com/leomancini/ai-phone-firmware/runtime/conversation"
	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/handset"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
	"github.com/leomancini/ai-phone-firmware/runtime/playback"
)

const component = "session"

// Termination reasons.
const (
	ReasonHandsetDown   = "handset_down"
	ReasonShutdown      = "shutdown"
	ReasonLinkFailed    = "link_failed"
	ReasonPipeExhausted = "pipe_restarts_exhausted"
	ReasonConnectFailed = "connect_failed"
)

// Controller owns the Session and both pipe handles. Everything it owns is
// touched only from the Run goroutine; Snapshot is the one concurrent
// entry point.
type Controller struct {
	cfg   Config
	quiet *QuietTimer

	mu   sync.RWMutex
	snap Snapshot

	state      State
	presence   handset.Presence
	sess       *Session
	connecting *connectAttempt
	linkOpen   bool
	// ready is a SessionReady that overtook the connect result.
	ready *conversation.SessionReady

	rec  *capture.Handle
	play *playback.Handle

	// held are deltas waiting for playback to report capacity.
	held            []audio.Chunk
	backpressured   bool
	drainAfterFlush bool
	drainCh         <-chan error

	turn       *turn
	responseID string
	turnDone   bool
}

type connectAttempt struct {
	cancel context.CancelFunc
	result chan error
}

type turn struct {
	id         string
	responseID string
	started    time.Time
	chunks     int
	bytes      int64
	audio      []byte
	transcript string
}

// New validates cfg and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Conversation == nil {
		return nil, errors.New("session: conversation link is required")
	}
	if cfg.Recorder == nil || cfg.Player == nil {
		return nil, errors.New("session: recorder and player are required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.TurnDetection.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, quiet: NewQuietTimer(cfg.QuietInterval)}, nil
}

// Snapshot returns a copy of the externally visible state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// State returns the current state.
func (c *Controller) State() State { return c.Snapshot().State }

// Run drives the session until ctx is canceled or a link gives up. Teardown
// has completed when Run returns. A nil error means a requested shutdown.
func (c *Controller) Run(ctx context.Context) error {
	ctx = logger.WithComponent(ctx, component)

	var handsetEvents <-chan handset.Event
	if c.cfg.Handset != nil {
		if err := c.cfg.Handset.Open(ctx); err != nil {
			return err
		}
		defer func() { _ = c.cfg.Handset.Close() }()
		handsetEvents = c.cfg.Handset.Events()
	} else {
		c.presence = handset.PresenceUp
		c.connect(ctx, "headless")
	}
	convEvents := c.cfg.Conversation.Events()

	for {
		var (
			recChunks  <-chan audio.Chunk
			recFailed  <-chan error
			playReady  <-chan struct{}
			playFailed <-chan error
			connected  <-chan error
		)
		if c.rec != nil {
			recChunks, recFailed = c.rec.Chunks(), c.rec.Failed()
		}
		if c.play != nil {
			playReady, playFailed = c.play.Ready(), c.play.Failed()
		}
		if c.connecting != nil {
			connected = c.connecting.result
		}

		var err error
		select {
		case <-ctx.Done():
			c.terminate(ctx, ReasonShutdown, nil)
			return nil
		case ev := <-handsetEvents:
			err = c.onHandset(ctx, ev)
		case ev := <-convEvents:
			err = c.onConversation(ctx, ev)
		case res := <-connected:
			err = c.onConnectResult(ctx, res)
		case chunk, ok := <-recChunks:
			if ok {
				c.onCaptured(ctx, chunk)
				continue
			}
			err = c.onRecordingEnded(ctx)
		case cause := <-recFailed:
			err = c.onRecordingFailed(ctx, cause)
		case <-playReady:
			c.onPlaybackReady(ctx)
		case cause := <-playFailed:
			err = c.onPlaybackFailed(ctx, cause)
		case res := <-c.drainCh:
			err = c.onDrained(ctx, res)
		case <-c.quiet.C():
			c.quiet.Fired()
			c.onQuiet(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Controller) setState(ctx context.Context, next State, reason string) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next

	c.mu.Lock()
	c.snap.State = next
	c.snap.Presence = c.presence
	c.snap.Version++
	c.syncSessionLocked()
	version := c.snap.Version
	c.mu.Unlock()

	logger.InfoContext(ctx, "session state changed", "from", prev.String(), "to", next.String(), "reason", reason)
	c.cfg.Emitter.StateChanged(prev.String(), next.String(), reason, string(c.presence), version)
}

// syncSessionLocked copies the session record into the snapshot. Caller
// holds c.mu.
func (c *Controller) syncSessionLocked() {
	if c.sess == nil {
		c.snap.SessionID = ""
		c.snap.StartedAt = time.Time{}
		c.snap.LastAudioDeltaAt = time.Time{}
		c.snap.Turns = 0
		return
	}
	c.snap.SessionID = c.sess.ID
	c.snap.StartedAt = c.sess.StartedAt
	c.snap.LastAudioDeltaAt = c.sess.LastAudioDeltaAt
	c.snap.Turns = c.sess.Turns
}

func (c *Controller) syncSnapshot() {
	c.mu.Lock()
	c.snap.Presence = c.presence
	c.syncSessionLocked()
	c.mu.Unlock()
}

// Handset events.

func (c *Controller) onHandset(ctx context.Context, ev handset.Event) error {
	switch e := ev.(type) {
	case handset.PresenceChanged:
		prev := c.presence
		c.presence = e.Presence
		c.syncSnapshot()
		if prev != e.Presence {
			logger.InfoContext(ctx, "handset presence changed", "presence", string(e.Presence))
			c.cfg.Emitter.HandsetPresence(string(e.Presence))
		}
		switch e.Presence {
		case handset.PresenceUp:
			if c.state == StateIdle {
				c.connect(ctx, "handset_up")
			}
		case handset.PresenceDown:
			if c.state != StateIdle {
				c.terminate(ctx, ReasonHandsetDown, nil)
			}
		}
	case handset.KeyPressed:
		logger.InfoContext(ctx, "keypad press", "key", e.Key)
		c.cfg.Emitter.KeyPressed(e.Key)
	case handset.IndicatorState:
		logger.DebugContext(ctx, "indicator state", "on", e.On)
	case handset.RingtoneStopped:
		logger.DebugContext(ctx, "ringtone stopped", "reason", e.Reason)
	case handset.Closed:
		c.cfg.Emitter.LinkClosed(events.LinkHandset, e.Err, e.Fatal)
		if e.Fatal {
			c.terminate(ctx, ReasonLinkFailed, e.Err)
			return e.Err
		}
		// Presence is re-reported after the redial.
		logger.WarnContext(ctx, "handset link dropped, waiting for reconnect", "error", e.Err)
	}
	return nil
}

// Connecting.

func (c *Controller) connect(ctx context.Context, reason string) {
	attemptCtx, cancel := context.WithCancel(ctx)
	a := &connectAttempt{cancel: cancel, result: make(chan error, 1)}
	c.connecting = a
	c.setState(ctx, StateConnecting, reason)

	go func() {
		a.result <- c.cfg.Conversation.Open(attemptCtx)
	}()
}

func (c *Controller) onConnectResult(ctx context.Context, err error) error {
	c.connecting.cancel()
	c.connecting = nil
	if err != nil {
		logger.ErrorContext(ctx, "conversation link could not connect", "error", err)
		c.cfg.Emitter.LinkClosed(events.LinkConversation, err, true)
		c.terminate(ctx, ReasonConnectFailed, err)
		return err
	}
	c.linkOpen = true
	if ready := c.ready; ready != nil {
		c.ready = nil
		return c.onSessionReady(ctx, *ready)
	}
	logger.InfoContext(ctx, "conversation link connected, waiting for session")
	return nil
}

// Conversation events.

func (c *Controller) onConversation(ctx context.Context, ev conversation.Event) error {
	switch e := ev.(type) {
	case conversation.SessionReady:
		return c.onSessionReady(ctx, e)
	case conversation.SpeechStarted:
		logger.DebugContext(ctx, "remote heard speech start")
		c.indicator(ctx, true)
	case conversation.SpeechStopped:
		logger.DebugContext(ctx, "remote heard speech stop")
		c.indicator(ctx, false)
	case conversation.TurnStarted:
		c.responseID = e.ResponseID
		if c.turn != nil && c.turn.responseID == "" {
			c.turn.responseID = e.ResponseID
		}
	case conversation.AudioDelta:
		return c.onAudioDelta(ctx, e)
	case conversation.TurnDone:
		c.onTurnDone(ctx, e)
	case conversation.Error:
		logger.WarnContext(ctx, "conversation service reported an error", "code", e.Code, "message", e.Message)
		c.status(ctx, "error: "+e.Message)
	case conversation.Closed:
		return c.onLinkClosed(ctx, e)
	}
	return nil
}

func (c *Controller) onSessionReady(ctx context.Context, e conversation.SessionReady) error {
	if c.state != StateConnecting {
		logger.DebugContext(ctx, "ignoring session ready", "state", c.state.String())
		return nil
	}
	if c.connecting != nil {
		c.ready = &e
		return nil
	}

	if c.sess == nil {
		id := e.SessionID
		if id == "" {
			id = uuid.New().String()
		}
		c.sess = &Session{ID: id, StartedAt: time.Now(), TurnDetection: c.cfg.TurnDetection}
		c.cfg.Emitter.SetSessionID(id)
	} else {
		// The link redialed; the local session carries on under its first ID.
		logger.InfoContext(ctx, "conversation session resumed", "remote_session_id", e.SessionID)
	}
	c.cfg.Emitter.SessionStarted(e.SessionID)

	err := c.cfg.Conversation.Send(conversation.ConfigureSession{
		Instructions:  c.cfg.Instructions,
		InputFormat:   c.cfg.InputFormat,
		TurnDetection: c.cfg.TurnDetection,
	})
	if err != nil {
		logger.WarnContext(ctx, "configure session failed", "error", err)
	}
	return c.startRecording(ctx, "session_ready")
}

func (c *Controller) onLinkClosed(ctx context.Context, e conversation.Closed) error {
	c.cfg.Emitter.LinkClosed(events.LinkConversation, e.Err, e.Fatal)
	if c.state == StateIdle || c.state == StateTerminating {
		return nil
	}
	if e.Fatal {
		logger.ErrorContext(ctx, "conversation link gave up", "error", e.Err)
		c.terminate(ctx, ReasonLinkFailed, e.Err)
		return e.Err
	}

	logger.WarnContext(ctx, "conversation link dropped, waiting for the service", "error", e.Err)
	c.stopPipes(ctx, true)
	c.setState(ctx, StateConnecting, "link_closed")
	return nil
}

// Recording.

func (c *Controller) startRecording(ctx context.Context, reason string) error {
	// Playback must be gone before the microphone opens.
	if c.play != nil {
		c.play.ForceStop()
		c.play = nil
	}
	h, err := c.cfg.Recorder.Start(ctx)
	if err != nil {
		c.cfg.Emitter.PipeFailed(events.PipeCapture, err)
		logger.ErrorContext(ctx, "recording could not start", "error", err)
		return c.recordingLost(ctx, err)
	}
	c.rec = h
	c.cfg.Emitter.PipeStarted(events.PipeCapture)
	c.setState(ctx, StateActiveRecording, reason)
	return nil
}

func (c *Controller) stopRecording() {
	if c.rec == nil {
		return
	}
	c.rec.Stop()
	c.rec = nil
	c.cfg.Emitter.PipeStopped(events.PipeCapture, 0)
}

func (c *Controller) onCaptured(ctx context.Context, chunk audio.Chunk) {
	if c.state != StateActiveRecording {
		return
	}
	c.recordingHealthy(ctx)
	if err := c.cfg.Conversation.Send(conversation.AppendAudio{Audio: chunk}); err != nil {
		logger.DebugContext(ctx, "captured audio not forwarded", "seq", chunk.Sequence(), "error", err)
	}
}

// recordingHealthy refills the restart budget once a replacement recording
// has proven itself, so isolated failures spread over a call never add up.
func (c *Controller) recordingHealthy(ctx context.Context) {
	if c.sess == nil || c.sess.PipeRestarts == 0 {
		return
	}
	logger.DebugContext(ctx, "recording recovered", "restarts", c.sess.PipeRestarts)
	c.sess.PipeRestarts = 0
}

func (c *Controller) onRecordingEnded(ctx context.Context) error {
	var cause error
	select {
	case cause = <-c.rec.Failed():
	default:
		cause = pkgerrors.New(component, "Record", errors.New("capture ended unexpectedly")).
			WithKind(pkgerrors.KindFatalDevice)
	}
	return c.onRecordingFailed(ctx, cause)
}

func (c *Controller) onRecordingFailed(ctx context.Context, cause error) error {
	c.rec.Stop()
	c.rec = nil
	c.cfg.Emitter.PipeFailed(events.PipeCapture, cause)
	logger.ErrorContext(ctx, "recording failed", "error", cause)
	return c.recordingLost(ctx, cause)
}

// recordingLost replaces a failed recording or ends the session once the
// restart budget is spent.
func (c *Controller) recordingLost(ctx context.Context, cause error) error {
	if c.sess != nil && c.sess.PipeRestarts < c.cfg.MaxPipeRestarts {
		c.sess.PipeRestarts++
		logger.WarnContext(ctx, "restarting recording", "attempt", c.sess.PipeRestarts, "max", c.cfg.MaxPipeRestarts)
		return c.startRecording(ctx, "recording_restart")
	}
	err := pkgerrors.New(component, "Record", fmt.Errorf("pipe restarts exhausted: %w", cause)).
		WithKind(pkgerrors.KindFatalDevice)
	c.terminate(ctx, ReasonPipeExhausted, err)
	if c.cfg.Handset == nil {
		return err
	}
	return nil
}

// Playback.

func (c *Controller) onAudioDelta(ctx context.Context, e conversation.AudioDelta) error {
	switch c.state {
	case StateActiveRecording:
		if ok, err := c.beginTurn(ctx, e.ResponseID); !ok {
			return err
		}
	case StateActivePlaying:
	case StateDraining:
		if c.drainCh != nil || c.drainAfterFlush {
			logger.DebugContext(ctx, "dropping audio delta after drain", "seq", e.Audio.Sequence())
			return nil
		}
	default:
		logger.DebugContext(ctx, "dropping audio delta", "state", c.state.String())
		return nil
	}

	now := time.Now()
	c.sess.LastAudioDeltaAt = now
	c.turn.chunks++
	c.turn.bytes += int64(e.Audio.Len())
	if c.cfg.RetainTurnAudio {
		c.turn.audio = append(c.turn.audio, e.Audio.Bytes()...)
	}
	if c.turnDone {
		c.quiet.Arm()
	}
	c.enqueue(ctx, e.Audio)
	return nil
}

// beginTurn swaps the microphone for the speaker on the first delta of a
// turn.
func (c *Controller) beginTurn(ctx context.Context, responseID string) (bool, error) {
	c.stopRecording()

	h, err := c.cfg.Player.Start(ctx)
	if err != nil {
		c.cfg.Emitter.PipeFailed(events.PipePlayback, err)
		logger.ErrorContext(ctx, "playback could not start", "error", err)
		return false, c.startRecording(ctx, "playback_start_failed")
	}
	c.play = h
	c.held = nil
	c.backpressured = false
	c.drainAfterFlush = false
	c.turnDone = false

	if responseID == "" {
		responseID = c.responseID
	}
	c.turn = &turn{id: uuid.New().String(), responseID: responseID, started: time.Now()}
	c.cfg.Emitter.SetTurnID(c.turn.id)
	c.cfg.Emitter.PipeStarted(events.PipePlayback)
	c.cfg.Emitter.TurnStarted(responseID)
	c.setState(ctx, StateActivePlaying, "audio_delta")
	return true, nil
}

// enqueue writes chunk unless earlier chunks are still held, preserving
// arrival order.
func (c *Controller) enqueue(ctx context.Context, chunk audio.Chunk) {
	if c.backpressured || len(c.held) > 0 {
		c.held = append(c.held, chunk)
		return
	}
	c.write(ctx, chunk)
}

func (c *Controller) write(ctx context.Context, chunk audio.Chunk) bool {
	outcome, err := c.play.Write(chunk)
	if err != nil {
		logger.WarnContext(ctx, "playback rejected chunk", "seq", chunk.Sequence(), "error", err)
		return false
	}
	if outcome == playback.Backpressured && !c.backpressured {
		c.backpressured = true
		stats := c.play.Stats()
		c.cfg.Emitter.PlaybackBackpressure(stats.Queued, len(c.held))
		logger.DebugContext(ctx, "playback backpressured", "queued", stats.Queued)
	}
	return true
}

func (c *Controller) onPlaybackReady(ctx context.Context) {
	c.backpressured = false
	for len(c.held) > 0 && !c.backpressured {
		chunk := c.held[0]
		c.held[0] = audio.Chunk{}
		c.held = c.held[1:]
		c.write(ctx, chunk)
	}
	if len(c.held) == 0 && c.drainAfterFlush {
		c.drainAfterFlush = false
		c.drainCh = c.play.Drain()
	}
}

func (c *Controller) onTurnDone(ctx context.Context, e conversation.TurnDone) {
	if c.turn != nil && e.ResponseID != "" && c.turn.responseID != "" && e.ResponseID != c.turn.responseID {
		logger.DebugContext(ctx, "ignoring turn done for another response", "response_id", e.ResponseID)
		return
	}
	if e.Status != "" {
		// The response ended without a content part; whatever audio
		// arrived still plays out.
		logger.InfoContext(ctx, "response ended early", "response_id", e.ResponseID, "status", e.Status)
	}
	if e.Transcript != "" {
		logger.InfoContext(ctx, "assistant transcript", "transcript", e.Transcript)
		c.status(ctx, e.Transcript)
	}
	if c.turn != nil {
		c.turn.transcript = e.Transcript
	}
	if c.state != StateActivePlaying {
		return
	}
	c.turnDone = true
	c.quiet.Arm()
	c.setState(ctx, StateDraining, "turn_done")
}

// onQuiet runs once no delta has arrived for the quiet interval after
// turn-done: the turn's audio is complete, so playback may finish.
func (c *Controller) onQuiet(ctx context.Context) {
	if c.state != StateDraining || c.play == nil {
		return
	}
	logger.DebugContext(ctx, "turn audio complete", "quiet_interval", c.quiet.Interval(), "held", len(c.held))
	if len(c.held) > 0 {
		c.drainAfterFlush = true
		return
	}
	c.drainCh = c.play.Drain()
}

func (c *Controller) onDrained(ctx context.Context, err error) error {
	c.drainCh = nil
	if err != nil {
		return c.onPlaybackFailed(ctx, err)
	}
	c.play = nil
	c.cfg.Emitter.PipeStopped(events.PipePlayback, 0)
	c.finishTurn(false)
	c.recordingHealthy(ctx)
	return c.startRecording(ctx, "drained")
}

// onPlaybackFailed abandons the turn and returns to recording. A stalled
// or crashed sink never ends the session by itself.
func (c *Controller) onPlaybackFailed(ctx context.Context, cause error) error {
	logger.ErrorContext(ctx, "playback failed", "error", cause)
	c.cfg.Emitter.PipeFailed(events.PipePlayback, cause)
	if c.play != nil {
		c.play.ForceStop()
		c.play = nil
	}
	c.drainCh = nil
	c.held = nil
	c.quiet.Disarm()
	c.finishTurn(true)
	return c.startRecording(ctx, "playback_failed")
}

func (c *Controller) finishTurn(aborted bool) {
	t := c.turn
	if t == nil {
		return
	}
	c.turn = nil
	c.turnDone = false
	c.responseID = ""
	if c.sess != nil {
		c.sess.Turns++
	}
	c.syncSnapshot()
	c.cfg.Emitter.TurnCompleted(events.TurnCompletedData{
		ResponseID: t.responseID,
		Transcript: t.transcript,
		Chunks:     t.chunks,
		Bytes:      t.bytes,
		Duration:   time.Since(t.started),
		Aborted:    aborted,
		Audio:      t.audio,
	})
	c.cfg.Emitter.SetTurnID("")
}

// stopPipes tears down whichever pipe is active. Playback is force-stopped;
// nothing queued is played.
func (c *Controller) stopPipes(ctx context.Context, abortTurn bool) {
	c.quiet.Disarm()
	c.stopRecording()
	if c.play != nil {
		dropped := c.play.Stats().Queued + len(c.held)
		c.play.ForceStop()
		c.play = nil
		c.cfg.Emitter.PipeStopped(events.PipePlayback, dropped)
		logger.DebugContext(ctx, "playback force-stopped", "dropped", dropped)
	}
	c.held = nil
	c.backpressured = false
	c.drainAfterFlush = false
	c.drainCh = nil
	if abortTurn {
		c.finishTurn(true)
	}
}

// Termination.

// terminate releases every resource the session holds. It returns only
// once both pipes' processes are gone and the link is closed.
func (c *Controller) terminate(ctx context.Context, reason string, cause error) {
	if c.state == StateIdle && c.connecting == nil && !c.linkOpen {
		return
	}
	c.setState(ctx, StateTerminating, reason)

	if a := c.connecting; a != nil {
		a.cancel()
		if err := <-a.result; err == nil {
			c.linkOpen = true
		}
		c.connecting = nil
	}

	c.stopPipes(ctx, true)

	// Shutdown skips the grace, and a shutdown during the grace ends it.
	if c.linkOpen {
		if err := c.cfg.Conversation.Send(conversation.EndSession{}); err == nil && c.cfg.EndSessionGrace > 0 {
			grace := time.NewTimer(c.cfg.EndSessionGrace)
			select {
			case <-grace.C:
			case <-ctx.Done():
				grace.Stop()
			}
		}
	}
	if err := c.cfg.Conversation.Close(); err != nil {
		logger.DebugContext(ctx, "conversation link close", "error", err)
	}
	c.linkOpen = false
	c.indicator(ctx, false)

	if c.sess != nil {
		c.cfg.Emitter.SessionEnded(reason, c.sess.Turns, time.Since(c.sess.StartedAt), cause)
		logger.InfoContext(ctx, "session ended", "reason", reason, "turns", c.sess.Turns)
	}
	c.sess = nil
	c.ready = nil
	c.responseID = ""
	c.setState(ctx, StateIdle, "cleanup_complete")
	c.cfg.Emitter.SetSessionID("")
}

// Handset output.

func (c *Controller) indicator(ctx context.Context, on bool) {
	if c.cfg.Handset == nil {
		return
	}
	if err := c.cfg.Handset.Send(handset.SetIndicator{On: on}); err != nil {
		logger.DebugContext(ctx, "indicator not updated", "error", err)
	}
}

func (c *Controller) status(ctx context.Context, text string) {
	if c.cfg.Handset == nil || !c.cfg.StatusMessages {
		return
	}
	if err := c.cfg.Handset.Send(handset.StatusMessage{Text: text}); err != nil {
		logger.DebugContext(ctx, "status message not sent", "error", err)
	}
}
