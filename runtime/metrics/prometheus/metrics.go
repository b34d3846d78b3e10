// Package prometheus exposes bridge activity as Prometheus metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voicebridge"

var (
	// sessionsActive is 1 while a session is live.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently live sessions",
		},
	)

	// sessionsTotal counts ended sessions by reason.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of ended sessions",
		},
		[]string{"reason"},
	)

	// sessionDuration is a histogram of session lifetime.
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Histogram of session duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// stateTransitionsTotal counts controller state changes.
	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of controller state transitions",
		},
		[]string{"from", "to"},
	)

	// turnsTotal counts finished turns.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of assistant turns",
		},
		[]string{"status"}, // status: completed, aborted
	)

	// turnDuration is a histogram of first delta to playback end.
	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Histogram of assistant turn duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 60},
		},
	)

	// turnAudioBytesTotal counts PCM bytes received for playback.
	turnAudioBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_audio_bytes_total",
			Help:      "Total PCM bytes received from the conversation service",
		},
	)

	// pipeEventsTotal counts pipe lifecycle events.
	pipeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipe_events_total",
			Help:      "Total number of capture and playback pipe events",
		},
		[]string{"pipe", "event"}, // event: started, stopped, failed, restarted
	)

	// playbackDroppedChunksTotal counts chunks discarded by a forced stop.
	playbackDroppedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_dropped_chunks_total",
			Help:      "Total number of audio chunks discarded when playback was cut short",
		},
	)

	// playbackBackpressureTotal counts backpressure episodes.
	playbackBackpressureTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_backpressure_total",
			Help:      "Total number of times playback asked the controller to hold audio",
		},
	)

	// linkEventsTotal counts link disconnects and protocol problems.
	linkEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_events_total",
			Help:      "Total number of link events",
		},
		[]string{"link", "event"}, // event: closed, gave_up, error, malformed
	)

	// handsetUp is 1 while the handset is lifted.
	handsetUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handset_up",
			Help:      "1 while the handset is off the hook",
		},
	)

	// keypadPressesTotal counts keypad presses.
	keypadPressesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keypad_presses_total",
			Help:      "Total number of keypad presses",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		stateTransitionsTotal,
		turnsTotal,
		turnDuration,
		turnAudioBytesTotal,
		pipeEventsTotal,
		playbackDroppedChunksTotal,
		playbackBackpressureTotal,
		linkEventsTotal,
		handsetUp,
		keypadPressesTotal,
	}
)

// RecordSessionStart records a session becoming live.
func RecordSessionStart() {
	sessionsActive.Set(1)
}

// RecordSessionEnd records a session ending.
func RecordSessionEnd(reason string, durationSeconds float64) {
	sessionsActive.Set(0)
	sessionsTotal.WithLabelValues(reason).Inc()
	sessionDuration.Observe(durationSeconds)
}

// RecordStateTransition records a controller state change.
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordTurn records a finished turn.
func RecordTurn(status string, durationSeconds float64, audioBytes int64) {
	turnsTotal.WithLabelValues(status).Inc()
	turnDuration.Observe(durationSeconds)
	if audioBytes > 0 {
		turnAudioBytesTotal.Add(float64(audioBytes))
	}
}

// RecordPipeEvent records a pipe lifecycle event.
func RecordPipeEvent(pipe, event string) {
	pipeEventsTotal.WithLabelValues(pipe, event).Inc()
}

// RecordPlaybackDropped records chunks discarded by a forced stop.
func RecordPlaybackDropped(chunks int) {
	if chunks > 0 {
		playbackDroppedChunksTotal.Add(float64(chunks))
	}
}

// RecordBackpressure records a backpressure episode.
func RecordBackpressure() {
	playbackBackpressureTotal.Inc()
}

// RecordLinkEvent records a link event.
func RecordLinkEvent(link, event string) {
	linkEventsTotal.WithLabelValues(link, event).Inc()
}

// RecordHandsetPresence records the hook state.
func RecordHandsetPresence(up bool) {
	if up {
		handsetUp.Set(1)
		return
	}
	handsetUp.Set(0)
}

// RecordKeyPress records a keypad press.
func RecordKeyPress() {
	keypadPressesTotal.Inc()
}
