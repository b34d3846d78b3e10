package session

import "time"

// QuietTimer fires once no audio has arrived for its interval. It is armed
// at turn-done and re-armed by every later audio delta. It is owned by one
// goroutine and is not safe for concurrent use.
type QuietTimer struct {
	interval time.Duration
	timer    *time.Timer
	armed    bool
}

// NewQuietTimer returns a disarmed timer.
func NewQuietTimer(interval time.Duration) *QuietTimer {
	t := time.NewTimer(interval)
	t.Stop()
	return &QuietTimer{interval: interval, timer: t}
}

// Interval returns the configured quiet interval.
func (q *QuietTimer) Interval() time.Duration { return q.interval }

// Arm starts or restarts the interval.
func (q *QuietTimer) Arm() {
	q.timer.Reset(q.interval)
	q.armed = true
}

// Disarm stops the timer. No value is delivered afterwards.
func (q *QuietTimer) Disarm() {
	q.timer.Stop()
	q.armed = false
}

// Armed reports whether the timer is running.
func (q *QuietTimer) Armed() bool { return q.armed }

// C delivers when the interval elapses. It is nil while disarmed so a
// select on it blocks.
func (q *QuietTimer) C() <-chan time.Time {
	if !q.armed {
		return nil
	}
	return q.timer.C
}

// Fired must be called after receiving from C.
func (q *QuietTimer) Fired() { q.armed = false }
