package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuietTimer_DisarmedNeverFires(t *testing.T) {
	q := NewQuietTimer(10 * time.Millisecond)
	assert.False(t, q.Armed())
	assert.Nil(t, q.C())
	assert.Equal(t, 10*time.Millisecond, q.Interval())
}

func TestQuietTimer_FiresAfterInterval(t *testing.T) {
	q := NewQuietTimer(20 * time.Millisecond)
	start := time.Now()
	q.Arm()

	select {
	case <-q.C():
		q.Fired()
	case <-time.After(time.Second):
		t.Fatal("quiet timer did not fire")
	}
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.False(t, q.Armed())
}

func TestQuietTimer_RearmPostponesFiring(t *testing.T) {
	q := NewQuietTimer(60 * time.Millisecond)
	start := time.Now()
	q.Arm()
	time.Sleep(40 * time.Millisecond)
	q.Arm()

	<-q.C()
	q.Fired()
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestQuietTimer_DisarmDropsPendingFire(t *testing.T) {
	q := NewQuietTimer(10 * time.Millisecond)
	q.Arm()
	time.Sleep(30 * time.Millisecond)
	q.Disarm()

	assert.Nil(t, q.C())
	q.Arm()
	select {
	case <-q.C():
		t.Fatal("stale fire delivered after re-arm")
	case <-time.After(5 * time.Millisecond):
	}
}
