package errors_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cause := fmt.Errorf("exec: \"rec\": executable file not found")
	err := pkgerrors.New("capture", "Start", cause)

	assert.Equal(t, "capture", err.Component)
	assert.Equal(t, "Start", err.Operation)
	assert.Equal(t, pkgerrors.KindUnknown, err.Kind)
	assert.Nil(t, err.Details)
	assert.Equal(t, cause, err.Cause)
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *pkgerrors.ContextualError
		want string
	}{
		{
			name: "cause only",
			err:  pkgerrors.New("playback", "Write", io.ErrClosedPipe),
			want: "[playback] Write: io: read/write on closed pipe",
		},
		{
			name: "no cause",
			err:  pkgerrors.New("session", "Run", nil),
			want: "[session] Run",
		},
		{
			name: "with kind",
			err:  pkgerrors.New("capture", "Supervise", fmt.Errorf("exit status 2")).WithKind(pkgerrors.KindFatalDevice),
			want: "[capture] Supervise (fatal_device): exit status 2",
		},
		{
			name: "kind without cause",
			err:  pkgerrors.New("playback", "Watchdog", nil).WithKind(pkgerrors.KindPlaybackStall),
			want: "[playback] Watchdog (playback_stall)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := pkgerrors.New("openai", "Dial", io.EOF)

	assert.True(t, errors.Is(err, io.EOF))
	assert.Equal(t, io.EOF, errors.Unwrap(err))
}

func TestWithDetails(t *testing.T) {
	details := map[string]any{"attempt": 2}
	err := pkgerrors.New("capture", "Restart", nil).WithDetails(details)

	assert.Equal(t, details, err.Details)
}

func TestKindOf(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, pkgerrors.KindUnknown, pkgerrors.KindOf(io.EOF))
	})

	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, pkgerrors.KindUnknown, pkgerrors.KindOf(nil))
		assert.False(t, pkgerrors.IsKind(nil, pkgerrors.KindUnknown))
	})

	t.Run("wrapped with fmt", func(t *testing.T) {
		inner := pkgerrors.New("handset", "Read", io.EOF).WithKind(pkgerrors.KindLink)
		err := fmt.Errorf("session: %w", inner)

		assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindLink))
	})

	t.Run("outer without kind defers to inner", func(t *testing.T) {
		inner := pkgerrors.New("capture", "Poll", nil).WithKind(pkgerrors.KindTransientDevice)
		outer := pkgerrors.New("session", "StartRecording", inner)

		require.Equal(t, pkgerrors.KindTransientDevice, pkgerrors.KindOf(outer))
	})

	t.Run("outer kind wins", func(t *testing.T) {
		inner := pkgerrors.New("capture", "Poll", nil).WithKind(pkgerrors.KindTransientDevice)
		outer := pkgerrors.New("capture", "Supervise", inner).WithKind(pkgerrors.KindFatalDevice)

		assert.Equal(t, pkgerrors.KindFatalDevice, pkgerrors.KindOf(outer))
	})
}

func TestErrorsAs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", pkgerrors.New("playback", "Drain", nil).WithKind(pkgerrors.KindPlaybackStall))

	var ce *pkgerrors.ContextualError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "playback", ce.Component)
}
