package audio

import "time"

// PCM format shared by every component.
const (
	SampleRate     = 24000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
	BlockAlign     = Channels * BytesPerSample
	ByteRate       = SampleRate * BlockAlign
)

// Duration returns the playback time of n bytes of PCM.
func Duration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / ByteRate
}

// BytesFor returns the number of PCM bytes covering d, rounded down to a
// whole sample frame.
func BytesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(d * ByteRate / time.Second)
	return n - n%BlockAlign
}
