package audio

// Chunk is an immutable PCM buffer with its position in the producing
// stream. Sequence numbers are monotonic per pipe instance and start at zero.
type Chunk struct {
	data []byte
	seq  uint64
}

// NewChunk copies data into a new Chunk.
func NewChunk(seq uint64, data []byte) Chunk {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Chunk{data: buf, seq: seq}
}

// WrapChunk builds a Chunk that takes ownership of data without copying.
// The caller must not modify data afterwards.
func WrapChunk(seq uint64, data []byte) Chunk {
	return Chunk{data: data, seq: seq}
}

// Bytes returns the payload. It must be treated as read-only.
func (c Chunk) Bytes() []byte { return c.data }

// Sequence returns the chunk's position in its stream.
func (c Chunk) Sequence() uint64 { return c.seq }

// Len returns the payload size in bytes.
func (c Chunk) Len() int { return len(c.data) }

// Empty reports whether the chunk carries no audio.
func (c Chunk) Empty() bool { return len(c.data) == 0 }
