package capture

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

// Poller reads the bytes appended to a growing file since the previous poll.
// The cursor only ever moves forward, so no byte range is returned twice.
type Poller struct {
	path   string
	cursor int64
}

// NewPoller starts reading path at offset start. Bytes before start (a
// container header, for example) are never returned.
func NewPoller(path string, start int64) *Poller {
	return &Poller{path: path, cursor: start}
}

// Cursor is the offset of the first byte not yet returned.
func (p *Poller) Cursor() int64 { return p.cursor }

// Poll returns the bytes in [cursor, size) and advances the cursor past
// them. It returns nil when the file has not grown or does not exist yet.
// A file that shrinks is treated as not having grown.
func (p *Poller) Poll() ([]byte, error) {
	f, err := os.Open(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size <= p.cursor {
		return nil, nil
	}

	buf := make([]byte, size-p.cursor)
	n, err := f.ReadAt(buf, p.cursor)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	p.cursor += int64(n)
	return buf[:n], nil
}
