package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the length of the canonical PCM WAV header.
	HeaderSize = 44

	// StreamingDataLen is the placeholder data length written ahead of a
	// live stream whose final size is unknown.
	StreamingDataLen = 1_000_000

	riffChunkOverhead = 36
	fmtChunkSize      = 16
	formatPCM         = 1
)

// ErrInvalidHeader is returned by ParseHeader for anything that is not a
// canonical PCM WAV header.
var ErrInvalidHeader = errors.New("audio: invalid WAV header")

// Header returns the 44-byte RIFF/WAVE header for dataLen bytes of PCM in
// the shared format. All multi-byte fields are little-endian.
func Header(dataLen uint32) []byte {
	h := make([]byte, HeaderSize)

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], riffChunkOverhead+dataLen)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], ByteRate)
	binary.LittleEndian.PutUint16(h[32:34], BlockAlign)
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataLen)

	return h
}

// WrapPCM returns pcm prefixed with its WAV header.
func WrapPCM(pcm []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(pcm))
	out = append(out, Header(uint32(len(pcm)))...)
	return append(out, pcm...)
}

// HeaderInfo is the decoded content of a WAV header.
type HeaderInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataLen       uint32
}

// ParseHeader decodes a canonical 44-byte PCM WAV header.
func ParseHeader(b []byte) (HeaderInfo, error) {
	if len(b) < HeaderSize {
		return HeaderInfo{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" ||
		string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return HeaderInfo{}, fmt.Errorf("%w: bad chunk ids", ErrInvalidHeader)
	}
	info := HeaderInfo{
		AudioFormat:   binary.LittleEndian.Uint16(b[20:22]),
		Channels:      binary.LittleEndian.Uint16(b[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(b[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(b[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(b[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(b[34:36]),
		DataLen:       binary.LittleEndian.Uint32(b[40:44]),
	}
	if binary.LittleEndian.Uint32(b[4:8]) != riffChunkOverhead+info.DataLen {
		return HeaderInfo{}, fmt.Errorf("%w: RIFF size does not match data length", ErrInvalidHeader)
	}
	return info, nil
}
