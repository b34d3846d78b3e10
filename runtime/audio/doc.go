// Package audio defines the PCM format contract shared by the capture and
// playback pipes and the conversation link: mono, 16-bit signed
// little-endian samples at 24 kHz, moved around as raw byte buffers.
//
// Chunk is the unit of transfer. Header and WrapPCM build the canonical
// 44-byte RIFF/WAVE header used when audio is persisted or streamed to a
// sink that expects a WAV container on stdin.
package audio
