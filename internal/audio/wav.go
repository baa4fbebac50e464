// Package audio stores synthesized speech as WAV files on a directory the
// switch can also read, and keeps the pre-rendered filler clips.
package audio

import (
	"encoding/binary"
	"time"
)

// Telephony format used end to end: 8 kHz, mono, 16-bit little-endian.
const (
	SampleRate     = 8000
	BitsPerSample  = 16
	Channels       = 1
	BytesPerSecond = SampleRate * Channels * BitsPerSample / 8

	wavHeaderSize = 44
)

// EncodeWAV wraps raw PCM with a canonical 44-byte RIFF header.
func EncodeWAV(pcm []byte) []byte {
	dataLen := len(pcm)
	blockAlign := Channels * BitsPerSample / 8

	out := make([]byte, wavHeaderSize, wavHeaderSize+dataLen)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], Channels)
	binary.LittleEndian.PutUint32(out[24:28], SampleRate)
	binary.LittleEndian.PutUint32(out[28:32], BytesPerSecond)
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], BitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))
	return append(out, pcm...)
}

// PlaybackDuration is how long pcmBytes of telephony PCM take to play.
func PlaybackDuration(pcmBytes int) time.Duration {
	if pcmBytes <= 0 {
		return 0
	}
	return time.Duration(pcmBytes) * time.Second / BytesPerSecond
}
