// Package audio provides PCM helpers for the voice pipeline: format math,
// energy measurement, utterance buffering, and WAV container wrapping.
package audio

import (
	"encoding/binary"
	"math"
)

// Format describes the shape of a PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DeviceFormat is the audio shape spoken by the toy device in both
// directions: 16 kHz mono 16-bit signed little-endian PCM.
var DeviceFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// BytesPerSecond returns the raw PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// DurationMs returns the duration of n bytes of PCM in milliseconds.
func (f Format) DurationMs(n int) int {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return n * 1000 / bps
}

// BytesForDuration returns the PCM byte count for a duration in milliseconds.
func (f Format) BytesForDuration(ms int) int {
	return f.BytesPerSecond() * ms / 1000
}

// RMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// WrapWAV wraps raw PCM bytes in a minimal RIFF/WAVE container.
func WrapWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * f.BitsPerSample / 8
	byteRate := f.SampleRate * blockAlign

	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(f.BitsPerSample))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// Buffer accumulates PCM chunks up to a maximum size.
// When the cap is exceeded, the oldest data is discarded.
type Buffer struct {
	data     []byte
	maxBytes int
	format   Format
}

// NewBuffer creates a buffer that holds up to maxDurationMs of audio.
func NewBuffer(f Format, maxDurationMs int) *Buffer {
	maxBytes := f.BytesForDuration(maxDurationMs)
	return &Buffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		format:   f,
	}
}

// Write appends audio data, trimming from the front past the cap.
func (b *Buffer) Write(data []byte) {
	b.data = append(b.data, data...)
	if b.maxBytes > 0 && len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Bytes returns a copy of the buffered audio.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the current buffer size in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// DurationMs returns the current buffer duration in milliseconds.
func (b *Buffer) DurationMs() int { return b.format.DurationMs(len(b.data)) }

// Clear empties the buffer, keeping its capacity.
func (b *Buffer) Clear() { b.data = b.data[:0] }
