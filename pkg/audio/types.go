// Package audio defines the PCM sample container shared by the recorder, the
// WAV codec, the tutor transport and the playback bridge.
//
// A [Buffer] holds normalised float samples in the range [-1.0, 1.0],
// interleaved by channel. Buffers are treated as immutable values once
// created: every transformation in this module returns a new Buffer rather
// than mutating its input.
package audio

import (
	"errors"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
)

// Buffer is a block of interleaved PCM samples.
type Buffer struct {
	// Samples holds normalised samples, interleaved by channel
	// (L R L R … for stereo).
	Samples []float32

	// Channels is the number of interleaved channels (1 = mono, 2 = stereo).
	Channels int

	// SampleRate in Hz (e.g. 44100 for microphone capture).
	SampleRate int
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Format returns the buffer's sample rate and channel count.
func (b *Buffer) Format() Format {
	return Format{SampleRate: b.SampleRate, Channels: b.Channels}
}

// SampleCount returns the number of sample frames (samples per channel).
// Returns 0 for a nil buffer or a buffer without channels.
func (b *Buffer) SampleCount() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.SampleCount()) * time.Second / time.Duration(b.SampleRate)
}

// Validate checks the structural invariants of b: at least one channel, a
// positive sample rate, and a sample slice that holds whole frames.
func (b *Buffer) Validate() error {
	if b == nil {
		return errors.New("audio: nil buffer")
	}
	if b.Channels < 1 {
		return fmt.Errorf("audio: channel count %d must be at least 1", b.Channels)
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate %d must be positive", b.SampleRate)
	}
	if len(b.Samples)%b.Channels != 0 {
		return fmt.Errorf("audio: %d samples do not divide into %d channels", len(b.Samples), b.Channels)
	}
	return nil
}

// Clone returns a deep copy of b. Clone of nil is nil.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	samples := make([]float32, len(b.Samples))
	copy(samples, b.Samples)
	return &Buffer{Samples: samples, Channels: b.Channels, SampleRate: b.SampleRate}
}

// FromFloat32Buffer converts a go-audio float buffer into a [Buffer]. Returns
// nil when fb or its format is nil.
func FromFloat32Buffer(fb *goaudio.Float32Buffer) *Buffer {
	if fb == nil || fb.Format == nil {
		return nil
	}
	samples := make([]float32, len(fb.Data))
	copy(samples, fb.Data)
	return &Buffer{
		Samples:    samples,
		Channels:   fb.Format.NumChannels,
		SampleRate: fb.Format.SampleRate,
	}
}
