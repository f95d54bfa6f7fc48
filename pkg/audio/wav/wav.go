// Package wav converts between [audio.Buffer] values and canonical 16-bit PCM
// WAV byte streams.
//
// The layout is the fixed 44-byte RIFF/WAVE header (RIFF descriptor, a 16-byte
// "fmt " chunk and the "data" chunk header) followed by signed 16-bit
// little-endian samples, interleaved by channel. Encode and Decode are pure:
// they perform no I/O and never block.
//
// Both directions are deliberately tolerant. Encode of a nil buffer yields an
// empty byte slice, and Decode of nil, truncated or channel-less input yields
// nil instead of an error, so that a broken audio payload never blocks the
// text it travels with.
package wav

import (
	"encoding/binary"
	"math"

	"github.com/MrWong99/tutorlink/pkg/audio"
)

const (
	// HeaderSize is the size of the canonical PCM WAV header in bytes.
	HeaderSize = 44

	// FormatPCM is the WAVE format tag for uncompressed PCM.
	FormatPCM = 1

	// BitsPerSample is the only sample width produced and consumed here.
	BitsPerSample = 16

	bytesPerSample = BitsPerSample / 8
	fmtChunkSize   = 16

	// scale maps the normalised range [-1, 1] onto int16. It is 32767, not
	// 32768, in both directions.
	scale = 32767.0
)

// Encode renders buf as a canonical WAV byte stream. The result is always
// exactly HeaderSize + SampleCount*Channels*2 bytes; a nil buf yields an empty
// slice.
//
// Samples are quantised with round(s*32767) and are NOT clamped: a sample
// outside [-1, 1] wraps around when truncated to 16 bits.
func Encode(buf *audio.Buffer) []byte {
	if buf == nil {
		return []byte{}
	}

	n := len(buf.Samples)
	if buf.Channels > 0 {
		n = buf.SampleCount() * buf.Channels
	}
	dataLen := n * bytesPerSample
	total := HeaderSize + dataLen

	out := make([]byte, total)
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(total-8))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], fmtChunkSize)
	le.PutUint16(out[20:22], FormatPCM)
	le.PutUint16(out[22:24], uint16(buf.Channels))
	le.PutUint32(out[24:28], uint32(buf.SampleRate))
	le.PutUint32(out[28:32], uint32(buf.SampleRate*buf.Channels*bytesPerSample))
	le.PutUint16(out[32:34], uint16(buf.Channels*bytesPerSample))
	le.PutUint16(out[34:36], BitsPerSample)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(dataLen))

	for i, s := range buf.Samples[:n] {
		le.PutUint16(out[HeaderSize+i*bytesPerSample:], uint16(quantize(s)))
	}
	return out
}

// quantize converts a normalised sample to int16 without clamping.
// Out-of-range values wrap through the int64 conversion.
func quantize(s float32) int16 {
	return int16(int64(math.Round(float64(s) * scale)))
}

// Decode parses a canonical WAV byte stream into a Buffer. It reads the
// channel count at offset 22 and the sample rate at offset 24, and treats
// everything from offset 44 onward as 16-bit samples. A trailing partial
// sample frame is dropped.
//
// Decode returns nil when b is nil, shorter than HeaderSize, or declares zero
// channels.
func Decode(b []byte) *audio.Buffer {
	if len(b) < HeaderSize {
		return nil
	}
	le := binary.LittleEndian
	channels := int(le.Uint16(b[22:24]))
	if channels == 0 {
		return nil
	}
	sampleRate := int(le.Uint32(b[24:28]))

	frames := (len(b) - HeaderSize) / bytesPerSample / channels
	samples := make([]float32, frames*channels)
	for i := range samples {
		s := int16(le.Uint16(b[HeaderSize+i*bytesPerSample:]))
		samples[i] = float32(float64(s) / scale)
	}
	return &audio.Buffer{
		Samples:    samples,
		Channels:   channels,
		SampleRate: sampleRate,
	}
}
