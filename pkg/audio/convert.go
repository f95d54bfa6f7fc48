package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// pcm16Scale is the divisor used when rescaling signed 16-bit samples to
// floats. It matches the WAV codec so that capture and decode agree.
const pcm16Scale = 32767.0

// Converter converts Buffers to a target format. It logs a warning on the
// first format mismatch. Create one per stream; not designed for shared use
// across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts buf to the target format. If the source format already
// matches the target, buf is returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert.
func (c *Converter) Convert(buf *Buffer) *Buffer {
	if buf == nil {
		return nil
	}
	if buf.SampleRate == c.Target.SampleRate && buf.Channels == c.Target.Channels {
		return buf
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(buf.SampleRate, buf.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	out := buf
	if out.SampleRate != c.Target.SampleRate {
		out = Resample(out, c.Target.SampleRate)
	}
	if out.Channels != c.Target.Channels {
		switch {
		case c.Target.Channels == 1:
			out = ToMono(out)
		case out.Channels == 1 && c.Target.Channels == 2:
			out = MonoToStereo(out)
		}
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit PCM into normalised
// float samples. A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(float64(s) / pcm16Scale)
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(buf *Buffer) *Buffer {
	out := make([]float32, len(buf.Samples)*2)
	for i, s := range buf.Samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return &Buffer{Samples: out, Channels: 2, SampleRate: buf.SampleRate}
}

// ToMono averages all channels of each frame into a single mono sample.
// A buffer that is already mono is returned unchanged.
func ToMono(buf *Buffer) *Buffer {
	if buf.Channels <= 1 {
		return buf
	}
	frames := buf.SampleCount()
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range buf.Channels {
			sum += buf.Samples[i*buf.Channels+ch]
		}
		out[i] = sum / float32(buf.Channels)
	}
	return &Buffer{Samples: out, Channels: 1, SampleRate: buf.SampleRate}
}

// Resample converts buf to dstRate using per-channel linear interpolation.
// If the rates already match, or either rate is not positive, buf is returned
// unchanged.
func Resample(buf *Buffer, dstRate int) *Buffer {
	srcRate := buf.SampleRate
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || buf.Channels <= 0 {
		return buf
	}
	srcFrames := buf.SampleCount()
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	channels := buf.Channels
	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for ch := range channels {
			s0 := buf.Samples[srcIdx*channels+ch]
			s1 := buf.Samples[next*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return &Buffer{Samples: out, Channels: channels, SampleRate: dstRate}
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "44100Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
