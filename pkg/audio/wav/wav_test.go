package wav

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/tutorlink/pkg/audio"
)

func TestEncode_OneSecondSilence(t *testing.T) {
	buf := &audio.Buffer{Samples: make([]float32, 44100), Channels: 1, SampleRate: 44100}
	got := Encode(buf)

	if len(got) != 88244 {
		t.Fatalf("len = %d, want 88244", len(got))
	}
	if ch := binary.LittleEndian.Uint16(got[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if rate := binary.LittleEndian.Uint32(got[24:28]); rate != 44100 {
		t.Errorf("sample rate = %d, want 44100", rate)
	}
	for i, b := range got[HeaderSize:] {
		if b != 0 {
			t.Fatalf("data byte %d = %#x, want 0", i, b)
		}
	}
}

func TestEncode_FullScaleSample(t *testing.T) {
	got := Encode(&audio.Buffer{Samples: []float32{1.0}, Channels: 1, SampleRate: 8000})
	if len(got) != HeaderSize+2 {
		t.Fatalf("len = %d, want %d", len(got), HeaderSize+2)
	}
	if got[44] != 0xFF || got[45] != 0x7F {
		t.Errorf("sample bytes = %#x %#x, want 0xff 0x7f", got[44], got[45])
	}
}

func TestEncode_Header(t *testing.T) {
	buf := &audio.Buffer{Samples: make([]float32, 2*100), Channels: 2, SampleRate: 22050}
	got := Encode(buf)
	le := binary.LittleEndian

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"riff", string(got[0:4]), "RIFF"},
		{"chunk size", le.Uint32(got[4:8]), uint32(len(got) - 8)},
		{"wave", string(got[8:12]), "WAVE"},
		{"fmt", string(got[12:16]), "fmt "},
		{"fmt size", le.Uint32(got[16:20]), uint32(16)},
		{"format", le.Uint16(got[20:22]), uint16(1)},
		{"channels", le.Uint16(got[22:24]), uint16(2)},
		{"sample rate", le.Uint32(got[24:28]), uint32(22050)},
		{"byte rate", le.Uint32(got[28:32]), uint32(22050 * 2 * 2)},
		{"block align", le.Uint16(got[32:34]), uint16(4)},
		{"bits", le.Uint16(got[34:36]), uint16(16)},
		{"data", string(got[36:40]), "data"},
		{"data size", le.Uint32(got[40:44]), uint32(len(got) - 44)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestEncode_HeaderInvariantAcrossShapes(t *testing.T) {
	for _, channels := range []int{1, 2, 6} {
		for _, frames := range []int{0, 1, 7, 1000} {
			buf := &audio.Buffer{
				Samples:    make([]float32, frames*channels),
				Channels:   channels,
				SampleRate: 16000,
			}
			got := Encode(buf)
			if want := HeaderSize + frames*channels*2; len(got) != want {
				t.Errorf("%dch/%d frames: len = %d, want %d", channels, frames, len(got), want)
			}
			if v := binary.LittleEndian.Uint32(got[4:8]); int(v) != len(got)-8 {
				t.Errorf("%dch/%d frames: chunk size = %d, want %d", channels, frames, v, len(got)-8)
			}
			if v := binary.LittleEndian.Uint32(got[40:44]); int(v) != len(got)-44 {
				t.Errorf("%dch/%d frames: data size = %d, want %d", channels, frames, v, len(got)-44)
			}
		}
	}
}

func TestEncode_NilBufferIsEmpty(t *testing.T) {
	got := Encode(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("Encode(nil) = %v, want empty non-nil slice", got)
	}
}

func TestEncode_DoesNotClamp(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{-1.0, -32767},
		{0.5, 16384}, // round(16383.5)
		{-0.5, -16384},
		// 1.5*32767 = 49150.5 -> 49151, which wraps to 49151-65536.
		{1.5, 49151 - 65536},
		// -2*32767 = -65534, which wraps to 2.
		{-2.0, 2},
	}
	for _, tt := range tests {
		got := Encode(&audio.Buffer{Samples: []float32{tt.in}, Channels: 1, SampleRate: 8000})
		if s := int16(binary.LittleEndian.Uint16(got[44:46])); s != tt.want {
			t.Errorf("Encode(%v) sample = %d, want %d", tt.in, s, tt.want)
		}
	}
}

func TestDecode_TolerantInputs(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"short", make([]byte, 43)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode(tt.in); got != nil {
				t.Errorf("Decode = %+v, want nil", got)
			}
		})
	}
}

func TestDecode_ZeroChannels(t *testing.T) {
	b := Encode(&audio.Buffer{Samples: make([]float32, 10), Channels: 1, SampleRate: 8000})
	binary.LittleEndian.PutUint16(b[22:24], 0)
	if got := Decode(b); got != nil {
		t.Errorf("Decode with 0 channels = %+v, want nil", got)
	}
}

func TestDecode_HeaderOnly(t *testing.T) {
	b := Encode(&audio.Buffer{Channels: 2, SampleRate: 48000})
	got := Decode(b)
	if got == nil {
		t.Fatal("Decode of header-only stream returned nil")
	}
	if got.SampleCount() != 0 || got.Channels != 2 || got.SampleRate != 48000 {
		t.Errorf("got %+v", got)
	}
}

func TestDecode_DropsPartialFrame(t *testing.T) {
	b := Encode(&audio.Buffer{Samples: []float32{0.1, 0.2, 0.3, 0.4}, Channels: 2, SampleRate: 8000})
	// Add one dangling sample (2 bytes) and one dangling byte.
	b = append(b, 0x10, 0x00, 0x7F)
	got := Decode(b)
	if got.SampleCount() != 2 || len(got.Samples) != 4 {
		t.Errorf("frames = %d, samples = %d, want 2 and 4", got.SampleCount(), len(got.Samples))
	}
}

func TestDecode_IgnoresDeclaredSizes(t *testing.T) {
	b := Encode(&audio.Buffer{Samples: []float32{0.25, -0.25}, Channels: 1, SampleRate: 8000})
	// Corrupt both size fields; Decode trusts the byte length only.
	binary.LittleEndian.PutUint32(b[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(b[40:44], 2)
	got := Decode(b)
	if got.SampleCount() != 2 {
		t.Errorf("frames = %d, want 2", got.SampleCount())
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const tolerance = 1.0 / 32767

	for _, shape := range []struct{ channels, rate, frames int }{
		{1, 44100, 44100},
		{2, 48000, 1234},
		{1, 8000, 1},
		{4, 16000, 333},
	} {
		samples := make([]float32, shape.frames*shape.channels)
		for i := range samples {
			samples[i] = rng.Float32()*2 - 1
		}
		in := &audio.Buffer{Samples: samples, Channels: shape.channels, SampleRate: shape.rate}

		out := Decode(Encode(in))
		if out == nil {
			t.Fatalf("%+v: round trip returned nil", shape)
		}
		if out.SampleCount() != in.SampleCount() || out.Channels != in.Channels || out.SampleRate != in.SampleRate {
			t.Fatalf("%+v: got %d frames / %d ch / %d Hz", shape, out.SampleCount(), out.Channels, out.SampleRate)
		}
		for i := range samples {
			if d := math.Abs(float64(out.Samples[i] - samples[i])); d > tolerance {
				t.Fatalf("%+v: sample %d off by %g (in %v, out %v)", shape, i, d, samples[i], out.Samples[i])
			}
		}
	}
}

func TestRoundTrip_Extremes(t *testing.T) {
	in := &audio.Buffer{Samples: []float32{-1, 0, 1}, Channels: 1, SampleRate: 8000}
	out := Decode(Encode(in))
	for i, want := range in.Samples {
		if out.Samples[i] != want {
			t.Errorf("sample %d = %v, want %v", i, out.Samples[i], want)
		}
	}
}
