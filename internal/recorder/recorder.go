// Package recorder implements push-to-talk capture: a press starts a
// recording, incoming PCM is appended while the button is held, and the
// release returns the finished clip.
//
// A recording is capped at a maximum duration; samples arriving after the
// cap are dropped and the clip ends there. The finished clip is converted to
// the configured output format before it is returned.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/tutorlink/internal/observe"
	"github.com/MrWong99/tutorlink/pkg/audio"
)

const (
	// DefaultSampleRate is the capture rate used when none is configured.
	DefaultSampleRate = 44100

	// DefaultMaxDuration caps one recording.
	DefaultMaxDuration = 10 * time.Second
)

// ErrNotRecording is returned by [Recorder.Write] outside a recording.
var ErrNotRecording = errors.New("recorder: not recording")

// Option is a functional option for configuring a [Recorder].
type Option func(*Recorder)

// WithMaxDuration sets the recording cap. Default: 10 s.
func WithMaxDuration(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.maxDuration = d
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Recorder captures one push-to-talk clip at a time. It is safe for
// concurrent use.
type Recorder struct {
	output      audio.Format
	maxDuration time.Duration
	metrics     *observe.Metrics

	mu        sync.Mutex
	clip      *goaudio.Float32Buffer // nil when idle
	maxSample int
	startedAt time.Time
	truncated bool
}

// New returns a Recorder whose clips are delivered in the output format.
func New(output audio.Format, opts ...Option) (*Recorder, error) {
	if output.SampleRate <= 0 {
		return nil, fmt.Errorf("recorder: sample rate must be positive, got %d", output.SampleRate)
	}
	if output.Channels <= 0 {
		return nil, fmt.Errorf("recorder: channels must be positive, got %d", output.Channels)
	}
	r := &Recorder{
		output:      output,
		maxDuration: DefaultMaxDuration,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Output returns the format of finished clips.
func (r *Recorder) Output() audio.Format { return r.output }

// MaxDuration returns the recording cap.
func (r *Recorder) MaxDuration() time.Duration { return r.maxDuration }

// Start begins a new recording of PCM arriving in format src. A zero src
// means the output format. Starting while already recording discards the
// unfinished clip.
func (r *Recorder) Start(src audio.Format) error {
	if src == (audio.Format{}) {
		src = r.output
	}
	if src.SampleRate <= 0 || src.Channels <= 0 {
		return fmt.Errorf("recorder: invalid source format %dHz/%dch", src.SampleRate, src.Channels)
	}

	maxFrames := int(int64(src.SampleRate) * int64(r.maxDuration) / int64(time.Second))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clip != nil {
		slog.Debug("recorder: restarting, unfinished clip discarded", "samples", len(r.clip.Data))
	}
	r.clip = &goaudio.Float32Buffer{
		Format:         &goaudio.Format{NumChannels: src.Channels, SampleRate: src.SampleRate},
		Data:           make([]float32, 0, min(maxFrames*src.Channels, src.SampleRate*src.Channels)),
		SourceBitDepth: 16,
	}
	r.maxSample = maxFrames * src.Channels
	r.startedAt = time.Now()
	r.truncated = false
	return nil
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clip != nil
}

// Write appends interleaved samples to the current recording and returns how
// many were kept. Samples beyond the cap are dropped.
func (r *Recorder) Write(samples []float32) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clip == nil {
		return 0, ErrNotRecording
	}
	room := r.maxSample - len(r.clip.Data)
	if room <= 0 {
		r.truncated = true
		return 0, nil
	}
	if len(samples) > room {
		samples = samples[:room]
		r.truncated = true
	}
	r.clip.Data = append(r.clip.Data, samples...)
	return len(samples), nil
}

// WritePCM16 appends little-endian signed 16-bit PCM.
func (r *Recorder) WritePCM16(pcm []byte) (int, error) {
	return r.Write(audio.PCM16ToFloat(pcm))
}

// Stop ends the recording and returns the clip in the output format. It
// returns nil when no recording was in progress. A trailing partial frame is
// dropped.
func (r *Recorder) Stop(ctx context.Context) *audio.Buffer {
	r.mu.Lock()
	clip, startedAt, truncated := r.clip, r.startedAt, r.truncated
	r.clip = nil
	r.mu.Unlock()

	if clip == nil {
		return nil
	}
	channels := clip.Format.NumChannels
	clip.Data = clip.Data[:len(clip.Data)/channels*channels]

	buf := audio.FromFloat32Buffer(clip)
	conv := &audio.Converter{Target: r.output}
	out := conv.Convert(buf)

	r.metrics.RecordRecording(ctx, buf.Duration().Seconds())
	observe.Logger(ctx).Debug("recorder: clip finished",
		slog.Duration("audio", buf.Duration()),
		slog.Duration("held", time.Since(startedAt)),
		slog.Bool("truncated", truncated),
	)
	return out
}
