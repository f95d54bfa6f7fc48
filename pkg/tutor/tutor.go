// Package tutor sends spoken questions about a selected part to the remote AI
// tutor backend and delivers its reply.
//
// One question is one stateless HTTP exchange: the recorded PCM is encoded as
// a canonical WAV stream, Base64-wrapped into a JSON body and POSTed to
// /qa/ask-about-part-audio. The reply text goes to the configured
// [StatusSink] and the optional spoken reply is decoded and handed to the
// configured [Player].
//
// Typical usage:
//
//	c, err := tutor.New("https://tutor.example.com",
//	    tutor.WithTimeout(30*time.Second),
//	    tutor.WithStatus(panel),
//	    tutor.WithPlayer(speaker),
//	)
//	res, err := c.SendAudioQuestion(ctx, "Piston", recording)
//
// Status updates follow a fixed order: [StatusThinking] is emitted before any
// network activity, and exactly one terminal update (the reply text or
// [StatusConnectError]) follows once the exchange is over. A question without
// a selected part fails with [ErrMissingContext] and emits nothing.
package tutor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/tutorlink/internal/observe"
	"github.com/MrWong99/tutorlink/internal/resilience"
	"github.com/MrWong99/tutorlink/pkg/audio"
	"github.com/MrWong99/tutorlink/pkg/audio/wav"
)

const (
	// AskEndpoint is the path of the question endpoint below the base URL.
	AskEndpoint = "/qa/ask-about-part-audio"

	defaultTimeout = 30 * time.Second

	// maxReplyBytes bounds the reply body. A ten second stereo reply at
	// 48 kHz is under 3 MiB once Base64-wrapped.
	maxReplyBytes = 32 << 20

	// maxErrorSnippet bounds the body excerpt kept in a status error.
	maxErrorSnippet = 256
)

// ---- options ----

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout sets the per-question HTTP timeout. Defaults to 30 s. Apply it
// after [WithHTTPClient], which replaces the client it modifies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient bases the client's HTTP client on hc. The client keeps its
// own copy, so [WithTimeout] never writes to hc and several clients can
// share one transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.httpClient = &cp
		}
	}
}

// WithStatus sets the sink that receives status lines.
func WithStatus(s StatusSink) Option {
	return func(c *Client) {
		if s != nil {
			c.status = s
		}
	}
}

// WithPlayer sets the player for spoken replies. Without a player replies
// are still decoded into [Result.Audio] but nothing is played.
func WithPlayer(p Player) Option {
	return func(c *Client) {
		c.player = p
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithConcurrency sets the policy for overlapping questions. Defaults to
// [PolicySupersede].
func WithConcurrency(p Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithBreaker guards every question with b. While b is open questions fail
// fast with a [*NetworkError] whose Op is "breaker". Build b with
// [IsBackendFailure] so that only backend faults trip it.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// ---- Client ----

// Client talks to one tutor backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	status     StatusSink
	player     Player
	metrics    *observe.Metrics
	policy     Policy
	breaker    *resilience.Breaker

	flight flight
}

// New creates a Client for the backend at baseURL (e.g.
// "https://tutor.example.com"). baseURL must be non-empty; a trailing slash
// is trimmed.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("tutor: baseURL must not be empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		status: nopStatus{},
		policy: PolicySupersede,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// BaseURL returns the normalised backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Policy returns the configured concurrency policy.
func (c *Client) Policy() Policy { return c.policy }

// SendAudioQuestion asks the tutor about subject using the recorded pcm and
// blocks until the reply has been delivered or the exchange failed.
//
// It returns [ErrMissingContext] when subject is empty, a [*NetworkError]
// when the exchange failed, and [ErrSuperseded] when a newer question
// replaced this one. A nil pcm is sent as an empty audio payload and left for
// the backend to reject. A reply with malformed audio is not an error:
// [Result.Audio] is nil and only the text is delivered.
func (c *Client) SendAudioQuestion(ctx context.Context, subject string, pcm *audio.Buffer) (*Result, error) {
	if subject == "" {
		return nil, ErrMissingContext
	}
	ctx, t := c.begin(ctx)
	defer t.done()
	return c.exchange(ctx, t, subject, pcm)
}

// SendAudioQuestionAsync is the non-blocking form of [SendAudioQuestion].
// The "Thinking..." status is emitted before it returns; the outcome is
// delivered on the returned channel, which receives exactly one value and is
// then closed.
func (c *Client) SendAudioQuestionAsync(ctx context.Context, subject string, pcm *audio.Buffer) <-chan Outcome {
	out := make(chan Outcome, 1)
	if subject == "" {
		out <- Outcome{Err: ErrMissingContext}
		close(out)
		return out
	}
	ctx, t := c.begin(ctx)
	go func() {
		defer close(out)
		defer t.done()
		res, err := c.exchange(ctx, t, subject, pcm)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// begin claims an in-flight ticket and emits StatusThinking.
func (c *Client) begin(ctx context.Context) (context.Context, *ticket) {
	thinking := func() { c.status.SetStatus(StatusThinking) }
	if c.policy == PolicyIndependent {
		return independent(ctx, thinking)
	}
	return c.flight.begin(ctx, thinking)
}

// exchange performs one question round trip under ticket t.
func (c *Client) exchange(ctx context.Context, t *ticket, subject string, pcm *audio.Buffer) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	ctx = observe.WithRequestID(ctx, requestID)

	ctx, span := observe.StartSpan(ctx, "tutor.ask",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tutor.part", subject),
			attribute.String("tutor.request_id", requestID),
		),
	)
	defer span.End()

	log := observe.Logger(ctx).With(slog.String("part", subject))

	wavBytes := wav.Encode(pcm)
	c.metrics.RecordEncodedAudio(ctx, len(wavBytes))

	q, err := NewQuestionRequest(subject, wavBytes)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("tutor: marshal question: %w", err)
	}

	log.Debug("tutor: sending question", slog.Int("wav_bytes", len(wavBytes)))
	reply, err := c.send(ctx, requestID, body)
	if err != nil {
		if superseded(ctx) {
			return nil, c.dropSuperseded(ctx, span, log, start)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordTutorError(ctx, errorKind(err))
		if !t.settle(func() { c.status.SetStatus(StatusConnectError) }) {
			return nil, c.dropSuperseded(ctx, span, log, start)
		}
		c.metrics.RecordTutorRequest(ctx, "error", time.Since(start).Seconds())
		log.Warn("tutor: question failed", slog.Any("err", err), slog.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	res := &Result{
		RequestID: requestID,
		Reply:     reply,
		Audio:     c.decodeAudio(ctx, log, reply),
	}
	delivered := t.settle(func() {
		c.status.SetStatus(reply.ResponseText)
		if res.Audio != nil && c.player != nil {
			c.player.Play(res.Audio)
		}
	})
	if !delivered {
		return nil, c.dropSuperseded(ctx, span, log, start)
	}

	span.SetAttributes(attribute.Bool("tutor.audio_reply", res.Audio != nil))
	c.metrics.RecordTutorRequest(ctx, "ok", time.Since(start).Seconds())
	log.Info("tutor: reply delivered",
		slog.Int("text_len", len(reply.ResponseText)),
		slog.Bool("audio", res.Audio != nil),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// dropSuperseded records a question that lost the in-flight slot.
func (c *Client) dropSuperseded(ctx context.Context, span trace.Span, log *slog.Logger, start time.Time) error {
	span.SetAttributes(attribute.Bool("tutor.superseded", true))
	c.metrics.RecordTutorRequest(context.WithoutCancel(ctx), "superseded", time.Since(start).Seconds())
	log.Debug("tutor: question superseded by a newer one")
	return ErrSuperseded
}

// send posts body through the breaker when one is configured.
func (c *Client) send(ctx context.Context, requestID string, body []byte) (Reply, error) {
	if c.breaker == nil {
		return c.post(ctx, requestID, body)
	}
	var reply Reply
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		reply, err = c.post(ctx, requestID, body)
		return err
	})
	if errors.Is(err, resilience.ErrOpen) {
		return Reply{}, &NetworkError{Op: "breaker", Err: err}
	}
	return reply, err
}

// IsBackendFailure reports whether err means the backend is unhealthy: it
// could not be reached, broke off the reply, or answered with a 5xx status.
// Cancellations and 4xx answers do not count.
func IsBackendFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ne *NetworkError
	if !errors.As(err, &ne) {
		return false
	}
	switch ne.Op {
	case "post", "read":
		return true
	case "status":
		return ne.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// post sends body to the ask endpoint and parses the reply.
func (c *Client) post(ctx context.Context, requestID string, body []byte) (Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AskEndpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, &NetworkError{Op: "post", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(observe.HeaderRequestID, requestID)
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, &NetworkError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ne := &NetworkError{Op: "status", StatusCode: resp.StatusCode}
		if snippet := strings.TrimSpace(string(data[:min(len(data), maxErrorSnippet)])); snippet != "" {
			ne.Err = errors.New(snippet)
		}
		return Reply{}, ne
	}
	if readErr != nil {
		return Reply{}, &NetworkError{Op: "read", StatusCode: resp.StatusCode, Err: readErr}
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Reply{}, &NetworkError{Op: "decode", Err: err}
	}
	return reply, nil
}

// decodeAudio turns the reply audio into a buffer. Malformed audio degrades
// to a text-only reply and is only visible in debug logs and metrics.
func (c *Client) decodeAudio(ctx context.Context, log *slog.Logger, reply Reply) *audio.Buffer {
	if !reply.HasAudio() {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(reply.AudioReply)
	if err != nil {
		c.metrics.RecordTutorError(ctx, "malformed_audio")
		log.Debug("tutor: reply audio is not valid base64", slog.Any("err", err))
		return nil
	}
	buf := wav.Decode(raw)
	if buf == nil {
		c.metrics.RecordTutorError(ctx, "malformed_audio")
		info, perr := wav.Probe(raw)
		log.Debug("tutor: reply audio is not a decodable WAV",
			slog.Int("bytes", len(raw)),
			slog.Any("probe", info),
			slog.Any("probe_err", perr),
		)
		return nil
	}
	if log.Enabled(ctx, slog.LevelDebug) {
		if info, err := wav.Probe(raw); err == nil && !info.Canonical {
			log.Debug("tutor: reply audio has a non-canonical layout", slog.Any("probe", info))
		}
	}
	return buf
}

// errorKind maps a transport failure to its metric label.
func errorKind(err error) string {
	var ne *NetworkError
	if !errors.As(err, &ne) {
		return "transport"
	}
	switch ne.Op {
	case "status":
		return "status"
	case "decode":
		return "decode"
	case "breaker":
		return "circuit_open"
	default:
		return "transport"
	}
}

// Ping checks that the backend answers HTTP at its base URL. Any response
// below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return &NetworkError{Op: "ping", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		return &NetworkError{Op: "ping", StatusCode: resp.StatusCode}
	}
	return nil
}
