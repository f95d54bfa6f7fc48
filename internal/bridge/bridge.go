// Package bridge connects an AR front end to the tutor over a WebSocket.
//
// Each connection is one session: it owns a selection [selection.Manager],
// a push-to-talk [recorder.Recorder] and a [tutor.Client] whose status lines
// and spoken replies are forwarded to the front end. Text frames carry JSON
// commands; binary frames carry 16-bit little-endian PCM for the active
// recording.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/tutorlink/internal/observe"
	"github.com/MrWong99/tutorlink/internal/recorder"
	"github.com/MrWong99/tutorlink/internal/selection"
	"github.com/MrWong99/tutorlink/pkg/audio"
	"github.com/MrWong99/tutorlink/pkg/tutor"
)

const (
	// maxFrameBytes bounds one inbound frame. A 10 s mono clip at 44.1 kHz
	// is about 1.2 MB once Base64 encoded.
	maxFrameBytes = 8 << 20

	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 5 * time.Second

	// outboundQueue is the number of frames buffered per session.
	outboundQueue = 64
)

// ClientFactory builds the tutor client of one session. The client must
// report to status and play through player.
type ClientFactory func(status tutor.StatusSink, player tutor.Player) (*tutor.Client, error)

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithRecorderFormat sets the format recordings are delivered in.
// Default: 44100 Hz mono.
func WithRecorderFormat(f audio.Format) Option {
	return func(s *Server) { s.recFormat = f }
}

// WithMaxRecording caps one push-to-talk recording. Default: 10 s.
func WithMaxRecording(d time.Duration) Option {
	return func(s *Server) { s.maxRecording = d }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithOriginPatterns sets the host patterns accepted for cross-origin
// connections. See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server is an [http.Handler] that upgrades requests to bridge sessions.
type Server struct {
	catalogue      selection.CatalogueSource
	newClient      ClientFactory
	recFormat      audio.Format
	maxRecording   time.Duration
	metrics        *observe.Metrics
	originPatterns []string

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

// New returns a Server that resolves part names through catalogue and
// builds a tutor client per session with newClient.
func New(catalogue selection.CatalogueSource, newClient ClientFactory, opts ...Option) (*Server, error) {
	if newClient == nil {
		return nil, errors.New("bridge: client factory must not be nil")
	}
	s := &Server{
		catalogue:    catalogue,
		newClient:    newClient,
		recFormat:    audio.Format{SampleRate: recorder.DefaultSampleRate, Channels: 1},
		maxRecording: recorder.DefaultMaxDuration,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.base, s.shutdown = context.WithCancel(context.Background())
	return s, nil
}

// ServeHTTP accepts the WebSocket upgrade and runs the session until the
// peer disconnects or the Server is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("bridge: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	ctx = observe.WithConnID(ctx, uuid.NewString())
	log := observe.Logger(ctx)

	sess, err := s.newSession(ctx, cancel, conn, log)
	if err != nil {
		log.Error("bridge: create session", "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	s.metrics.BridgeConnections.Add(ctx, 1)
	defer s.metrics.BridgeConnections.Add(context.WithoutCancel(ctx), -1)
	log.Info("bridge: client connected", "remote", r.RemoteAddr)

	err = sess.run()
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("bridge: client disconnected")
	case errors.Is(err, context.Canceled):
		log.Info("bridge: session closed")
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		log.Warn("bridge: session ended", "err", err)
	}
}

// Close ends every open session and waits for them to finish or for ctx to
// expire. New upgrades are refused afterwards.
func (s *Server) Close(ctx context.Context) error {
	s.shutdown()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
