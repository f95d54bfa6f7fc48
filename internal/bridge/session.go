package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/tutorlink/internal/recorder"
	"github.com/MrWong99/tutorlink/internal/selection"
	"github.com/MrWong99/tutorlink/pkg/audio"
	"github.com/MrWong99/tutorlink/pkg/audio/wav"
	"github.com/MrWong99/tutorlink/pkg/tutor"
)

// Texts of error frames sent to the front end.
const (
	msgSelectFirst  = "Select a part before asking a question."
	msgBadAudio     = "Could not read the recorded audio."
	msgNotRecording = "Not recording."
)

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn
	log    *slog.Logger

	mgr    *selection.Manager
	rec    *recorder.Recorder
	client *tutor.Client

	out     chan any
	pending sync.WaitGroup
}

func (s *Server) newSession(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, log *slog.Logger) (*session, error) {
	sess := &session{
		ctx:    ctx,
		cancel: cancel,
		conn:   conn,
		log:    log,
		out:    make(chan any, outboundQueue),
	}
	sess.mgr = selection.NewManager(s.catalogue, func(p selection.PanelState) {
		sess.send(panelFrame{Type: TypePanel, PanelState: p})
	})

	rec, err := recorder.New(s.recFormat,
		recorder.WithMaxDuration(s.maxRecording),
		recorder.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, err
	}
	sess.rec = rec

	status := tutor.StatusFunc(func(text string) {
		sess.mgr.SetStatus(text)
		sess.send(statusFrame{Type: TypeStatus, Text: text})
	})
	client, err := s.newClient(status, tutor.PlayerFunc(sess.play))
	if err != nil {
		return nil, fmt.Errorf("bridge: tutor client: %w", err)
	}
	sess.client = client
	return sess, nil
}

// run pumps frames until the connection or the context ends. It returns the
// error that ended the read loop.
func (s *session) run() error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	err := s.readLoop()
	s.cancel()
	s.pending.Wait()
	<-writerDone
	return err
}

func (s *session) readLoop() error {
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			if _, err := s.rec.WritePCM16(data); errors.Is(err, recorder.ErrNotRecording) {
				s.sendError(msgNotRecording)
			}
		case websocket.MessageText:
			var f clientFrame
			if err := json.Unmarshal(data, &f); err != nil {
				s.sendError("invalid frame: " + err.Error())
				continue
			}
			s.handle(f)
		}
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case v := <-s.out:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := wsjson.Write(ctx, s.conn, v)
			cancel()
			if err != nil {
				s.log.Debug("bridge: write failed", "err", err)
				s.cancel()
				return
			}
		}
	}
}

// send queues a frame. It blocks while the queue is full and gives up once
// the session is closing.
func (s *session) send(v any) {
	select {
	case s.out <- v:
	case <-s.ctx.Done():
	}
}

func (s *session) sendError(text string) {
	s.send(errorFrame{Type: TypeError, Text: text})
}

func (s *session) handle(f clientFrame) {
	switch f.Type {
	case TypeSelect:
		if _, err := s.mgr.Select(f.Part); err != nil {
			s.sendError(err.Error())
		}
	case TypeDeselect:
		s.mgr.Clear()
	case TypeRecordStart:
		src := audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
		if err := s.rec.Start(src); err != nil {
			s.sendError(err.Error())
		}
	case TypeRecordStop:
		// Releasing without an active recording is a no-op.
		if buf := s.rec.Stop(s.ctx); buf != nil {
			s.ask(buf)
		}
	case TypeAsk:
		buf, ok := s.decodeWAV(f.Audio)
		if !ok {
			s.sendError(msgBadAudio)
			return
		}
		s.ask(buf)
	case TypeProbe:
		raw, err := base64.StdEncoding.DecodeString(f.Audio)
		if err != nil {
			s.sendError(msgBadAudio)
			return
		}
		info, err := wav.Probe(raw)
		if err != nil {
			s.sendError(err.Error())
			return
		}
		s.send(newWAVInfoFrame(info))
	default:
		s.sendError(fmt.Sprintf("unknown frame type %q", f.Type))
	}
}

func (s *session) decodeWAV(b64 string) (*audio.Buffer, bool) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, false
	}
	buf := wav.Decode(raw)
	if err := buf.Validate(); err != nil {
		s.log.Debug("bridge: rejected client audio", "err", err)
		return nil, false
	}
	return buf, true
}

// ask sends buf about the selected part. Status lines and playback reach the
// front end through the client's sink and player; only the precondition
// failure needs reporting here.
func (s *session) ask(buf *audio.Buffer) {
	ch := s.client.SendAudioQuestionAsync(s.ctx, s.mgr.Current(), buf)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		o := <-ch
		if errors.Is(o.Err, tutor.ErrMissingContext) {
			s.sendError(msgSelectFirst)
		}
	}()
}

func (s *session) play(buf *audio.Buffer) {
	s.send(playFrame{
		Type:       TypePlay,
		Audio:      base64.StdEncoding.EncodeToString(wav.Encode(buf)),
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		DurationMS: buf.Duration().Milliseconds(),
	})
}
