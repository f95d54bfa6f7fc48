// Package mock provides in-memory implementations of the [tutor.StatusSink]
// and [tutor.Player] collaborators for use in unit tests.
//
// Both mocks are safe for concurrent use and record every call so that tests
// can assert on call order and arguments.
//
// Typical usage:
//
//	status := &mock.Status{}
//	player := &mock.Player{}
//	c, _ := tutor.New(srv.URL, tutor.WithStatus(status), tutor.WithPlayer(player))
//	_, _ = c.SendAudioQuestion(ctx, "Piston", buf)
//	// status.Texts() == []string{"Thinking...", "The piston moves..."}
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/tutorlink/pkg/audio"
	"github.com/MrWong99/tutorlink/pkg/tutor"
)

// Compile-time interface assertions.
var (
	_ tutor.StatusSink = (*Status)(nil)
	_ tutor.Player     = (*Player)(nil)
)

// ─── Status ──────────────────────────────────────────────────────────────────

// Status is a mock [tutor.StatusSink] that records every status line.
type Status struct {
	mu    sync.Mutex
	texts []string

	// OnSetStatus, when non-nil, is called after the text was recorded.
	OnSetStatus func(text string)
}

// SetStatus implements [tutor.StatusSink].
func (s *Status) SetStatus(text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	fn := s.OnSetStatus
	s.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

// Texts returns a copy of all recorded status lines in call order.
func (s *Status) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.texts)
}

// Last returns the most recent status line, or "" if none was recorded.
func (s *Status) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

// Reset discards all recorded status lines.
func (s *Status) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = nil
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock [tutor.Player] that records every buffer it was asked to
// play.
type Player struct {
	mu     sync.Mutex
	played []*audio.Buffer
}

// Play implements [tutor.Player].
func (p *Player) Play(buf *audio.Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, buf)
}

// CallCount returns how many times Play was called.
func (p *Player) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

// Played returns a copy of all buffers passed to Play, in call order.
func (p *Player) Played() []*audio.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.played)
}
