// Package selection tracks which part of the model the user has selected and
// what the info panel shows for it.
//
// A [Manager] is the per-session selection context: it holds the identity of
// the selected part (its name), the visible state of the info panel, and the
// panel's status line. Tapping the part that is already shown hides the
// panel; tapping any other part shows it. The selected part survives hiding
// the panel, so a question can still be asked about it.
//
// Part names are resolved through a [Catalogue] so that spoken or misspelled
// names map to the configured canonical name.
package selection

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrEmptyName is returned by [Manager.Select] for a blank name.
	ErrEmptyName = errors.New("selection: part name must not be empty")

	// ErrUnknownPart is returned by [Manager.Select] when the catalogue has
	// parts and none of them matches.
	ErrUnknownPart = errors.New("selection: unknown part")
)

// PromptText returns the panel text shown right after part is selected.
func PromptText(part string) string {
	return "Tap the microphone to ask a question about the " + part + "..."
}

// PanelState is what the info panel shows.
type PanelState struct {
	Visible     bool   `json:"visible"`
	Part        string `json:"part"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text"`
}

// CatalogueSource provides the current catalogue. [*Store] implements it.
type CatalogueSource interface {
	Catalogue() *Catalogue
}

// Manager is the selection context of one front-end session. It is safe for
// concurrent use.
type Manager struct {
	source   CatalogueSource
	onChange func(PanelState)

	mu      sync.Mutex
	current string
	panel   PanelState
}

// NewManager returns a Manager with nothing selected. onChange, when
// non-nil, is called with the new panel state after every change. It runs
// while the Manager is locked so updates arrive in order; it must not call
// back into the Manager.
func NewManager(source CatalogueSource, onChange func(PanelState)) *Manager {
	return &Manager{source: source, onChange: onChange}
}

// Select makes name the current part. With a non-empty catalogue the name is
// resolved to the canonical part name first; with an empty one it is taken
// as given. The selection is updated even when the panel is hidden by the
// toggle.
func (m *Manager) Select(name string) (PanelState, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return m.Panel(), ErrEmptyName
	}

	part := Part{Name: name}
	var cat *Catalogue
	if m.source != nil {
		cat = m.source.Catalogue()
	}
	if cat.Len() > 0 {
		p, _, ok := cat.Resolve(name)
		if !ok {
			return m.Panel(), fmt.Errorf("%w: %q", ErrUnknownPart, name)
		}
		part = p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = part.Name
	if m.panel.Visible && m.panel.Part == part.Name {
		m.panel.Visible = false
	} else {
		m.panel = PanelState{
			Visible:     true,
			Part:        part.Name,
			Description: part.Description,
			Text:        PromptText(part.Name),
		}
	}
	m.notify()
	return m.panel, nil
}

// Clear drops the selection and hides the panel.
func (m *Manager) Clear() PanelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ""
	m.panel.Visible = false
	m.notify()
	return m.panel
}

// Current returns the selected part name, or "" when nothing is selected.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Panel returns the current panel state.
func (m *Manager) Panel() PanelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panel
}

// SetStatus replaces the panel text without changing its visibility. It
// lets a Manager serve as the status sink of a tutor client.
func (m *Manager) SetStatus(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panel.Text = text
	m.notify()
}

func (m *Manager) notify() {
	if m.onChange != nil {
		m.onChange(m.panel)
	}
}
