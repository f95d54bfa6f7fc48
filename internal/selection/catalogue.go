package selection

import (
	"strings"
	"sync/atomic"
)

// Part is one selectable part of the model.
type Part struct {
	// Name is the canonical name sent to the tutor backend.
	Name string

	// Aliases are alternative names that resolve to Name.
	Aliases []string

	// Description is optional text shown alongside the part.
	Description string
}

// Catalogue resolves spoken or typed names to configured parts. It is
// immutable and safe for concurrent use.
type Catalogue struct {
	parts   []Part
	names   []indexedName
	owner   []int          // names[i] belongs to parts[owner[i]]
	exact   map[string]int // lowercased name or alias -> part index
	matcher *matcher
}

// NewCatalogue indexes parts. Names and aliases are compared
// case-insensitively; on a collision the first part wins.
func NewCatalogue(parts []Part, opts ...MatchOption) *Catalogue {
	c := &Catalogue{
		parts:   make([]Part, len(parts)),
		exact:   make(map[string]int, len(parts)),
		matcher: newMatcher(opts...),
	}
	copy(c.parts, parts)
	for i, p := range c.parts {
		for _, n := range append([]string{p.Name}, p.Aliases...) {
			key := strings.ToLower(strings.TrimSpace(n))
			if key == "" {
				continue
			}
			if _, dup := c.exact[key]; !dup {
				c.exact[key] = i
			}
			c.names = append(c.names, indexName(n))
			c.owner = append(c.owner, i)
		}
	}
	return c
}

// Len returns the number of parts. A nil Catalogue is empty.
func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.parts)
}

// Parts returns a copy of the configured parts in order.
func (c *Catalogue) Parts() []Part {
	if c == nil {
		return nil
	}
	out := make([]Part, len(c.parts))
	copy(out, c.parts)
	return out
}

// Lookup returns the part whose name or alias equals name, ignoring case and
// surrounding space.
func (c *Catalogue) Lookup(name string) (Part, bool) {
	if c == nil {
		return Part{}, false
	}
	i, ok := c.exact[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Part{}, false
	}
	return c.parts[i], true
}

// Resolve returns the part that best matches name. An exact name or alias
// match has confidence 1; otherwise the name is matched phonetically and
// fuzzily against every name and alias.
func (c *Catalogue) Resolve(name string) (part Part, confidence float64, ok bool) {
	if p, ok := c.Lookup(name); ok {
		return p, 1, true
	}
	if c.Len() == 0 {
		return Part{}, 0, false
	}
	idx, score := c.matcher.best(name, c.names)
	if idx < 0 {
		return Part{}, 0, false
	}
	return c.parts[c.owner[idx]], score, true
}

// Store holds the current catalogue and lets it be swapped on config reload.
type Store struct {
	cur atomic.Pointer[Catalogue]
}

// NewStore returns a Store holding c.
func NewStore(c *Catalogue) *Store {
	s := &Store{}
	s.cur.Store(c)
	return s
}

// Catalogue returns the current catalogue.
func (s *Store) Catalogue() *Catalogue { return s.cur.Load() }

// Replace swaps in c and returns the previous catalogue.
func (s *Store) Replace(c *Catalogue) *Catalogue { return s.cur.Swap(c) }
