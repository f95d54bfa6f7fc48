package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Policy decides what happens when a question is sent while an earlier one is
// still waiting for its reply.
type Policy int

const (
	// PolicySupersede cancels the earlier question. Only the latest question
	// may update the status sink or trigger playback.
	PolicySupersede Policy = iota

	// PolicyIndependent lets every question run to completion. Replies may
	// arrive in any order and each one updates the UI.
	PolicyIndependent
)

// String returns the config spelling of p.
func (p Policy) String() string {
	switch p {
	case PolicySupersede:
		return "supersede"
	case PolicyIndependent:
		return "independent"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the config spelling of a [Policy]. The empty string
// selects [PolicySupersede].
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "supersede":
		return PolicySupersede, nil
	case "independent":
		return PolicyIndependent, nil
	default:
		return 0, fmt.Errorf("tutor: unknown concurrency policy %q (want supersede or independent)", s)
	}
}

// flight is the single in-flight slot used by [PolicySupersede].
type flight struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelCauseFunc
}

// ticket identifies one question within its flight.
type ticket struct {
	f      *flight // nil under PolicyIndependent
	id     uint64
	cancel context.CancelCauseFunc
}

// begin registers a new question, cancels the previous one with cause
// [ErrSuperseded] and runs start while holding the slot, so that start is
// ordered after any terminal update of the previous question.
func (f *flight) begin(ctx context.Context, start func()) (context.Context, *ticket) {
	ctx, cancel := context.WithCancelCause(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel(ErrSuperseded)
	}
	f.seq++
	f.cancel = cancel
	start()
	return ctx, &ticket{f: f, id: f.seq, cancel: cancel}
}

// independent returns a ticket that is never superseded.
func independent(ctx context.Context, start func()) (context.Context, *ticket) {
	ctx, cancel := context.WithCancelCause(ctx)
	start()
	return ctx, &ticket{cancel: cancel}
}

// settle runs fn if t is still the latest question and reports whether it
// did. Under PolicySupersede fn runs with the slot held.
func (t *ticket) settle(fn func()) bool {
	if t.f == nil {
		fn()
		return true
	}
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.f.seq != t.id {
		return false
	}
	fn()
	return true
}

// done releases the slot and the ticket's context.
func (t *ticket) done() {
	if t.f != nil {
		t.f.mu.Lock()
		if t.f.seq == t.id {
			t.f.cancel = nil
		}
		t.f.mu.Unlock()
	}
	t.cancel(nil)
}

// superseded reports whether ctx was cancelled by a newer question.
func superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSuperseded)
}
