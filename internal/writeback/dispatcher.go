// Package writeback implements the reverse path of spec.md §4's "Writeback
// dispatcher": store updates to predicates configured as writeback-enabled
// are forwarded to an external writer process that embeds them back into
// file metadata.
//
// Grounded on: no teacher equivalent (the teacher never mutates its source
// files from its index); this is a thin fan-out over a channel, matching
// its small share (4%) of the component budget.
package writeback

import (
	"context"
)

// Event is one applied (subject, predicate, object) triple whose
// predicate is configured for writeback.
type Event struct {
	Subject   string
	Predicate string
	Object    string
}

// Writer forwards one writeback event to the external metadata writer.
type Writer interface {
	Write(ctx context.Context, ev Event) error
}

// Dispatcher fans out writeback events from the statement interpreter to a
// Writer, off the scheduler loop so a slow external writer never blocks a
// commit.
type Dispatcher struct {
	enabled    bool
	predicates map[string]bool
	writer     Writer
	events     chan Event
}

// New returns a disabled-by-default Dispatcher; call Enable to turn it on
// (spec.md §6's `enable-writeback` key).
func New(writer Writer, predicates []string) *Dispatcher {
	set := make(map[string]bool, len(predicates))
	for _, p := range predicates {
		set[p] = true
	}

	return &Dispatcher{
		predicates: set,
		writer:     writer,
		events:     make(chan Event, 256),
	}
}

// Enable turns writeback dispatch on or off.
func (d *Dispatcher) Enable(on bool) {
	d.enabled = on
}

// Observe is called by the statement interpreter for every ordinary
// (s,p,o) set_value it applies, as it is applied and before the batch
// commits; a no-op unless writeback is enabled and p is a configured
// writeback predicate.
func (d *Dispatcher) Observe(ctx context.Context, subject, predicate, object string) {
	if !d.enabled || !d.predicates[predicate] {
		return
	}

	ev := Event{Subject: subject, Predicate: predicate, Object: object}

	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

// Run drains events to the writer until ctx is cancelled. A Write error is
// dropped (spec.md §7 treats writeback as best-effort; it is not part of
// the store's own error taxonomy).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			_ = d.writer.Write(ctx, ev)
		}
	}
}
