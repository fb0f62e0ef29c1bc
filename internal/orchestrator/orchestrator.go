// Package orchestrator implements spec.md §4.10: an ordered list of
// source-specific miners run sequentially, with reference-counted pause
// cookies and start/finished lifecycle events.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// Miner is one source-specific indexing stage (e.g. "files", "applications").
// Run blocks until it finishes its pass or ctx is cancelled.
type Miner interface {
	Name() string
	Run(ctx context.Context) error
}

// Event is one lifecycle notification (spec.md §6).
type Event struct {
	Kind   string // started, paused, continued, finished, module_started, module_finished
	Module string
	Err    error
}

// Orchestrator runs its miners one at a time, in list order.
type Orchestrator struct {
	miners []Miner

	mu         sync.Mutex
	pauseCooks map[string]int
	unblock    chan struct{} // closed and replaced whenever pauseCooks drains to empty
	running    bool
	stopCh     chan struct{}

	events chan Event
}

// New returns an Orchestrator over miners, run in the given order.
func New(miners []Miner) *Orchestrator {
	return &Orchestrator{
		miners:     miners,
		pauseCooks: make(map[string]int),
		unblock:    make(chan struct{}),
		events:     make(chan Event, 64),
	}
}

// Events returns the lifecycle event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		// A slow consumer must not stall the orchestrator loop; lifecycle
		// events are advisory, not a delivery-guaranteed log.
	}
}

// Start runs every miner in order, waiting for each to finish before
// starting the next (spec.md §4.10: "Starts miner N+1 only after miner N
// signals finished"). Blocks until every miner has run or ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.running = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.emit(Event{Kind: "started"})

	for _, m := range o.miners {
		if err := o.waitUnpaused(ctx); err != nil {
			return err
		}

		select {
		case <-o.stopCh:
			o.emit(Event{Kind: "finished"})
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		o.emit(Event{Kind: "module_started", Module: m.Name()})

		if err := m.Run(ctx); err != nil {
			o.emit(Event{Kind: "module_finished", Module: m.Name(), Err: err})
			return fmt.Errorf("orchestrator: miner %s: %w", m.Name(), err)
		}

		o.emit(Event{Kind: "module_finished", Module: m.Name()})
	}

	o.emit(Event{Kind: "finished"})

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	return nil
}

func (o *Orchestrator) waitUnpaused(ctx context.Context) error {
	for {
		o.mu.Lock()
		if len(o.pauseCooks) == 0 {
			o.mu.Unlock()
			return nil
		}

		ch := o.unblock
		o.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pause adds a reference-counted pause cookie for reason (spec.md §4.10:
// "low-battery, low-disk, user-request"). The orchestrator resumes only
// once every outstanding cookie is released via Continue.
func (o *Orchestrator) Pause(reason string) {
	o.mu.Lock()
	o.pauseCooks[reason]++
	o.mu.Unlock()

	o.emit(Event{Kind: "paused", Module: reason})
}

// Continue releases one instance of reason's cookie.
func (o *Orchestrator) Continue(reason string) {
	o.mu.Lock()
	if o.pauseCooks[reason] > 0 {
		o.pauseCooks[reason]--
		if o.pauseCooks[reason] == 0 {
			delete(o.pauseCooks, reason)
		}
	}

	empty := len(o.pauseCooks) == 0
	if empty {
		close(o.unblock)
		o.unblock = make(chan struct{})
	}
	o.mu.Unlock()

	if empty {
		o.emit(Event{Kind: "continued"})
	}
}

// Stop requests the orchestrator stop after the current miner finishes.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running && o.stopCh != nil {
		select {
		case <-o.stopCh:
		default:
			close(o.stopCh)
		}
	}
}
