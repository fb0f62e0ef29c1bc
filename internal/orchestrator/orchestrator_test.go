package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackerd/internal/orchestrator"
)

type fakeMiner struct {
	name string
	run  func(ctx context.Context) error

	mu      sync.Mutex
	started bool
}

func (f *fakeMiner) Name() string { return f.name }

func (f *fakeMiner) Run(ctx context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	if f.run != nil {
		return f.run(ctx)
	}

	return nil
}

func TestStart_RunsMinersInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	var mu sync.Mutex

	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	m1 := &fakeMiner{name: "files", run: record("files")}
	m2 := &fakeMiner{name: "applications", run: record("applications")}

	o := orchestrator.New([]orchestrator.Miner{m1, m2})
	require.NoError(t, o.Start(context.Background()))

	require.Equal(t, []string{"files", "applications"}, order)
}

func TestStart_EmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	m := &fakeMiner{name: "files"}
	o := orchestrator.New([]orchestrator.Miner{m})

	require.NoError(t, o.Start(context.Background()))

	// The events channel is buffered, and Start's emit() calls never block,
	// so every lifecycle event is already queued by the time Start returns.
	var kinds []string
drain:
	for {
		select {
		case ev := <-o.Events():
			kinds = append(kinds, ev.Kind)
		default:
			break drain
		}
	}

	require.Contains(t, kinds, "started")
	require.Contains(t, kinds, "module_started")
	require.Contains(t, kinds, "module_finished")
	require.Contains(t, kinds, "finished")
}

func TestStart_PropagatesMinerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := &fakeMiner{name: "files", run: func(ctx context.Context) error { return boom }}

	o := orchestrator.New([]orchestrator.Miner{m})
	err := o.Start(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestPause_BlocksStartUntilAllCookiesReleased(t *testing.T) {
	t.Parallel()

	m := &fakeMiner{name: "files"}
	o := orchestrator.New([]orchestrator.Miner{m})

	o.Pause("low-battery")
	o.Pause("low-disk")

	done := make(chan error, 1)
	go func() { done <- o.Start(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Start returned while cookies outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	o.Continue("low-battery")

	select {
	case <-done:
		t.Fatal("Start returned after releasing only one of two cookies")
	case <-time.After(50 * time.Millisecond):
	}

	o.Continue("low-disk")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start never unblocked after all cookies released")
	}
}

func TestStop_EndsBeforeNextMiner(t *testing.T) {
	t.Parallel()

	var secondStarted bool

	m1 := &fakeMiner{}
	m2 := &fakeMiner{}
	m1.name = "files"
	m2.name = "applications"

	o := orchestrator.New([]orchestrator.Miner{m1, m2})

	m1.run = func(ctx context.Context) error {
		o.Stop()
		return nil
	}
	m2.run = func(ctx context.Context) error {
		secondStarted = true
		return nil
	}

	require.NoError(t, o.Start(context.Background()))
	require.False(t, secondStarted, "Stop should prevent the next miner from starting")
}

func TestStart_CancelledContextStopsWaitingForPause(t *testing.T) {
	t.Parallel()

	m := &fakeMiner{name: "files"}
	o := orchestrator.New([]orchestrator.Miner{m})
	o.Pause("user-request")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.Start(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
