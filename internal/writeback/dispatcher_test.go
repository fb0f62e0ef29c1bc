package writeback_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackerd/internal/writeback"
)

type fakeWriter struct {
	mu   sync.Mutex
	seen []writeback.Event
	fail bool
}

func (f *fakeWriter) Write(ctx context.Context, ev writeback.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen = append(f.seen, ev)

	if f.fail {
		return context.Canceled
	}

	return nil
}

func (f *fakeWriter) snapshot() []writeback.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]writeback.Event, len(f.seen))
	copy(out, f.seen)

	return out
}

func TestObserve_DropsEventsWhenDisabled(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	d := writeback.New(w, []string{"nie:title"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Observe(ctx, "file:///a.txt", "nie:title", "A")

	require.Never(t, func() bool { return len(w.snapshot()) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestObserve_DropsPredicatesNotConfigured(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	d := writeback.New(w, []string{"nie:title"})
	d.Enable(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Observe(ctx, "file:///a.txt", "nie:keyword", "tag")

	require.Never(t, func() bool { return len(w.snapshot()) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestRun_ForwardsEnabledPredicateEventsToWriter(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	d := writeback.New(w, []string{"nie:title"})
	d.Enable(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Observe(ctx, "file:///a.txt", "nie:title", "A Document")

	require.Eventually(t, func() bool {
		seen := w.snapshot()
		return len(seen) == 1 && seen[0].Object == "A Document"
	}, time.Second, 5*time.Millisecond)
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	d := writeback.New(w, []string{"nie:title"})
	d.Enable(true)

	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(runDone)
	}()

	cancel()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
