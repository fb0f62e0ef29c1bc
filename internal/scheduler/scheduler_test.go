package scheduler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackerd/internal/crawler"
	trackerfs "trackerd/internal/fs"
	"trackerd/internal/scheduler"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestNext_DrainsModuleThenReportsFinished(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"))
	writeFile(t, filepath.Join(dir, "b.txt"))

	lister := crawler.New(trackerfs.NewReal(), crawler.Filters{})
	s := scheduler.New(lister)
	s.AddModule(scheduler.Module{Name: "files", Root: crawler.RootConfig{Path: dir, Recursive: false}})

	ctx := context.Background()

	var got []string

	for {
		work, err := s.Next(ctx)
		require.NoError(t, err)

		if work.Finished {
			break
		}

		got = append(got, filepath.Base(work.Entry.Path))
	}

	require.ElementsMatch(t, []string{"a.txt", "b.txt"}, got)
}

func TestNext_RecursesIntoSubdirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "top.txt"))
	writeFile(t, filepath.Join(dir, "sub", "nested.txt"))

	lister := crawler.New(trackerfs.NewReal(), crawler.Filters{})
	s := scheduler.New(lister)
	s.AddModule(scheduler.Module{Name: "files", Root: crawler.RootConfig{Path: dir, Recursive: true}})

	ctx := context.Background()

	var got []string

	for {
		work, err := s.Next(ctx)
		require.NoError(t, err)

		if work.Finished {
			break
		}

		got = append(got, filepath.Base(work.Entry.Path))
	}

	require.ElementsMatch(t, []string{"top.txt", "nested.txt"}, got)
}

func TestNext_NonRecursiveSkipsSubdirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "top.txt"))
	writeFile(t, filepath.Join(dir, "sub", "nested.txt"))

	lister := crawler.New(trackerfs.NewReal(), crawler.Filters{})
	s := scheduler.New(lister)
	s.AddModule(scheduler.Module{Name: "files", Root: crawler.RootConfig{Path: dir, Recursive: false}})

	ctx := context.Background()

	var got []string

	for {
		work, err := s.Next(ctx)
		require.NoError(t, err)

		if work.Finished {
			break
		}

		got = append(got, filepath.Base(work.Entry.Path))
	}

	require.Equal(t, []string{"top.txt"}, got)
}

func TestStop_CausesNextToReturnErrStopped(t *testing.T) {
	t.Parallel()

	lister := crawler.New(trackerfs.NewReal(), crawler.Filters{})
	s := scheduler.New(lister)
	s.Stop()

	_, err := s.Next(context.Background())
	require.True(t, errors.Is(err, scheduler.ErrStopped))
}

func TestPause_BlocksNextUntilContinue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"))

	lister := crawler.New(trackerfs.NewReal(), crawler.Filters{})
	s := scheduler.New(lister)
	s.AddModule(scheduler.Module{Name: "files", Root: crawler.RootConfig{Path: dir, Recursive: false}})

	s.Pause("low-battery")

	done := make(chan scheduler.Work, 1)

	go func() {
		work, err := s.Next(context.Background())
		require.NoError(t, err)
		done <- work
	}()

	select {
	case <-done:
		t.Fatal("Next returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	s.Continue("low-battery")

	select {
	case work := <-done:
		require.False(t, work.Finished)
		require.Equal(t, "a.txt", filepath.Base(work.Entry.Path))
	case <-time.After(time.Second):
		t.Fatal("Next never unblocked after Continue")
	}
}

func TestCancelUnder_DropsQueuedFilesUnderRoot(t *testing.T) {
	t.Parallel()

	lister := crawler.New(trackerfs.NewReal(), crawler.Filters{})
	s := scheduler.New(lister)

	s.EnqueueFile("files", crawler.Entry{Path: "/mnt/usb/a.txt"})
	s.EnqueueFile("files", crawler.Entry{Path: "/home/user/b.txt"})

	s.CancelUnder("/mnt/usb")

	work, err := s.Next(context.Background())
	require.NoError(t, err)
	require.False(t, work.Finished)
	require.Equal(t, "/home/user/b.txt", work.Entry.Path)

	work, err = s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, work.Finished)
}
