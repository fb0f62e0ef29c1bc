package monitor_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackerd/internal/monitor"
)

func TestWrite_EmitsRecheckIntentAfterDebounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w, err := monitor.New()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRoot(dir))

	require.NoError(t, os.WriteFile(path, []byte("xx"), 0o644))

	select {
	case in := <-w.Intents():
		require.Equal(t, monitor.IntentRecheck, in.Kind)
		require.Equal(t, path, in.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no intent emitted for a write")
	}
}

func TestCreate_OfNewSubdirectoryIsWatched(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, err := monitor.New()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRoot(dir))

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Give AddRoot's recursive add a moment to register the new subtree,
	// then write a file inside it and confirm it is observed too.
	time.Sleep(100 * time.Millisecond)

	nested := filepath.Join(sub, "b.txt")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case in := <-w.Intents():
			if in.Path == nested {
				require.Equal(t, monitor.IntentRecheck, in.Kind)
				return
			}
		case <-deadline:
			t.Fatal("no recheck intent observed for nested file")
		}
	}
}

func TestRenamePair_IsCoalescedIntoMoveIntent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.txt")
	newPath := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))

	w, err := monitor.New()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRoot(dir))

	require.NoError(t, os.Rename(oldPath, newPath))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case in := <-w.Intents():
			if in.Kind == monitor.IntentMove {
				require.Equal(t, oldPath, in.Path)
				require.Equal(t, newPath, in.NewPath)
				return
			}
		case <-deadline:
			t.Fatal("rename was never coalesced into a move intent")
		}
	}
}

func TestRemove_WithoutPairedCreateEmitsRemoveIntent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w, err := monitor.New()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRoot(dir))

	require.NoError(t, os.Remove(path))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case in := <-w.Intents():
			if in.Kind == monitor.IntentRemove {
				require.Equal(t, path, in.Path)
				return
			}
		case <-deadline:
			t.Fatal("no remove intent observed")
		}
	}
}

func TestCancelSubtree_SuppressesLateIntentsUnderRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "mnt")
	require.NoError(t, os.Mkdir(sub, 0o755))
	path := filepath.Join(sub, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w, err := monitor.New()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRoot(dir))
	w.CancelSubtree(sub)

	require.NoError(t, os.WriteFile(path, []byte("xx"), 0o644))

	select {
	case in := <-w.Intents():
		t.Fatalf("unexpected intent after cancelling subtree: %+v", in)
	case <-time.After(700 * time.Millisecond):
	}
}
