package extractor_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackerd/internal/extractor"
)

func shellSpawner(script string) extractor.Spawner {
	return func(ctx context.Context, url, mime string) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script), nil
	}
}

func TestExtract_ParsesThreeNulDelimitedBlobs(t *testing.T) {
	t.Parallel()

	c := extractor.New(shellSpawner(`printf 'pre\0upd\0where'`))

	resp, err := c.Extract(context.Background(), "file:///a.txt", "text/plain")
	require.NoError(t, err)
	require.Equal(t, "pre", resp.Preupdate)
	require.Equal(t, "upd", resp.Update)
	require.Equal(t, "where", resp.Where)
}

func TestExtract_EmptyBlobsAreValid(t *testing.T) {
	t.Parallel()

	c := extractor.New(shellSpawner(`printf '\0\0'`))

	resp, err := c.Extract(context.Background(), "file:///a.txt", "text/plain")
	require.NoError(t, err)
	require.Empty(t, resp.Preupdate)
	require.Empty(t, resp.Update)
	require.Empty(t, resp.Where)
}

func TestExtract_MalformedReplyPoisonsClient(t *testing.T) {
	t.Parallel()

	c := extractor.New(shellSpawner(`printf 'only-one-blob-no-nul'`))

	_, err := c.Extract(context.Background(), "file:///a.txt", "text/plain")
	require.ErrorIs(t, err, extractor.ErrProtocol)
	require.True(t, c.Poisoned())

	_, err = c.Extract(context.Background(), "file:///a.txt", "text/plain")
	require.ErrorIs(t, err, extractor.ErrPoisoned)

	c.Reset()
	require.False(t, c.Poisoned())
}

func TestExtract_TimeoutPoisonsClient(t *testing.T) {
	t.Parallel()

	c := extractor.New(shellSpawner(`sleep 5`), extractor.WithTimeout(20*time.Millisecond))

	_, err := c.Extract(context.Background(), "file:///a.txt", "text/plain")
	require.ErrorIs(t, err, extractor.ErrTimeout)
	require.True(t, c.Poisoned())
}

func TestExtract_PoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	c := extractor.New(shellSpawner(`sleep 0.05; printf '\0\0'`), extractor.WithPoolSize(2))

	done := make(chan error, 4)

	for i := 0; i < 4; i++ {
		go func() {
			_, err := c.Extract(context.Background(), "file:///a.txt", "text/plain")
			done <- err
		}()
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
}
