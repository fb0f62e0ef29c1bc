package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackerd/internal/control"
	"trackerd/internal/daemon"
)

func writeEmptyConfig(t *testing.T, xdgConfigHome string) {
	t.Helper()

	dir := filepath.Join(xdgConfigHome, "trackerd")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	body := `{
		// no directories configured: keeps the scheduler idle for this test
		"index_recursive_directories": [],
		"index_single_directories": []
	}`

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o644))
}

func TestNew_AssemblesAndServesControlSocket(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	writeEmptyConfig(t, tmp)

	socketPath := filepath.Join(tmp, "trackerd.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(ctx, daemon.Options{
		DBPath:        ":memory:",
		SocketPath:    socketPath,
		Env:           []string{"XDG_CONFIG_HOME=" + tmp},
		ExtractorPath: "/bin/true",
	})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	var client *control.Client
	require.Eventually(t, func() bool {
		c, err := control.Dial(context.Background(), socketPath)
		if err != nil {
			return false
		}

		client = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer client.Close()

	resp, err := client.Call("status", nil)
	require.NoError(t, err)
	require.True(t, resp.OK)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Contains(t, data, "processed")
	require.Contains(t, data, "indexed")
	require.Contains(t, data, "remaining")

	cancel()

	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestNew_IndexFileVerbEnqueuesWork(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	writeEmptyConfig(t, tmp)

	socketPath := filepath.Join(tmp, "trackerd.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(ctx, daemon.Options{
		DBPath:        ":memory:",
		SocketPath:    socketPath,
		Env:           []string{"XDG_CONFIG_HOME=" + tmp},
		ExtractorPath: "/bin/true",
	})
	require.NoError(t, err)

	go func() { _ = d.Run(ctx) }()

	var client *control.Client
	require.Eventually(t, func() bool {
		c, err := control.Dial(context.Background(), socketPath)
		if err != nil {
			return false
		}

		client = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer client.Close()

	target := filepath.Join(tmp, "note.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	resp, err := client.Call("index_file", map[string]string{"uri": target})
	require.NoError(t, err)
	require.True(t, resp.OK)
}
