package control_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackerd/internal/control"
)

func startServer(t *testing.T) (*control.Server, string) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "trackerd.sock")
	srv := control.NewServer(socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		probe, err := control.Dial(context.Background(), socketPath)
		if err != nil {
			return false
		}

		_ = probe.Close()

		return true
	}, time.Second, 5*time.Millisecond)

	return srv, socketPath
}

func TestCall_RoundTripsRegisteredVerb(t *testing.T) {
	t.Parallel()

	srv, socketPath := startServer(t)

	type statusArgs struct{}
	srv.Register("status", func(ctx context.Context, args json.RawMessage) (any, error) {
		return map[string]string{"state": "running"}, nil
	})

	client, err := control.Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call("status", statusArgs{})
	require.NoError(t, err)
	require.True(t, resp.OK)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "running", data["state"])
}

func TestCall_UnknownVerbReturnsError(t *testing.T) {
	t.Parallel()

	_, socketPath := startServer(t)

	client, err := control.Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call("no-such-verb", nil)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "no-such-verb")
}

func TestCall_HandlerErrorIsReportedNotOK(t *testing.T) {
	t.Parallel()

	srv, socketPath := startServer(t)

	srv.Register("stop", func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, require.AnError
	})

	client, err := control.Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call("stop", nil)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Equal(t, require.AnError.Error(), resp.Error)
}

func TestBroadcast_DeliversEventToConnectedClient(t *testing.T) {
	t.Parallel()

	srv, socketPath := startServer(t)

	client, err := control.Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer client.Close()

	// Give the server a moment to register the connection before broadcasting.
	require.Eventually(t, func() bool {
		srv.Broadcast(control.Event{Kind: "started"})
		select {
		case ev := <-client.Events():
			return ev.Kind == "started"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestDial_ReturnsErrNotConnectedWhenSocketAbsent(t *testing.T) {
	t.Parallel()

	_, err := control.Dial(context.Background(), filepath.Join(t.TempDir(), "absent.sock"))
	require.ErrorIs(t, err, control.ErrNotConnected)
}
