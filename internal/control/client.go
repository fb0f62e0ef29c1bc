package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
)

// Client is a connection to a running daemon's control socket.
type Client struct {
	conn net.Conn

	sendMu sync.Mutex
	enc    *json.Encoder

	events  chan Event
	respCh  chan Response
}

// Dial connects to the daemon's control socket at socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, ErrNotConnected
	}

	var d net.Dialer

	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", socketPath, err)
	}

	c := &Client{
		conn:   conn,
		enc:    json.NewEncoder(conn),
		events: make(chan Event, 32),
		respCh: make(chan Response),
	}

	go c.readLoop()

	return c, nil
}

// Events returns the stream of server-pushed lifecycle/status events.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends a verb with args (marshaled as-is) and waits for the matching
// Response. Responses and broadcast events share one connection; readLoop
// routes each decoded line to the right channel, so Call blocks only for
// its own reply.
func (c *Client) Call(verb string, args any) (Response, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Response{}, fmt.Errorf("control: marshal args: %w", err)
	}

	c.sendMu.Lock()
	err = c.enc.Encode(Request{Verb: verb, Args: raw})
	c.sendMu.Unlock()

	if err != nil {
		return Response{}, fmt.Errorf("control: send %s: %w", verb, err)
	}

	resp, ok := <-c.respCh
	if !ok {
		return Response{}, fmt.Errorf("control: %s: connection closed", verb)
	}

	return resp, nil
}

// readLoop decodes every line from the connection, routing event lines to
// Events() and response lines to the pending Call.
func (c *Client) readLoop() {
	defer close(c.respCh)
	defer close(c.events)

	scanner := bufio.NewScanner(c.conn)

	for scanner.Scan() {
		line := scanner.Bytes()

		var probe struct {
			Event string `json:"event"`
		}

		if json.Unmarshal(line, &probe) == nil && probe.Event != "" {
			var ev Event
			if json.Unmarshal(line, &ev) == nil {
				select {
				case c.events <- ev:
				default:
				}
			}

			continue
		}

		var resp Response
		if json.Unmarshal(line, &resp) == nil {
			c.respCh <- resp
		}
	}
}
