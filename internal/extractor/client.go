// Package extractor implements the RPC client of spec.md §4.8: a bounded
// pool of requests to an external metadata-extractor process, each keyed by
// (url, mime) and answered with three null-delimited UTF-8 blobs
// (preupdate, update, where).
//
// Grounded on: the teacher's internal/frontmatter zero-copy line scanner
// (splitting a byte buffer on a fixed delimiter without intermediate
// allocation) applied to splitting on NUL instead of newline/":"; the pool
// bound follows cuemby-warren's worker-pool idiom (pkg/deploy, pkg/runtime).
//
// Simplification (recorded per spec.md §9 — "D-Bus and filesystem code
// paths intermix two generations of APIs; implement only the newer
// pipe-based extractor protocol"): the source passes an anonymous pipe
// file descriptor to a long-lived extractor process over a side channel.
// trackerd instead runs the extractor as one short-lived subprocess per
// request, invoked through the same spawn function for every call and
// bounded by the pool, and reads its stdout as the wire-format pipe. The
// null-delimited three-blob contract is implemented exactly as specified;
// only the process-lifetime/fd-passing plumbing is simplified, which the
// spec explicitly singles out as unreplicated legacy plumbing.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Errors classify an extraction failure per spec.md §7's taxonomy.
var (
	ErrTimeout  = errors.New("extractor: request timed out")
	ErrProtocol = errors.New("extractor: malformed response")
	ErrPoisoned = errors.New("extractor: process poisoned")
)

// defaultTimeout and defaultPoolSize match spec.md §4.8.
const (
	defaultTimeout  = 60 * time.Second
	defaultPoolSize = 10
)

// Response is the three-blob reply of spec.md §4.8.
type Response struct {
	Preupdate string
	Update    string
	Where     string
}

// Spawner prepares (but does not start) the subprocess command that will
// answer one request; ctx bounds its lifetime. Production code wires this
// to the configured extractor binary; tests substitute a fake one.
type Spawner func(ctx context.Context, url, mime string) (*exec.Cmd, error)

// Client is a pooled RPC client over Spawner.
type Client struct {
	spawn   Spawner
	pool    chan struct{}
	timeout time.Duration

	mu       sync.Mutex
	poisoned bool
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default 60s per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPoolSize overrides the default pool size of 10.
func WithPoolSize(n int) Option {
	return func(c *Client) { c.pool = make(chan struct{}, n) }
}

// New returns a Client that spawns requests via spawn.
func New(spawn Spawner, opts ...Option) *Client {
	c := &Client{
		spawn:   spawn,
		pool:    make(chan struct{}, defaultPoolSize),
		timeout: defaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Poisoned reports whether the last request ended in a timeout or protocol
// error; per spec.md §7 the pipeline must stop sending this client new
// work until Reset.
func (c *Client) Poisoned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.poisoned
}

// Reset clears the poisoned flag, lazily allowing a fresh subprocess on the
// next Extract call (spec.md §7: "a new one is spawned lazily").
func (c *Client) Reset() {
	c.mu.Lock()
	c.poisoned = false
	c.mu.Unlock()
}

func (c *Client) poison() {
	c.mu.Lock()
	c.poisoned = true
	c.mu.Unlock()
}

// Extract requests metadata for (url, mime), blocking until a pool slot is
// free, ctx is cancelled, or the request completes.
func (c *Client) Extract(ctx context.Context, url, mime string) (Response, error) {
	if c.Poisoned() {
		return Response{}, ErrPoisoned
	}

	select {
	case c.pool <- struct{}{}:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	defer func() { <-c.pool }()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd, err := c.spawn(reqCtx, url, mime)
	if err != nil {
		return Response{}, fmt.Errorf("extractor: spawn: %w", err)
	}

	var stdin bytes.Buffer
	stdin.WriteString(url)
	stdin.WriteByte(0)
	stdin.WriteString(mime)
	cmd.Stdin = &stdin

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	runErr := cmd.Run()

	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		c.poison()
		return Response{}, ErrTimeout
	}

	if runErr != nil {
		c.poison()
		return Response{}, fmt.Errorf("%w: %v", ErrPoisoned, runErr)
	}

	resp, err := parseResponse(stdout.Bytes())
	if err != nil {
		c.poison()
		return Response{}, err
	}

	return resp, nil
}

// parseResponse splits the wire-format blob into its three null-delimited
// parts (spec.md §6: "preupdate '\0' update '\0' where. Any of the three
// may be empty.").
func parseResponse(buf []byte) (Response, error) {
	parts := bytes.SplitN(buf, []byte{0}, 3)
	if len(parts) != 3 {
		return Response{}, fmt.Errorf("%w: expected 3 NUL-delimited blobs, got %d", ErrProtocol, len(parts))
	}

	return Response{
		Preupdate: string(parts[0]),
		Update:    string(parts[1]),
		Where:     string(parts[2]),
	}, nil
}
