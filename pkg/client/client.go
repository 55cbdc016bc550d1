// Package client speaks the internal line-delimited JSON protocol to a
// running cadbridge server. One Client multiplexes concurrent calls over a
// single persistent connection, matching responses to calls by request id,
// and redials lazily after the connection drops.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"cadbridge/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single call when Config.Timeout is unset.
const DefaultTimeout = 2 * time.Minute

// Config holds Client configuration.
type Config struct {
	Network string        // "unix" (default) or "tcp".
	Address string        // Socket path or host:port.
	Timeout time.Duration // Per-call deadline (default DefaultTimeout).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Network == "" {
		out.Network = "unix"
	}
	if out.Address == "" {
		if out.Network == "unix" {
			out.Address = protocol.DefaultSocketPath
		} else {
			out.Address = protocol.DefaultTCPAddr
		}
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return out
}

// link is one live connection and the calls waiting on it.
type link struct {
	conn    net.Conn
	pending map[string]chan protocol.Response
}

// Client is safe for concurrent use.
type Client struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex // guards link and serializes writes
	link    *link
	closed  bool
	readers sync.WaitGroup
}

// New creates a Client. No connection is made until the first Call.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg: cfg.withDefaults(),
		log: log.With(zap.String("component", "client")),
	}
}

// Address returns the endpoint the client dials.
func (c *Client) Address() string {
	return c.cfg.Address
}

// Call sends one request and waits for its response. Connection failures
// come back as transport error envelopes, never as a Go error, so callers
// always have exactly one envelope to hand on.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) protocol.Response {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	req := protocol.Request{ID: uuid.NewString(), Tool: tool, Args: args}
	frame, err := json.Marshal(req)
	if err != nil {
		return protocol.Fail(protocol.Wrap(protocol.KindInvalidArgs, err, "encode request"))
	}
	frame = append(frame, '\n')

	ch := make(chan protocol.Response, 1)
	l, err := c.send(ctx, req.ID, frame, ch)
	if err != nil {
		return protocol.Fail(err)
	}

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		c.forget(l, req.ID)
		return protocol.Fail(protocol.Errorf(protocol.KindTransport, "no response from server for %s: %v", tool, ctx.Err()))
	}
}

// send registers ch for id and writes the frame, dialing first if needed.
func (c *Client) send(ctx context.Context, id string, frame []byte, ch chan protocol.Response) (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, protocol.Errorf(protocol.KindTransport, "client is closed")
	}
	if c.link == nil {
		conn, err := dial(ctx, c.cfg.Network, c.cfg.Address)
		if err != nil {
			return nil, protocol.Wrap(protocol.KindTransport, err,
				"cadbridge server not available at "+c.cfg.Address)
		}
		c.link = &link{conn: conn, pending: make(map[string]chan protocol.Response)}
		c.readers.Add(1)
		go c.readLoop(c.link)
	}

	l := c.link
	l.pending[id] = ch
	if deadline, ok := ctx.Deadline(); ok {
		_ = l.conn.SetWriteDeadline(deadline)
	}
	if _, err := l.conn.Write(frame); err != nil {
		delete(l.pending, id)
		_ = l.conn.Close()
		c.link = nil
		return nil, protocol.Wrap(protocol.KindTransport, err, "send request")
	}
	return l, nil
}

func (c *Client) forget(l *link, id string) {
	c.mu.Lock()
	delete(l.pending, id)
	c.mu.Unlock()
}

// readLoop delivers responses to their waiting calls until the connection
// fails, then fails every call still pending on it.
func (c *Client) readLoop(l *link) {
	defer c.readers.Done()

	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxFrameBytes)
	for scanner.Scan() {
		var resp protocol.Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			c.log.Warn("discarding undecodable response", zap.Error(err))
			continue
		}
		c.mu.Lock()
		ch, ok := l.pending[resp.ID]
		delete(l.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			c.log.Debug("response for unknown request", zap.String("id", resp.ID))
			continue
		}
		ch <- resp
	}

	reason := "connection to server closed"
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		reason = fmt.Sprintf("connection to server lost: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == l {
		c.link = nil
	}
	_ = l.conn.Close()
	for id, ch := range l.pending {
		ch <- protocol.Fail(protocol.Errorf(protocol.KindTransport, "%s", reason))
		delete(l.pending, id)
	}
}

// Close drops the connection and waits for its reader to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.link != nil {
		_ = c.link.conn.Close()
	}
	c.mu.Unlock()
	c.readers.Wait()
	return nil
}

// Probe reports whether a server is accepting connections at address.
func Probe(ctx context.Context, network, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	conn, err := dial(ctx, network, address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("connect to server: %w", err)
	}
	return conn, nil
}
