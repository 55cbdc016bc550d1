package server //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cadbridge/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoDispatcher answers "echo" with its text argument, parks "select" and
// fails everything else with not_found.
type echoDispatcher struct {
	release chan struct{}
}

func (e echoDispatcher) Dispatch(_ context.Context, tool string, args map[string]any) protocol.Response {
	switch tool {
	case "echo":
		return protocol.OK(args["text"])
	case "block":
		<-e.release
		return protocol.OK("unblocked")
	case "select":
		return protocol.Suspend(protocol.Awaiting{
			OperationID:   "op-1",
			SelectionType: protocol.SelectEdges,
			Message:       "Select edges",
			ObjectName:    "Box",
		})
	default:
		return protocol.Fail(protocol.Errorf(protocol.KindNotFound, "no such thing: %s", tool))
	}
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, s *Server) *client {
	t.Helper()
	addr := s.Addr()
	conn, err := net.Dial(addr.Network(), addr.String()) //nolint:noctx // test setup
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *client) recv() protocol.Response {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	line, err := c.r.ReadBytes('\n')
	require.NoError(c.t, err)
	var resp protocol.Response
	require.NoError(c.t, json.Unmarshal(line, &resp), string(line))
	return resp
}

func newUnixServer(t *testing.T, d Dispatcher) *Server {
	t.Helper()
	s := New(Config{Address: shortSockPath(t, "srv")}, d, nil, nil)
	startServer(t, s)
	return s
}

func TestServer_RoundTrip(t *testing.T) {
	c := dial(t, newUnixServer(t, echoDispatcher{}))

	c.send(`{"id":"1","tool":"echo","args":{"text":"hi"}}`)
	resp := c.recv()

	assert.True(t, resp.IsOK())
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, "hi", resp.Result)
}

func TestServer_ErrorAndAwaitingEnvelopes(t *testing.T) {
	c := dial(t, newUnixServer(t, echoDispatcher{}))

	c.send(`{"tool":"nope"}`)
	resp := c.recv()
	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.KindNotFound, resp.Err.Kind)
	assert.Equal(t, "no such thing: nope", resp.Err.Message)

	c.send(`{"tool":"select"}`)
	resp = c.recv()
	require.NotNil(t, resp.Awaiting)
	assert.Equal(t, "op-1", resp.Awaiting.OperationID)
	assert.Equal(t, "Box", resp.Awaiting.ObjectName)
}

func TestServer_MalformedFrameKeepsConnection(t *testing.T) {
	c := dial(t, newUnixServer(t, echoDispatcher{}))

	c.send(`this is not json`)
	resp := c.recv()
	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.KindTransport, resp.Err.Kind)

	c.send(`{"args":{}}`)
	resp = c.recv()
	require.NotNil(t, resp.Err)
	assert.Contains(t, resp.Err.Message, "tool is required")

	c.send(`{"tool":"echo","args":{"text":"still here"}}`)
	assert.Equal(t, "still here", c.recv().Result)
}

func TestServer_OversizedFrameKeepsConnection(t *testing.T) {
	c := dial(t, newUnixServer(t, echoDispatcher{}))

	go func() {
		_, _ = c.conn.Write([]byte(strings.Repeat("a", protocol.MaxFrameBytes+64) + "\n" +
			`{"id":"after","tool":"echo","args":{"text":"still here"}}` + "\n"))
	}()

	resp := c.recv()
	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.KindTransport, resp.Err.Kind)
	assert.Contains(t, resp.Err.Message, "exceeds")

	resp = c.recv()
	require.Nil(t, resp.Err)
	assert.Equal(t, "after", resp.ID)
	assert.Equal(t, "still here", resp.Result)
}

func TestReadFrame(t *testing.T) {
	big := strings.Repeat("x", 40)
	r := bufio.NewReaderSize(strings.NewReader("ok\n"+big+"\nnext\ntail"), 16)

	frame, err := readFrame(r, 32)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(frame))

	_, err = readFrame(r, 32)
	require.ErrorIs(t, err, errFrameTooLong)

	frame, err = readFrame(r, 32)
	require.NoError(t, err)
	assert.Equal(t, "next", string(frame))

	frame, err = readFrame(r, 32)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "tail", string(frame))
}

func TestServer_RequestsWithIDsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	c := dial(t, newUnixServer(t, echoDispatcher{release: release}))

	c.send(`{"id":"slow","tool":"block"}`)
	c.send(`{"id":"fast","tool":"echo","args":{"text":"x"}}`)

	first := c.recv()
	assert.Equal(t, "fast", first.ID)

	close(release)
	second := c.recv()
	assert.Equal(t, "slow", second.ID)
	assert.Equal(t, "unblocked", second.Result)
}

func TestServer_RequestsWithoutIDsKeepArrivalOrder(t *testing.T) {
	release := make(chan struct{})
	c := dial(t, newUnixServer(t, echoDispatcher{release: release}))

	c.send(`{"tool":"block"}`)
	c.send(`{"tool":"echo","args":{"text":"after"}}`)
	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	assert.Equal(t, "unblocked", c.recv().Result)
	assert.Equal(t, "after", c.recv().Result)
}

func TestServer_SocketPermissions(t *testing.T) {
	s := newUnixServer(t, echoDispatcher{})

	info, err := os.Stat(s.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestServer_RemovesSocketOnShutdown(t *testing.T) {
	path := shortSockPath(t, "bye")
	s := New(Config{Address: path}, echoDispatcher{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitFor(t, func() bool { return s.Addr() != nil }, 2*time.Second)

	c := dial(t, s)
	cancel()
	require.NoError(t, <-done)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = c.r.ReadBytes('\n')
	assert.Error(t, err, "open connections are closed on shutdown")
}

func TestServer_TCP(t *testing.T) {
	s := New(Config{Network: "tcp", Address: "127.0.0.1:0"}, echoDispatcher{}, nil, nil)
	startServer(t, s)
	c := dial(t, s)

	c.send(`{"id":"t","tool":"echo","args":{"text":"tcp"}}`)

	assert.Equal(t, "tcp", c.recv().Result)
}

type countingReaper struct{ calls atomic.Int32 }

func (r *countingReaper) Reap(time.Duration) int { r.calls.Add(1); return 1 }
func (r *countingReaper) MaxAge() time.Duration  { return time.Minute }

func TestServer_ReaperRuns(t *testing.T) {
	r := &countingReaper{}
	s := New(Config{Address: shortSockPath(t, "reap"), ReapInterval: 10 * time.Millisecond}, echoDispatcher{}, r, nil)
	startServer(t, s)

	waitFor(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := (&Config{}).withDefaults()
	assert.Equal(t, "unix", cfg.Network)
	assert.Equal(t, protocol.DefaultSocketPath, cfg.Address)
	assert.Equal(t, protocol.DefaultReapInterval, cfg.ReapInterval)

	cfg = (&Config{Network: "tcp"}).withDefaults()
	assert.Equal(t, protocol.DefaultTCPAddr, cfg.Address)
}
