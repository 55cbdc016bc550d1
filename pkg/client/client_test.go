package client_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cadbridge/pkg/client"
	"cadbridge/pkg/protocol"
	"cadbridge/pkg/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type dispatchFunc func(ctx context.Context, tool string, args map[string]any) protocol.Response

func (f dispatchFunc) Dispatch(ctx context.Context, tool string, args map[string]any) protocol.Response {
	return f(ctx, tool, args)
}

func echo(_ context.Context, tool string, args map[string]any) protocol.Response {
	if tool == "sleep" {
		time.Sleep(200 * time.Millisecond)
	}
	return protocol.OK(fmt.Sprintf("%s:%v", tool, args["n"]))
}

func sockPath(t *testing.T) string {
	t.Helper()
	p := fmt.Sprintf("/tmp/cb-cl-%d.sock", time.Now().UnixNano())
	t.Cleanup(func() { _ = os.Remove(p) })
	return p
}

// serve runs a server on path until stop is called or the test ends.
func serve(t *testing.T, path string, d server.Dispatcher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := server.New(server.Config{Address: path}, d, nil, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		return client.Probe(context.Background(), "unix", path)
	}, 2*time.Second, 5*time.Millisecond)

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	return stop
}

func newClient(t *testing.T, path string, timeout time.Duration) *client.Client {
	t.Helper()
	c := client.New(client.Config{Address: path, Timeout: timeout}, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCall_RoundTrip(t *testing.T) {
	path := sockPath(t)
	serve(t, path, dispatchFunc(echo))
	c := newClient(t, path, 0)

	resp := c.Call(context.Background(), "ping", map[string]any{"n": 1})

	require.True(t, resp.IsOK(), resp.Text())
	assert.Equal(t, "ping:1", resp.Result)
}

func TestCall_ConcurrentCallsMatchByID(t *testing.T) {
	path := sockPath(t)
	serve(t, path, dispatchFunc(echo))
	c := newClient(t, path, 0)

	var wg sync.WaitGroup
	got := make([]string, 20)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = c.Call(context.Background(), "n", map[string]any{"n": i}).Text()
		}()
	}
	wg.Wait()

	for i, text := range got {
		assert.Equal(t, fmt.Sprintf("n:%d", i), text)
	}
}

func TestCall_ServerUnavailable(t *testing.T) {
	c := newClient(t, sockPath(t), 0)

	resp := c.Call(context.Background(), "ping", nil)

	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.KindTransport, resp.Err.Kind)
	assert.Contains(t, resp.Err.Message, "cadbridge server not available")
}

func TestCall_Timeout(t *testing.T) {
	path := sockPath(t)
	serve(t, path, dispatchFunc(echo))
	c := newClient(t, path, 20*time.Millisecond)

	resp := c.Call(context.Background(), "sleep", nil)

	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.KindTransport, resp.Err.Kind)
	assert.Contains(t, resp.Err.Message, "no response from server for sleep")
}

func TestCall_RedialsAfterRestart(t *testing.T) {
	path := sockPath(t)
	stop := serve(t, path, dispatchFunc(echo))
	c := newClient(t, path, 0)
	require.True(t, c.Call(context.Background(), "a", nil).IsOK())

	stop()
	resp := c.Call(context.Background(), "b", nil)
	assert.Equal(t, protocol.KindTransport, protocol.KindOf(errOf(resp)))

	serve(t, path, dispatchFunc(echo))
	assert.Eventually(t, func() bool {
		return c.Call(context.Background(), "c", nil).IsOK()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCall_AfterClose(t *testing.T) {
	c := client.New(client.Config{Address: sockPath(t)}, nil)
	require.NoError(t, c.Close())

	resp := c.Call(context.Background(), "ping", nil)

	require.NotNil(t, resp.Err)
	assert.Equal(t, "client is closed", resp.Err.Message)
}

func TestProbe(t *testing.T) {
	path := sockPath(t)
	assert.False(t, client.Probe(context.Background(), "unix", path))

	serve(t, path, dispatchFunc(echo))
	assert.True(t, client.Probe(context.Background(), "unix", path))
}

func errOf(r protocol.Response) error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}
