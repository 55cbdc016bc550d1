package server //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// shortSockPath returns a short /tmp socket path that stays under the
// 108-byte sun_path limit.
func shortSockPath(t *testing.T, name string) string {
	t.Helper()
	p := fmt.Sprintf("/tmp/cb-%s-%d.sock", name, time.Now().UnixNano())
	t.Cleanup(func() { _ = os.Remove(p) })
	return p
}

// waitFor polls condition until it returns true or timeout expires.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond) // short poll inside helper is OK
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

// startServer runs s in the background until the test ends and waits for
// it to accept connections.
func startServer(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	waitFor(t, func() bool {
		addr := s.Addr()
		if addr == nil {
			return false
		}
		conn, err := net.Dial(addr.Network(), addr.String()) //nolint:noctx // test setup
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second)
}
