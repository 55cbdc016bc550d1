// Package server is the embedded endpoint: it accepts local socket
// connections, reads line-delimited JSON requests and answers each with one
// response envelope from the dispatcher.
//
// Requests carrying an id are dispatched concurrently and their responses
// may arrive out of order; requests without an id are handled one at a time
// in arrival order. Writes on a connection are serialized. A malformed frame
// is answered with a transport error and the connection stays open.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"cadbridge/pkg/protocol"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher executes one tool call.
type Dispatcher interface {
	Dispatch(ctx context.Context, tool string, args map[string]any) protocol.Response
}

// Reaper expires abandoned selection operations.
type Reaper interface {
	Reap(maxAge time.Duration) int
	MaxAge() time.Duration
}

// Config holds Server configuration.
type Config struct {
	Network      string        // "unix" (default) or "tcp".
	Address      string        // Socket path or host:port (default protocol.DefaultSocketPath / DefaultTCPAddr).
	ReapInterval time.Duration // Selection reaper period (default 30s).
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
	if out.ReapInterval <= 0 {
		out.ReapInterval = protocol.DefaultReapInterval
	}
	return out
}

// Server owns the listener and its connections.
type Server struct {
	cfg    Config
	disp   Dispatcher
	reaper Reaper
	log    *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	handlers sync.WaitGroup
}

// New creates a Server. reaper may be nil.
func New(cfg Config, d Dispatcher, reaper Reaper, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:    cfg.withDefaults(),
		disp:   d,
		reaper: reaper,
		log:    log.With(zap.String("component", "server")),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Addr returns the listening address, or nil before Run binds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens until ctx is cancelled, then closes every connection and
// removes the socket file.
func (s *Server) Run(ctx context.Context) error {
	unix := s.cfg.Network == "unix"
	if unix {
		if err := s.prepareSocket(ctx); err != nil {
			return err
		}
	}

	ln, err := net.Listen(s.cfg.Network, s.cfg.Address) //nolint:noctx // local bind is instant
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", s.cfg.Network, s.cfg.Address, err)
	}
	if unix {
		defer func() { _ = os.Remove(s.cfg.Address) }()
		if err := os.Chmod(s.cfg.Address, 0o600); err != nil {
			_ = ln.Close()
			return fmt.Errorf("chmod socket %s: %w", s.cfg.Address, err)
		}
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("listening", zap.String("network", s.cfg.Network), zap.String("address", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	g.Go(func() error { return s.reapLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown(ln)
		return nil
	})

	err = g.Wait()
	s.handlers.Wait()
	s.log.Info("stopped")
	return err
}

// shutdown stops accepting and closes every open connection.
func (s *Server) shutdown(ln net.Listener) {
	_ = ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// track registers conn unless shutdown has started.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) reapLoop(ctx context.Context) error {
	if s.reaper == nil {
		return nil
	}
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.reaper.Reap(s.reaper.MaxAge()); n > 0 {
				s.log.Info("reaped expired selections", zap.Int("count", n))
			}
		}
	}
}

// connWriter serializes response frames on one connection.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
	log  *zap.Logger
}

func (w *connWriter) write(resp protocol.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		fallback := protocol.Fail(protocol.Wrap(protocol.KindDownstream, err, "encode response"))
		fallback.ID = resp.ID
		b, _ = json.Marshal(fallback)
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.conn.Write(b); err != nil {
		w.log.Debug("write response failed", zap.Error(err))
	}
}

// handleConn reads line-delimited requests until the peer hangs up or the
// server shuts down.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		_ = conn.Close()
		s.untrack(conn)
	}()

	w := &connWriter{conn: conn, log: s.log}
	r := bufio.NewReaderSize(conn, 64*1024)

	for {
		frame, err := readFrame(r, protocol.MaxFrameBytes)
		if errors.Is(err, errFrameTooLong) {
			w.write(protocol.Fail(protocol.Errorf(protocol.KindTransport,
				"frame exceeds %d bytes", protocol.MaxFrameBytes)))
			continue
		}
		if line := bytes.TrimSpace(frame); len(line) > 0 {
			s.handleFrame(ctx, w, &inflight, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("connection read failed", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, w *connWriter, inflight *sync.WaitGroup, line []byte) {
	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		w.write(protocol.Fail(protocol.Errorf(protocol.KindTransport, "malformed frame: %v", err)))
		return
	}
	if req.Tool == "" {
		resp := protocol.Fail(protocol.Errorf(protocol.KindTransport, "malformed frame: tool is required"))
		resp.ID = req.ID
		w.write(resp)
		return
	}
	if req.ID == "" {
		w.write(s.dispatch(ctx, req))
		return
	}
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		w.write(s.dispatch(ctx, req))
	}()
}

var errFrameTooLong = errors.New("frame too long")

// readFrame returns the next newline-terminated frame without the newline.
// A frame longer than limit is consumed through its newline and reported
// as errFrameTooLong so the connection can keep reading. A final frame
// without a newline is returned together with the read error.
func readFrame(r *bufio.Reader, limit int) ([]byte, error) {
	var frame []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(frame)+len(chunk) > limit+1 {
				tooLong = true
				frame = nil
			} else {
				frame = append(frame, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case tooLong:
			return nil, errFrameTooLong
		case err != nil:
			return frame, err
		default:
			return bytes.TrimSuffix(frame, []byte("\n")), nil
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	resp := s.disp.Dispatch(ctx, req.Tool, req.Args)
	resp.ID = req.ID
	return resp
}
