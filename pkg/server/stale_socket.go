package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrSocketInUse reports that something still answers on the socket path.
var ErrSocketInUse = errors.New("socket in use")

const staleDialTimeout = time.Second

// prepareSocket makes the configured socket path bindable. The parent
// directory is created owner-only. A leftover file nobody answers on is
// removed; a path something answers on yields ErrSocketInUse.
func (s *Server) prepareSocket(ctx context.Context) error {
	path := s.cfg.Address
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat socket %s: %w", path, err)
	case info.IsDir():
		return fmt.Errorf("socket path %s is a directory", path)
	}

	if answering(ctx, path) {
		return fmt.Errorf("cadbridge server already running on %s: %w", path, ErrSocketInUse)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	s.log.Info("removed stale socket",
		zap.String("path", path),
		zap.Bool("was_socket", info.Mode().Type() == fs.ModeSocket))
	return nil
}

// answering reports whether a unix dial to path succeeds within
// staleDialTimeout.
func answering(ctx context.Context, path string) bool {
	d := net.Dialer{Timeout: staleDialTimeout}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
