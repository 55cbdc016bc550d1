package bridge

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FallbackPollInterval re-probes the server even when no socket event fired.
var FallbackPollInterval = 10 * time.Second //nolint:gochecknoglobals // shortened by tests

// Watch keeps the live tool set in step with the server until ctx ends.
// Unix endpoints are watched through their socket directory; a poll runs as
// a safety net and is the only mechanism for tcp endpoints.
func (b *Bridge) Watch(ctx context.Context) error {
	poll := time.NewTicker(FallbackPollInterval)
	defer poll.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w := b.watchSocketDir(); w != nil {
		defer func() { _ = w.Close() }()
		events, errs = w.Events, w.Errors
	}

	socket := filepath.Clean(b.cfg.Address)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != socket {
				continue
			}
			b.log.Debug("socket changed", zap.String("op", ev.Op.String()))
			b.settle(ctx, ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			b.log.Warn("socket watcher error", zap.Error(err))
		case <-poll.C:
			b.Refresh(ctx)
		}
	}
}

// settle refreshes after a socket event. The file appears at bind time,
// slightly before the server accepts, so a create is re-probed briefly
// until the server answers.
func (b *Bridge) settle(ctx context.Context, removed bool) {
	if removed {
		b.Refresh(ctx)
		return
	}
	for range 10 {
		if b.Refresh(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// watchSocketDir returns a watcher on the socket's directory, or nil when the
// endpoint is not a socket file or the watch cannot be set up (polling only).
func (b *Bridge) watchSocketDir() *fsnotify.Watcher {
	if b.cfg.Network == "tcp" || b.cfg.Address == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		b.log.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
		return nil
	}
	dir := filepath.Dir(b.cfg.Address)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		b.log.Warn("cannot watch socket directory, falling back to polling",
			zap.String("dir", dir), zap.Error(err))
		return nil
	}
	return w
}
