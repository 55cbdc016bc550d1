package main

import (
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// fsChangeMsg is sent when the socket directory changed (server start/stop).
type fsChangeMsg struct{}

// debounceDuration collapses bursts of socket-dir events into one refresh.
const debounceDuration = 100 * time.Millisecond

// initWatcher watches dir, or returns nil when dir is empty or missing, in
// which case the dashboard relies on the tick alone.
func initWatcher(dir string) *fsnotify.Watcher {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: failed to create watcher: %v (falling back to polling)", err)
		return nil
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		log.Printf("fsnotify: failed to watch %s: %v (falling back to polling)", dir, err)
		return nil
	}
	return w
}

// waitForChange returns a command that blocks until the watcher reports a
// change and the burst settles. The model re-issues it after every message.
func waitForChange(w *fsnotify.Watcher) tea.Cmd {
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		timer := time.NewTimer(debounceDuration)
		timer.Stop()
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return nil
				}
				timer.Reset(debounceDuration)
			case <-timer.C:
				return fsChangeMsg{}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				log.Printf("fsnotify: watcher error: %v", err)
			}
		}
	}
}
