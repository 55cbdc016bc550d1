package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"cadbridge/internal/config"
	"cadbridge/pkg/client"
	"cadbridge/pkg/dispatcher"
	"cadbridge/pkg/journal"
	"cadbridge/pkg/protocol"
)

// fetchTimeout bounds one refresh round-trip.
const fetchTimeout = 3 * time.Second

// recentLimit is how many journal rows the operations table shows.
const recentLimit = 15

// snapshot is one refresh worth of data.
type snapshot struct {
	online  bool
	pending []dispatcher.PendingSelection
	recent  []protocol.OperationRow
	err     error
}

// dataSource fetches snapshots. Tests substitute a fake.
type dataSource interface {
	Fetch(ctx context.Context) snapshot
	SocketDir() string
}

type liveSource struct {
	cfg config.Config
}

func newSource(cfg config.Config) dataSource {
	return liveSource{cfg: cfg}
}

func (s liveSource) SocketDir() string {
	if s.cfg.Server.Network != "unix" {
		return ""
	}
	return filepath.Dir(s.cfg.Server.Endpoint)
}

// Fetch reads pending selections from the server and recent operations from
// the journal. Either may be missing; the snapshot records what was found.
func (s liveSource) Fetch(ctx context.Context) snapshot {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var snap snapshot
	if client.Probe(ctx, s.cfg.Server.Network, s.cfg.Server.Endpoint) {
		snap.online = true
		pending, err := fetchPending(ctx, s.cfg)
		if err != nil {
			snap.err = err
		}
		snap.pending = pending
	}

	if s.cfg.Journal.Enabled {
		if r, err := journal.NewReader(s.cfg.Journal.Path); err == nil {
			snap.recent, err = r.Operations(ctx, journal.QueryOpts{Limit: recentLimit})
			if err != nil && snap.err == nil {
				snap.err = err
			}
			_ = r.Close()
		}
	}
	return snap
}

func fetchPending(ctx context.Context, cfg config.Config) ([]dispatcher.PendingSelection, error) {
	c := client.New(client.Config{Network: cfg.Server.Network, Address: cfg.Server.Endpoint, Timeout: fetchTimeout}, nil)
	defer func() { _ = c.Close() }()

	resp := c.Call(ctx, protocol.ToolPendingSelections, nil)
	if resp.Err != nil {
		return nil, resp.Err
	}
	return decodePending(resp.Result)
}

// decodePending converts the generic list_pending_selections result.
func decodePending(result any) ([]dispatcher.PendingSelection, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode pending selections: %w", err)
	}
	var out []dispatcher.PendingSelection
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode pending selections: %w", err)
	}
	return out, nil
}
