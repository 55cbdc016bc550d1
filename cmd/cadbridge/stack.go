package main

import (
	"context"
	"database/sql"
	"fmt"

	"cadbridge/internal/appversion"
	"cadbridge/internal/config"
	"cadbridge/pkg/agent"
	"cadbridge/pkg/dispatcher"
	"cadbridge/pkg/engine"
	"cadbridge/pkg/journal"
	"cadbridge/pkg/sandbox"
	"cadbridge/pkg/selection"
	"cadbridge/pkg/surface"

	"go.uber.org/zap"
)

// stack is the in-process command side: reference engine and surface, the
// selection coordinator, journal, sandbox, agent and the dispatcher over them.
type stack struct {
	ui         *surface.UIThread
	selection  *selection.Coordinator
	dispatcher *dispatcher.Dispatcher
	db         *sql.DB
}

// buildStack wires every component from cfg. Close releases the UI thread
// and the journal database.
func buildStack(ctx context.Context, cfg config.Config, log *zap.Logger) (*stack, error) {
	s := &stack{ui: surface.NewUIThread()}
	eng := engine.NewMemory()
	surf := surface.NewMemory(s.ui)
	s.selection = selection.New(selection.Config{MaxAge: cfg.Server.SelectionMaxAge.Std()}, surf, log)

	deps := dispatcher.Deps{
		Engine:    eng,
		Surface:   surf,
		Selection: s.selection,
		Code: sandbox.New(sandbox.Config{
			Enabled:        cfg.Exec.Enabled,
			Timeout:        cfg.Exec.Timeout.Std(),
			MaxOutputBytes: cfg.Exec.MaxOutputBytes,
			RatePerMinute:  cfg.Exec.RatePerMinute,
			Allowed:        cfg.Exec.AllowedPackages,
		}, sandbox.NewModel(eng), log),
		Logger: log,
	}

	if cfg.Journal.Enabled {
		db, err := openDB(ctx, cfg.Journal.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		store := journal.NewStore(db)
		if err := store.Init(ctx); err != nil {
			_ = db.Close()
			s.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
		s.db = db
		deps.Journal = store
	}

	s.dispatcher = dispatcher.New(dispatcher.Config{Version: appversion.String()}, deps)
	s.dispatcher.SetAgent(agent.New(agent.Config{MaxIterations: cfg.Agent.MaxIterations}, s.dispatcher, log))
	return s, nil
}

func (s *stack) Close() {
	s.ui.Close()
	if s.db != nil {
		_ = s.db.Close()
	}
}
