// Package dispatcher routes named tool calls to handlers and normalizes every
// outcome into exactly one protocol.Response: a result, a tagged error, or an
// awaiting-selection marker.
//
// Routing is table driven. Flat tools map straight to a Handler; the grouped
// part_operations, partdesign_operations and view_control tools look up their
// operation argument in a second static table and re-enter the flat table.
// Handler panics are recovered and reported as downstream errors so nothing
// escapes Dispatch.
package dispatcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"cadbridge/pkg/engine"
	"cadbridge/pkg/journal"
	"cadbridge/pkg/protocol"
	"cadbridge/pkg/sandbox"
	"cadbridge/pkg/selection"
	"cadbridge/pkg/surface"

	"go.uber.org/zap"
)

// Journal is the operation history and pattern store.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (int64, error)
	CommonPatterns(ctx context.Context, minFrequency int) ([]protocol.PatternRow, error)
	SuggestNext(ctx context.Context) (journal.Suggestion, bool, error)
	SetPreference(ctx context.Context, key, value string, confidence float64) error
	Preferences(ctx context.Context, minConfidence float64) ([]protocol.PreferenceRow, error)
}

// CodeRunner executes execute_arbitrary_code snippets.
type CodeRunner interface {
	Run(ctx context.Context, code string) (sandbox.Result, error)
}

// Agent answers ai_agent requests. The result is either a success string or
// a structured ask-human payload; both are Ok results.
type Agent interface {
	Run(ctx context.Context, request string) (any, error)
}

// Config holds Dispatcher configuration.
type Config struct {
	Version           string  // Reported by server_status (default "dev").
	DefaultDocument   string  // Name of auto-created documents (default "Unnamed").
	MinPatternFreq    int     // get_patterns threshold (default 2).
	MinPreferenceConf float64 // get_preferences threshold (default 0.5).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Version == "" {
		out.Version = "dev"
	}
	if out.DefaultDocument == "" {
		out.DefaultDocument = "Unnamed"
	}
	if out.MinPatternFreq <= 0 {
		out.MinPatternFreq = 2
	}
	if out.MinPreferenceConf <= 0 {
		out.MinPreferenceConf = 0.5
	}
	return out
}

// Deps are the collaborators a Dispatcher routes to. Engine, Surface and
// Selection are required; the rest are optional and their tools report a
// precondition error when absent.
type Deps struct {
	Engine    engine.Engine
	Surface   surface.Surface
	Selection *selection.Coordinator
	Journal   Journal
	Code      CodeRunner
	Logger    *zap.Logger
}

// Dispatcher is the command router. It owns no CAD state.
type Dispatcher struct {
	cfg     Config
	eng     engine.Engine
	surf    surface.Surface
	sel     *selection.Coordinator
	journal Journal
	code    CodeRunner
	log     *zap.Logger

	handlers map[string]Handler
	resumers map[string]resumeFunc

	agentMu sync.RWMutex
	agent   Agent

	startedAt time.Time

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Dispatcher with the full tool table.
func New(cfg Config, deps Deps) *Dispatcher {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:       cfg.withDefaults(),
		eng:       deps.Engine,
		surf:      deps.Surface,
		sel:       deps.Selection,
		journal:   deps.Journal,
		code:      deps.Code,
		log:       log.With(zap.String("component", "dispatcher")),
		startedAt: time.Now(),
		nowFunc:   time.Now,
	}
	d.handlers = make(map[string]Handler)
	d.resumers = make(map[string]resumeFunc)
	for _, group := range [][]Handler{
		d.partHandlers(),
		d.designHandlers(),
		d.measureHandlers(),
		d.viewHandlers(),
		d.sessionHandlers(),
		d.agentToolHandlers(),
		d.learningHandlers(),
		d.smartHandlers(),
	} {
		for _, h := range group {
			d.handlers[h.Name] = h
		}
	}
	return d
}

// SetAgent installs the ai_agent backend. The agent usually calls back into
// Dispatch, so it is wired after construction.
func (d *Dispatcher) SetAgent(a Agent) {
	d.agentMu.Lock()
	d.agent = a
	d.agentMu.Unlock()
}

// Tools lists every routable tool name, sorted.
func (d *Dispatcher) Tools() []string {
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs one tool call. It always returns exactly one envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, tool string, args map[string]any) (resp protocol.Response) {
	start := d.nowFunc()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic",
				zap.String("tool", tool),
				zap.Any("panic", r),
				zap.Stack("stack"))
			resp = protocol.Fail(protocol.Errorf(protocol.KindDownstream, "internal error in %s: %v", tool, r))
		}
		d.observe(ctx, tool, Args(args), resp, d.nowFunc().Sub(start))
	}()
	return d.route(ctx, tool, Args(args))
}

func (d *Dispatcher) route(ctx context.Context, tool string, args Args) protocol.Response {
	h, ok := d.handlers[tool]
	if !ok {
		return protocol.Fail(protocol.Errorf(protocol.KindRouting, "unknown tool: %s", tool))
	}
	params, err := h.Validate(args)
	if err != nil {
		return protocol.Fail(err)
	}
	res, err := h.Execute(ctx, params, args)
	if err != nil {
		return protocol.Fail(err)
	}
	switch v := res.(type) {
	case protocol.Awaiting:
		return protocol.Suspend(v)
	case protocol.Response:
		return v
	default:
		return protocol.OK(res)
	}
}

// unjournaled tools are introspection calls that would only add noise to
// the pattern store.
var unjournaled = map[string]bool{ //nolint:gochecknoglobals // static lookup table
	protocol.ToolServerStatus:      true,
	protocol.ToolPendingSelections: true,
	protocol.ToolGetPatterns:       true,
	protocol.ToolSuggestNext:       true,
	protocol.ToolGetPreferences:    true,
	protocol.ToolSetPreference:     true,
}

// observe records metrics, logs and the journal entry for one dispatch.
func (d *Dispatcher) observe(ctx context.Context, tool string, args Args, resp protocol.Response, elapsed time.Duration) {
	outcome := outcomeOf(resp)
	label := tool
	if _, ok := d.handlers[tool]; !ok {
		label = unknownToolLabel
	}
	dispatchTotal.WithLabelValues(label, outcome).Inc()
	dispatchSeconds.WithLabelValues(label).Observe(elapsed.Seconds())
	if d.sel != nil {
		pendingSelections.Set(float64(d.sel.Len()))
	}

	if resp.Err != nil && resp.Err.Kind == protocol.KindDownstream {
		d.log.Error("dispatch failed",
			zap.String("tool", tool),
			zap.Duration("elapsed", elapsed),
			zap.Error(resp.Err))
	} else {
		d.log.Debug("dispatch",
			zap.String("tool", tool),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", elapsed))
	}

	if d.journal == nil || unjournaled[tool] || label == unknownToolLabel {
		return
	}
	entry := journal.Entry{
		Tool:      tool,
		Operation: args.String(protocol.ArgOperation),
		Args:      args,
		Success:   resp.IsOK(),
		Duration:  elapsed,
	}
	if resp.Err != nil {
		entry.ErrorKind = resp.Err.Kind
	}
	if _, err := d.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		d.log.Warn("journal record failed", zap.String("tool", tool), zap.Error(err))
	}
}

func outcomeOf(resp protocol.Response) string {
	switch {
	case resp.Awaiting != nil:
		return protocol.StatusAwaitingSelection
	case resp.Err != nil:
		return string(resp.Err.Kind)
	default:
		return "ok"
	}
}

// ensureDocument returns the active document, creating one when none exists.
func (d *Dispatcher) ensureDocument(ctx context.Context) (string, error) {
	if name, ok := d.eng.ActiveDocument(ctx); ok {
		return name, nil
	}
	name, err := d.eng.NewDocument(ctx, d.cfg.DefaultDocument)
	if err != nil {
		return "", err
	}
	d.log.Info("created document", zap.String("document", name))
	return name, nil
}

// requireDocument fails with the shared precondition error when no
// document is active.
func (d *Dispatcher) requireDocument(ctx context.Context) (string, error) {
	name, ok := d.eng.ActiveDocument(ctx)
	if !ok {
		return "", protocol.NoActiveDocument()
	}
	return name, nil
}
