// Package selection parks commands that need a human viewport selection
// and resumes them exactly once.
//
// Each pending operation moves Requested -> Completed or Requested ->
// Expired. Request, Complete and Reap are the only mutation entry points
// and each is atomic with respect to the others.
package selection

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cadbridge/pkg/protocol"
	"cadbridge/pkg/surface"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operation is a suspended command awaiting a selection.
type Operation struct {
	ID        string                 `json:"operation_id"`
	Tool      string                 `json:"tool"`
	Kind      protocol.SelectionKind `json:"selection_type"`
	Target    string                 `json:"object_name"`
	Extra     map[string]any         `json:"extra_params,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Prompt is returned by Request: the id plus instructions for the human.
type Prompt struct {
	OperationID string
	Message     string
	Kind        protocol.SelectionKind
	Target      string
}

// Awaiting converts p to the wire marker.
func (p Prompt) Awaiting() protocol.Awaiting {
	return protocol.Awaiting{
		OperationID:   p.OperationID,
		SelectionType: p.Kind,
		Message:       p.Message,
		ObjectName:    p.Target,
	}
}

// Ref is one selected element. Edges and faces carry their 1-based index
// and owning object; objects carry only a name.
type Ref struct {
	Index  int    `json:"index,omitempty"`
	Name   string `json:"name"`
	Object string `json:"object,omitempty"`
}

// Result is what Complete returns: the selection read at completion time
// plus the parameters stored at request time.
type Result struct {
	Elements  []Ref             `json:"elements"`
	Objects   []surface.Element `json:"objects"`
	Operation Operation         `json:"operation"`
}

// Indices returns the element indices in selection order.
func (r Result) Indices() []int {
	out := make([]int, 0, len(r.Elements))
	for _, e := range r.Elements {
		if e.Index > 0 {
			out = append(out, e.Index)
		}
	}
	return out
}

// IndicesOn returns the indices of elements selected on object. An empty
// object matches every element.
func (r Result) IndicesOn(object string) []int {
	out := make([]int, 0, len(r.Elements))
	for _, e := range r.Elements {
		if e.Index > 0 && (object == "" || e.Object == object) {
			out = append(out, e.Index)
		}
	}
	return out
}

// Names returns the element names in selection order.
func (r Result) Names() []string {
	out := make([]string, 0, len(r.Elements))
	for _, e := range r.Elements {
		out = append(out, e.Name)
	}
	return out
}

// Config holds Coordinator configuration.
type Config struct {
	MaxAge time.Duration // Entries older than this are reaped (default 300s).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxAge <= 0 {
		out.MaxAge = protocol.DefaultSelectionMaxAge
	}
	return out
}

// Coordinator exclusively owns the pending operation table.
type Coordinator struct {
	cfg     Config
	surface surface.Surface
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]Operation

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
	// newID allocates operation ids (UUIDv7: time-ordered plus random).
	newID func() (string, error)
}

// New creates a Coordinator reading selections from s.
func New(cfg Config, s surface.Surface, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg.withDefaults(),
		surface: s,
		log:     log.With(zap.String("component", "selection")),
		pending: make(map[string]Operation),
		nowFunc: time.Now,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// MaxAge returns the configured expiry.
func (c *Coordinator) MaxAge() time.Duration {
	return c.cfg.MaxAge
}

// Request parks a command and clears the viewport selection so the human
// starts from a clean slate. It never blocks on the human.
func (c *Coordinator) Request(ctx context.Context, tool string, kind protocol.SelectionKind, target string, extra map[string]any) (Prompt, error) {
	if !kind.Valid() {
		return Prompt{}, protocol.Errorf(protocol.KindInvalidArgs, "unknown selection kind: %s", kind)
	}
	c.Reap(c.cfg.MaxAge)

	if err := c.surface.Clear(ctx); err != nil {
		return Prompt{}, protocol.Wrap(protocol.KindDownstream, err, "clear selection")
	}

	id, err := c.newID()
	if err != nil {
		return Prompt{}, fmt.Errorf("allocate operation id: %w", err)
	}
	op := Operation{
		ID:        id,
		Tool:      tool,
		Kind:      kind,
		Target:    target,
		Extra:     copyArgs(extra),
		CreatedAt: c.nowFunc(),
	}

	c.mu.Lock()
	c.pending[id] = op
	c.mu.Unlock()

	c.log.Info("selection requested",
		zap.String("operation_id", id),
		zap.String("tool", tool),
		zap.String("kind", string(kind)),
		zap.String("target", target))

	return Prompt{
		OperationID: id,
		Message:     promptMessage(tool, kind, target),
		Kind:        kind,
		Target:      target,
	}, nil
}

// Complete consumes the operation and reads the current selection once.
// Unknown, completed and expired ids all yield a not_found error. If the
// surface query fails the operation is restored so the human can retry.
func (c *Coordinator) Complete(ctx context.Context, id string) (Result, error) {
	return c.CompleteFor(ctx, id, "")
}

// CompleteFor is Complete restricted to operations parked by tool. An
// operation parked by another tool is left pending and yields an
// invalid_args error. An empty tool matches any operation.
func (c *Coordinator) CompleteFor(ctx context.Context, id, tool string) (Result, error) {
	now := c.nowFunc()

	c.mu.Lock()
	op, ok := c.pending[id]
	if ok && tool != "" && op.Tool != tool {
		c.mu.Unlock()
		return Result{}, protocol.Errorf(protocol.KindInvalidArgs,
			"selection operation %s belongs to %s, not %s", id, op.Tool, tool)
	}
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return Result{}, notFound(id)
	}
	if now.Sub(op.CreatedAt) >= c.cfg.MaxAge {
		c.log.Info("selection expired on access", zap.String("operation_id", id))
		return Result{}, notFound(id)
	}

	current, err := c.surface.Current(ctx)
	if err != nil {
		c.mu.Lock()
		c.pending[id] = op
		c.mu.Unlock()
		return Result{}, protocol.Wrap(protocol.KindDownstream, err, "read selection")
	}

	res := Result{Elements: classify(op.Kind, current), Objects: current, Operation: op}
	if res.Elements == nil {
		res.Elements = []Ref{}
	}
	if res.Objects == nil {
		res.Objects = []surface.Element{}
	}
	c.log.Info("selection completed",
		zap.String("operation_id", id),
		zap.Int("elements", len(res.Elements)))
	return res, nil
}

// Reap drops entries older than maxAge without completing them and
// returns how many were removed.
func (c *Coordinator) Reap(maxAge time.Duration) int {
	cutoff := c.nowFunc().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, op := range c.pending {
		if !op.CreatedAt.After(cutoff) {
			delete(c.pending, id)
			n++
		}
	}
	if n > 0 {
		c.log.Debug("reaped expired selections", zap.Int("count", n))
	}
	return n
}

// Pending lists live operations, oldest first.
func (c *Coordinator) Pending() []Operation {
	c.mu.Lock()
	out := make([]Operation, 0, len(c.pending))
	for _, op := range c.pending {
		op.Extra = copyArgs(op.Extra)
		out = append(out, op)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live operations.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func notFound(id string) error {
	return protocol.Errorf(protocol.KindNotFound, "No pending selection operation: %s", id)
}

func promptMessage(tool string, kind protocol.SelectionKind, target string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please select %s", kind)
	if target != "" {
		fmt.Fprintf(&b, " on %s", target)
	}
	fmt.Fprintf(&b, " in the 3D view for %s, then continue the operation.", tool)
	return b.String()
}

// classify turns raw selection entries into refs of the requested kind.
// Sub-elements of other kinds ("Vertex3" during an edge selection) are
// skipped.
func classify(kind protocol.SelectionKind, sel []surface.Element) []Ref {
	var out []Ref
	if kind == protocol.SelectObjects {
		for _, el := range sel {
			out = append(out, Ref{Name: el.Object, Object: el.Object})
		}
		return out
	}
	prefix := kind.Prefix()
	for _, el := range sel {
		for _, sub := range el.SubElements {
			idx, ok := parseIndex(prefix, sub)
			if !ok {
				continue
			}
			out = append(out, Ref{Index: idx, Name: sub, Object: el.Object})
		}
	}
	return out
}

// parseIndex extracts 7 from "Edge7" when prefix is "Edge".
func parseIndex(prefix, name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func copyArgs(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
