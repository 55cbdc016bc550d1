package selection //nolint:testpackage // white-box tests drive nowFunc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cadbridge/pkg/protocol"
	"cadbridge/pkg/surface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSurface records calls and serves a canned selection.
type fakeSurface struct {
	surface.Surface

	mu        sync.Mutex
	selection []surface.Element
	clears    int
	queryErr  error
}

func (f *fakeSurface) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.selection = nil
	return nil
}

func (f *fakeSurface) Current(context.Context) ([]surface.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]surface.Element(nil), f.selection...), nil
}

func (f *fakeSurface) set(sel ...surface.Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selection = sel
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeSurface, *clock) {
	t.Helper()
	fs := &fakeSurface{}
	clk := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(Config{}, fs, nil)
	c.nowFunc = clk.Now
	return c, fs, clk
}

func TestRequest_ClearsSurfaceAndReturnsPrompt(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	fs.set(surface.Element{Object: "Stale", SubElements: []string{"Edge1"}})

	p, err := c.Request(context.Background(), "fillet_edges", protocol.SelectEdges, "Box", map[string]any{"radius": 2.0})
	require.NoError(t, err)

	assert.NotEmpty(t, p.OperationID)
	assert.Contains(t, p.Message, "select edges on Box")
	assert.Equal(t, 1, fs.clears)
	assert.Equal(t, 1, c.Len())

	aw := p.Awaiting()
	assert.Equal(t, protocol.SelectEdges, aw.SelectionType)
	assert.Equal(t, "Box", aw.ObjectName)
}

func TestRequest_RejectsUnknownKind(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.Request(context.Background(), "x", "vertices", "Box", nil)
	assert.Equal(t, protocol.KindInvalidArgs, protocol.KindOf(err))
}

func TestRequest_IDsAreUnique(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		p, err := c.Request(context.Background(), "fillet_edges", protocol.SelectEdges, "Box", nil)
		require.NoError(t, err)
		require.False(t, seen[p.OperationID], "duplicate id %s", p.OperationID)
		seen[p.OperationID] = true
	}
}

func TestComplete_ExactlyOnce(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", map[string]any{"radius": 2.0})
	require.NoError(t, err)
	fs.set(surface.Element{Document: "Unnamed", Object: "Box", SubElements: []string{"Edge7", "Vertex2", "Edge1"}})

	res, err := c.Complete(ctx, p.OperationID)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 1}, res.Indices())
	assert.Equal(t, []string{"Edge7", "Edge1"}, res.Names())
	assert.Equal(t, "fillet_edges", res.Operation.Tool)
	assert.InDelta(t, 2.0, res.Operation.Extra["radius"], 1e-9)

	_, err = c.Complete(ctx, p.OperationID)
	require.Error(t, err)
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
}

func TestComplete_ConcurrentCallersOnlyOneWins(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	p, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", nil)
	require.NoError(t, err)

	var wins, notFound atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Complete(ctx, p.OperationID)
			switch {
			case err == nil:
				wins.Add(1)
			case protocol.IsKind(err, protocol.KindNotFound):
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(31), notFound.Load())
}

func TestComplete_EmptySelection(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	p, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box1", nil)
	require.NoError(t, err)

	res, err := c.Complete(ctx, p.OperationID)
	require.NoError(t, err)
	assert.NotNil(t, res.Elements)
	assert.Empty(t, res.Elements)
}

func TestComplete_UnknownID(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.Complete(context.Background(), "never-issued")
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
}

func TestComplete_ExpiredIsNotFound(t *testing.T) {
	c, _, clk := newTestCoordinator(t)
	ctx := context.Background()
	p, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", nil)
	require.NoError(t, err)

	clk.Advance(protocol.DefaultSelectionMaxAge + time.Second)
	_, err = c.Complete(ctx, p.OperationID)
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
	assert.Equal(t, 0, c.Len())
}

func TestComplete_ExpiresAtMaxAge(t *testing.T) {
	c, _, clk := newTestCoordinator(t)
	ctx := context.Background()
	p, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", nil)
	require.NoError(t, err)

	clk.Advance(protocol.DefaultSelectionMaxAge)
	_, err = c.Complete(ctx, p.OperationID)
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
	assert.Equal(t, 0, c.Len())
}

func TestCompleteFor_OtherToolLeavesOperationPending(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	ctx := context.Background()
	p, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", map[string]any{"radius": 3.0})
	require.NoError(t, err)
	fs.set(surface.Element{Document: "Doc", Object: "Box", SubElements: []string{"Edge1"}})

	_, err = c.CompleteFor(ctx, p.OperationID, "chamfer_edges")
	assert.Equal(t, protocol.KindInvalidArgs, protocol.KindOf(err))
	assert.Equal(t, 1, c.Len())

	res, err := c.CompleteFor(ctx, p.OperationID, "fillet_edges")
	require.NoError(t, err)
	assert.Equal(t, "fillet_edges", res.Operation.Tool)
	assert.InDelta(t, 3.0, res.Operation.Extra["radius"], 0)
	assert.Equal(t, 0, c.Len())
}

func TestComplete_SurfaceFailureRestoresOperation(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	ctx := context.Background()
	p, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", nil)
	require.NoError(t, err)

	fs.queryErr = errors.New("viewport closed")
	_, err = c.Complete(ctx, p.OperationID)
	assert.Equal(t, protocol.KindDownstream, protocol.KindOf(err))
	assert.Equal(t, 1, c.Len())

	fs.queryErr = nil
	_, err = c.Complete(ctx, p.OperationID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestReap(t *testing.T) {
	c, _, clk := newTestCoordinator(t)
	ctx := context.Background()

	old, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", nil)
	require.NoError(t, err)
	clk.Advance(200 * time.Second)
	fresh, err := c.Request(ctx, "hole_feature", protocol.SelectFaces, "Box", nil)
	require.NoError(t, err)

	clk.Advance(100 * time.Second)
	assert.Equal(t, 1, c.Reap(300*time.Second))

	_, err = c.Complete(ctx, old.OperationID)
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
	_, err = c.Complete(ctx, fresh.OperationID)
	assert.NoError(t, err)
}

func TestRequest_ReapsOpportunistically(t *testing.T) {
	c, _, clk := newTestCoordinator(t)
	ctx := context.Background()
	_, err := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", nil)
	require.NoError(t, err)

	clk.Advance(301 * time.Second)
	_, err = c.Request(ctx, "fillet_edges", protocol.SelectEdges, "Box", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestPending_OrderedOldestFirst(t *testing.T) {
	c, _, clk := newTestCoordinator(t)
	ctx := context.Background()
	a, _ := c.Request(ctx, "fillet_edges", protocol.SelectEdges, "A", nil)
	clk.Advance(time.Second)
	b, _ := c.Request(ctx, "hole_feature", protocol.SelectFaces, "B", nil)

	pend := c.Pending()
	require.Len(t, pend, 2)
	assert.Equal(t, a.OperationID, pend[0].ID)
	assert.Equal(t, b.OperationID, pend[1].ID)
}

func TestClassify(t *testing.T) {
	sel := []surface.Element{
		{Object: "Box", SubElements: []string{"Face2", "Edge3", "Edge", "EdgeX"}},
		{Object: "Cyl", SubElements: []string{"Face1"}},
	}
	tests := []struct {
		kind protocol.SelectionKind
		want []Ref
	}{
		{protocol.SelectEdges, []Ref{{Index: 3, Name: "Edge3", Object: "Box"}}},
		{protocol.SelectFaces, []Ref{{Index: 2, Name: "Face2", Object: "Box"}, {Index: 1, Name: "Face1", Object: "Cyl"}}},
		{protocol.SelectObjects, []Ref{{Name: "Box", Object: "Box"}, {Name: "Cyl", Object: "Cyl"}}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.kind, sel))
		})
	}
}
