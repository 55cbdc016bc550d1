package journal //nolint:testpackage // white-box tests drive nowFunc

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"cadbridge/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite"
)

// setupTestStore creates a journal in a temp file with the full schema.
func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewStore(db)
	require.NoError(t, s.Init(context.Background()))
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	s.nowFunc = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return s, path
}

func record(t *testing.T, s *Store, tool string, ok bool) {
	t.Helper()
	kind := protocol.ErrorKind("")
	if !ok {
		kind = protocol.KindPrecondition
	}
	_, err := s.Record(context.Background(), Entry{Tool: tool, Success: ok, ErrorKind: kind, Duration: 10 * time.Millisecond})
	require.NoError(t, err)
}

func TestStore_InitIsIdempotent(t *testing.T) {
	s, _ := setupTestStore(t)
	require.NoError(t, s.Init(context.Background()))
}

func TestStore_RecordAndRecent(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, Entry{
		Tool: "part_operations", Operation: "box",
		Args: map[string]any{"length": 10.0}, Success: true,
	})
	require.NoError(t, err)
	record(t, s, "fillet_edges", false)

	rows, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "fillet_edges", rows[0].Tool)
	assert.False(t, rows[0].Success)
	assert.Equal(t, protocol.KindPrecondition, rows[0].ErrorKind)
	assert.Equal(t, int64(10), rows[0].DurationMS)

	assert.Equal(t, "part_operations/box", rows[1].Tool)
	assert.Equal(t, "box", rows[1].Operation)
	assert.JSONEq(t, `{"length":10}`, rows[1].Args)
	assert.Equal(t, s.Session(), rows[1].SessionID)
}

func TestStore_PatternsCountEachOccurrenceOnce(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record(t, s, "create_box", true)
		record(t, s, "fillet_edges", true)
		record(t, s, "get_volume", true)
	}

	pats, err := s.CommonPatterns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, pats, 1)
	assert.Equal(t, "create_box->fillet_edges->get_volume", pats[0].Sequence)
	assert.Equal(t, 3, pats[0].Frequency)
	assert.InDelta(t, 1.0, pats[0].SuccessRate, 1e-9)
	assert.InDelta(t, 10.0, pats[0].AvgDurationMS, 1e-9)

	all, err := s.CommonPatterns(ctx, 1)
	require.NoError(t, err)
	// Rotations of the cycle appear twice each.
	assert.Len(t, all, 3)
}

func TestStore_ConcurrentRecordsCountPatternsExactly(t *testing.T) {
	s, _ := setupTestStore(t)
	s.db.SetMaxOpenConns(1)
	s.nowFunc = time.Now
	ctx := context.Background()

	const n = 40
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := s.Record(ctx, Entry{Tool: "view_fit", Success: true})
			return err
		})
	}
	require.NoError(t, g.Wait())

	pats, err := s.CommonPatterns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pats, 1)
	assert.Equal(t, "view_fit->view_fit->view_fit", pats[0].Sequence)
	assert.Equal(t, n-sequenceLen+1, pats[0].Frequency)
}

func TestStore_PatternSuccessRateIsRunningAverage(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	record(t, s, "a", true)
	record(t, s, "b", true)
	record(t, s, "c", true) // a->b->c at 1.0
	record(t, s, "x", true)
	record(t, s, "a", false)
	record(t, s, "b", false)
	record(t, s, "c", false) // a->b->c at 0.0

	pats, err := s.CommonPatterns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pats, 1)
	assert.InDelta(t, 0.5, pats[0].SuccessRate, 1e-9)
}

func TestStore_SuggestNext(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := s.SuggestNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	record(t, s, "create_box", true)
	record(t, s, "fillet_edges", true)
	record(t, s, "get_volume", true)
	record(t, s, "create_box", true)
	record(t, s, "fillet_edges", true)

	sg, ok, err := s.SuggestNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "get_volume", sg.Next)
	assert.Equal(t, []string{"create_box", "fillet_edges"}, sg.After)
}

func TestStore_SuggestNextTreatsUnderscoreLiterally(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	record(t, s, "aXb", true)
	record(t, s, "c", true)
	record(t, s, "d", true)
	record(t, s, "a_b", true)
	record(t, s, "c", true)

	_, ok, err := s.SuggestNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a_b must not match aXb")
}

func TestStore_Preferences(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPreference(ctx, "default_fillet_radius", "2", 0.9))
	require.NoError(t, s.SetPreference(ctx, "workbench", "PartDesignWorkbench", 0.4))
	require.NoError(t, s.SetPreference(ctx, "default_fillet_radius", "3", 0.95))

	prefs, err := s.Preferences(ctx, 0.5)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "3", prefs[0].Value)

	err = s.SetPreference(ctx, "", "x", 1)
	assert.Equal(t, protocol.KindInvalidArgs, protocol.KindOf(err))
}

func TestReader_Operations(t *testing.T) {
	s, path := setupTestStore(t)
	ctx := context.Background()
	record(t, s, "create_box", true)
	record(t, s, "fillet_edges", false)
	record(t, s, "create_box", true)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	boxes, err := r.Operations(ctx, QueryOpts{Tool: "create_box"})
	require.NoError(t, err)
	assert.Len(t, boxes, 2)

	failed, err := r.Operations(ctx, QueryOpts{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "fillet_edges", failed[0].Tool)

	limited, err := r.Operations(ctx, QueryOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	after := time.Date(2025, 3, 1, 9, 0, 3, 0, time.UTC)
	recent, err := r.Operations(ctx, QueryOpts{After: &after})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestNewReader_MissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.db"))
	assert.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	q, args := buildQuery(QueryOpts{Tool: "undo", FailedOnly: true, Limit: 5})
	assert.Contains(t, q, "tool = ?")
	assert.Contains(t, q, "success = 0")
	assert.Contains(t, q, "LIMIT 5")
	assert.Equal(t, []any{"undo"}, args)
}
