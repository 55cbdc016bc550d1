package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cadbridge/pkg/engine"
	"cadbridge/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct{}

func (fakeModel) ObjectNames(context.Context) ([]string, error) {
	return []string{"Box", "Cylinder"}, nil
}

func (fakeModel) Describe(_ context.Context, name string) (string, error) {
	if name == "Box" {
		return "Box (Part::Box) 10x10x10mm", nil
	}
	return "", errors.New("Object not found: " + name)
}

func (fakeModel) Volume(_ context.Context, name string) (float64, error) {
	if name == "Box" {
		return 1000, nil
	}
	return 0, errors.New("Object not found: " + name)
}

func enabled(cfg Config) *Sandbox {
	cfg.Enabled = true
	return New(cfg, fakeModel{}, nil)
}

func TestRun_DisabledByDefault(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil)
	assert.False(t, s.Enabled())

	_, err := s.Run(context.Background(), `fmt.Println("hi")`)
	require.Error(t, err)
	assert.Equal(t, protocol.KindPrecondition, protocol.KindOf(err))
}

func TestRun_StatementSnippet(t *testing.T) {
	t.Parallel()
	s := enabled(Config{})

	res, err := s.Run(context.Background(), `fmt.Println(strings.ToUpper("fillet"))`)
	require.NoError(t, err)
	assert.Equal(t, "FILLET\n", res.Output)
}

func TestRun_CadPackage(t *testing.T) {
	t.Parallel()
	s := enabled(Config{})

	res, err := s.Run(context.Background(), `fmt.Println(len(cad.Objects()), cad.Volume("Box"))`)
	require.NoError(t, err)
	assert.Equal(t, "2 1000\n", res.Output)
}

func TestRun_RejectsForbiddenImports(t *testing.T) {
	t.Parallel()
	s := enabled(Config{})

	prog := "package main\n\nimport (\n\t\"fmt\"\n\t\"os/exec\"\n)\n\nfunc main() { fmt.Println(exec.Command) }\n"
	_, err := s.Run(context.Background(), prog)
	require.Error(t, err)
	assert.Equal(t, protocol.KindInvalidArgs, protocol.KindOf(err))
	assert.Contains(t, err.Error(), "os/exec")

	_, err = s.Run(context.Background(), "import \"os\"\nos.Exit(1)")
	assert.Equal(t, protocol.KindInvalidArgs, protocol.KindOf(err))
}

func TestRun_UnknownPackageIsDownstreamFault(t *testing.T) {
	t.Parallel()
	s := enabled(Config{})

	_, err := s.Run(context.Background(), `os.Getenv("HOME")`)
	require.Error(t, err)
	assert.Equal(t, protocol.KindDownstream, protocol.KindOf(err))
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()
	s := enabled(Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := s.Run(context.Background(), `time.Sleep(2 * time.Second)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_RateLimited(t *testing.T) {
	t.Parallel()
	s := enabled(Config{RatePerMinute: 2})

	for i := 0; i < 2; i++ {
		_, err := s.Run(context.Background(), `1 + 1`)
		require.NoError(t, err)
	}
	_, err := s.Run(context.Background(), `1 + 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestRun_EmptyCode(t *testing.T) {
	t.Parallel()
	_, err := enabled(Config{}).Run(context.Background(), "   ")
	assert.Equal(t, protocol.KindInvalidArgs, protocol.KindOf(err))
}

func TestCappedBuffer(t *testing.T) {
	t.Parallel()
	c := &cappedBuffer{limit: 5}
	n, err := c.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, _ = c.Write([]byte("defgh"))
	assert.Equal(t, "abcde", c.String())
	assert.True(t, c.Truncated())
}

func TestResult_Text(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Code executed successfully", Result{}.Text())
	assert.Equal(t, "out\n42", Result{Output: "out", Value: "42"}.Text())
	assert.True(t, strings.HasSuffix(Result{Output: "x", Truncated: true}.Text(), "[output truncated]"))
}

func TestFilterSymbols(t *testing.T) {
	t.Parallel()
	s := New(Config{Allowed: []string{"strings"}}, nil, nil)
	_, ok := s.symbols["strings/strings"]
	assert.True(t, ok)
	_, ok = s.symbols["os/os"]
	assert.False(t, ok)
}

func TestNewModel_ReadsEngine(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewMemory()
	_, err := eng.NewDocument(ctx, "Part")
	require.NoError(t, err)
	_, err = eng.AddFeature(ctx, engine.FeatureSpec{
		Type:   engine.TypeBox,
		Params: map[string]float64{"length": 2, "width": 3, "height": 4},
	})
	require.NoError(t, err)

	m := NewModel(eng)

	names, err := m.ObjectNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Box"}, names)

	vol, err := m.Volume(ctx, "Box")
	require.NoError(t, err)
	assert.InDelta(t, 24.0, vol, 1e-9)

	desc, err := m.Describe(ctx, "Box")
	require.NoError(t, err)
	assert.Contains(t, desc, `"type":"Part::Box"`)

	_, err = m.Describe(ctx, "Ghost")
	require.Error(t, err)
}
