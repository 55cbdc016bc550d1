// Package sandbox runs caller-supplied Go snippets for the
// execute_arbitrary_code tool inside a yaegi interpreter.
//
// Containment is partial: only allow-listed stdlib packages and a read-only
// cad package are importable, output is capped and wall-clock time is
// bounded. A snippet that spins without yielding may keep its goroutine
// alive after the timeout fires. The tool is disabled unless explicitly
// enabled in configuration.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"path"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cadbridge/pkg/protocol"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CADImportPath is the import path of the read-only model package exposed
// to snippets.
const CADImportPath = "cadbridge/cad"

// DefaultAllowed lists the stdlib packages snippets may import.
var DefaultAllowed = []string{ //nolint:gochecknoglobals // default allow-list
	"bytes", "encoding/json", "fmt", "math", "regexp",
	"sort", "strconv", "strings", "time", "unicode",
}

// Model is the read-only view of the document offered to snippets.
type Model interface {
	ObjectNames(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, name string) (string, error)
	Volume(ctx context.Context, name string) (float64, error)
}

// Config holds Sandbox configuration.
type Config struct {
	Enabled        bool
	Timeout        time.Duration // Wall-clock limit per run (default 5s).
	MaxOutputBytes int           // Captured output cap (default 64 KiB).
	RatePerMinute  int           // Runs per minute (default 10).
	Allowed        []string      // Importable stdlib packages (default DefaultAllowed).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Second
	}
	if out.MaxOutputBytes <= 0 {
		out.MaxOutputBytes = 64 << 10
	}
	if out.RatePerMinute <= 0 {
		out.RatePerMinute = 10
	}
	if len(out.Allowed) == 0 {
		out.Allowed = DefaultAllowed
	}
	return out
}

// Result is the outcome of a successful run.
type Result struct {
	Output    string `json:"output"`
	Value     string `json:"value,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Text renders r for a tool response.
func (r Result) Text() string {
	var b strings.Builder
	b.WriteString(r.Output)
	if r.Value != "" {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(r.Value)
	}
	if r.Truncated {
		b.WriteString("\n[output truncated]")
	}
	if b.Len() == 0 {
		return "Code executed successfully"
	}
	return b.String()
}

// Sandbox executes snippets.
type Sandbox struct {
	cfg     Config
	model   Model
	log     *zap.Logger
	limiter *rate.Limiter
	allowed map[string]bool
	symbols interp.Exports
}

// New creates a Sandbox. model may be nil, in which case the cad package
// is not importable.
func New(cfg Config, model Model, log *zap.Logger) *Sandbox {
	resolved := cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]bool, len(resolved.Allowed))
	for _, p := range resolved.Allowed {
		allowed[p] = true
	}
	return &Sandbox{
		cfg:     resolved,
		model:   model,
		log:     log.With(zap.String("component", "sandbox")),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(resolved.RatePerMinute)), resolved.RatePerMinute),
		allowed: allowed,
		symbols: filterSymbols(stdlib.Symbols, allowed),
	}
}

// Enabled reports whether code execution is switched on.
func (s *Sandbox) Enabled() bool {
	return s.cfg.Enabled
}

// Run interprets code. Code may be a list of statements using pre-imported
// packages (fmt.Println(...)) or a full program with its own imports.
func (s *Sandbox) Run(ctx context.Context, code string) (Result, error) {
	if !s.cfg.Enabled {
		return Result{}, protocol.Errorf(protocol.KindPrecondition,
			"code execution is disabled; set exec.enabled = true in config.toml to allow it")
	}
	if strings.TrimSpace(code) == "" {
		return Result{}, protocol.Errorf(protocol.KindInvalidArgs, "code is required")
	}
	if !s.limiter.Allow() {
		return Result{}, protocol.Errorf(protocol.KindPrecondition, "code execution rate limit exceeded (%d per minute)", s.cfg.RatePerMinute)
	}
	if err := s.checkImports(code); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	out := &cappedBuffer{limit: s.cfg.MaxOutputBytes}
	i := interp.New(interp.Options{Stdout: out, Stderr: out})
	if err := i.Use(s.symbols); err != nil {
		return Result{}, fmt.Errorf("load symbols: %w", err)
	}
	if s.model != nil {
		if err := i.Use(cadExports(ctx, s.model)); err != nil {
			return Result{}, fmt.Errorf("load cad package: %w", err)
		}
	}

	if !hasPackageClause(code) {
		for _, imp := range s.preimports() {
			if _, err := i.Eval(`import "` + imp + `"`); err != nil {
				return Result{}, fmt.Errorf("preimport %s: %w", imp, err)
			}
		}
	}

	start := time.Now()
	v, err := i.EvalWithContext(ctx, code)
	elapsed := time.Since(start)
	if err != nil {
		s.log.Warn("snippet failed",
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
			zap.String("code", code))
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, protocol.Errorf(protocol.KindDownstream, "code execution timed out after %s", s.cfg.Timeout)
		}
		return Result{}, protocol.Wrap(protocol.KindDownstream, err, "code execution error")
	}

	res := Result{Output: out.String(), Truncated: out.Truncated()}
	if v.IsValid() && v.CanInterface() {
		if val := v.Interface(); val != nil {
			res.Value = fmt.Sprintf("%v", val)
		}
	}
	s.log.Debug("snippet ran", zap.Duration("elapsed", elapsed), zap.Int("output_bytes", len(res.Output)))
	return res, nil
}

// preimports lists the packages made available to statement snippets.
func (s *Sandbox) preimports() []string {
	out := make([]string, 0, len(s.allowed)+1)
	for p := range s.allowed {
		out = append(out, p)
	}
	sort.Strings(out)
	if s.model != nil {
		out = append(out, CADImportPath)
	}
	return out
}

// checkImports rejects programs importing anything outside the allow-list.
func (s *Sandbox) checkImports(code string) error {
	if !hasPackageClause(code) {
		if importLine.MatchString(code) {
			return protocol.Errorf(protocol.KindInvalidArgs,
				"statement snippets cannot declare imports; allowed packages are pre-imported")
		}
		return nil
	}
	f, err := parser.ParseFile(token.NewFileSet(), "snippet.go", code, parser.ImportsOnly)
	if err != nil {
		return protocol.Wrap(protocol.KindInvalidArgs, err, "parse code")
	}
	var forbidden []string
	for _, imp := range f.Imports {
		p, _ := strconv.Unquote(imp.Path.Value)
		if !s.allowed[p] && !(p == CADImportPath && s.model != nil) {
			forbidden = append(forbidden, p)
		}
	}
	if len(forbidden) > 0 {
		return protocol.Errorf(protocol.KindInvalidArgs, "forbidden imports: %s", strings.Join(forbidden, ", "))
	}
	return nil
}

var importLine = regexp.MustCompile(`(?m)^\s*import\b`) //nolint:gochecknoglobals // compiled once

func hasPackageClause(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "//") {
			continue
		}
		return strings.HasPrefix(t, "package ")
	}
	return false
}

// filterSymbols keeps only the symbol tables of allowed import paths.
// Keys have the form "import/path/pkgname".
func filterSymbols(all interp.Exports, allowed map[string]bool) interp.Exports {
	out := make(interp.Exports, len(allowed))
	for key, syms := range all {
		if allowed[path.Dir(key)] {
			out[key] = syms
		}
	}
	return out
}

func cadExports(ctx context.Context, m Model) interp.Exports {
	objects := func() []string {
		names, err := m.ObjectNames(ctx)
		if err != nil {
			return nil
		}
		return names
	}
	describe := func(name string) string {
		d, err := m.Describe(ctx, name)
		if err != nil {
			return err.Error()
		}
		return d
	}
	volume := func(name string) float64 {
		v, err := m.Volume(ctx, name)
		if err != nil {
			return 0
		}
		return v
	}
	return interp.Exports{
		CADImportPath + "/cad": {
			"Objects":  reflect.ValueOf(objects),
			"Describe": reflect.ValueOf(describe),
			"Volume":   reflect.ValueOf(volume),
		},
	}
}

// cappedBuffer stores at most limit bytes and records whether it dropped
// any. Writes never fail so the interpreter keeps running.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
