// Package surface models the interactive viewport: the human-facing
// selection set plus view state. Every call is marshalled onto the
// surface's owning UI thread.
package surface

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"cadbridge/pkg/protocol"
)

// Element is one selected object plus its selected sub-elements
// ("Edge7", "Face2").
type Element struct {
	Document    string   `json:"document"`
	Object      string   `json:"object"`
	SubElements []string `json:"sub_elements"`
}

// Surface is the viewport boundary.
type Surface interface {
	Clear(ctx context.Context) error
	Select(ctx context.Context, el Element) error
	Current(ctx context.Context) ([]Element, error)
	SetView(ctx context.Context, view string) error
	FitAll(ctx context.Context) error
	Zoom(ctx context.Context, factor float64) error
	ActivateWorkbench(ctx context.Context, name string) error
	Screenshot(ctx context.Context, width, height int) ([]byte, error)
}

// Views accepted by SetView.
var Views = []string{"isometric", "axonometric", "front", "back", "top", "bottom", "left", "right"} //nolint:gochecknoglobals // static list

// Workbenches accepted by ActivateWorkbench.
var Workbenches = []string{ //nolint:gochecknoglobals // static list
	"PartWorkbench", "PartDesignWorkbench", "SketcherWorkbench",
	"DraftWorkbench", "MeshWorkbench", "AICopilotWorkbench",
}

// State is a point-in-time copy of the viewport state.
type State struct {
	View      string
	Zoom      float64
	Workbench string
	Selection []Element
}

// Memory is a headless Surface. Tests and the reference server drive its
// selection through Select as a stand-in for a human click.
type Memory struct {
	ui *UIThread

	// Owned by the UI thread; mu only guards Snapshot readers.
	mu        sync.Mutex
	view      string
	zoom      float64
	workbench string
	selection []Element
}

var _ Surface = (*Memory)(nil)

// NewMemory returns a surface bound to ui.
func NewMemory(ui *UIThread) *Memory {
	return &Memory{ui: ui, view: "isometric", zoom: 1, workbench: "PartWorkbench"}
}

// Clear empties the selection set.
func (m *Memory) Clear(ctx context.Context) error {
	return m.ui.Do(ctx, func() error {
		m.mu.Lock()
		m.selection = nil
		m.mu.Unlock()
		return nil
	})
}

// Select adds el to the selection, merging sub-elements for an object
// that is already selected.
func (m *Memory) Select(ctx context.Context, el Element) error {
	if el.Object == "" {
		return protocol.Errorf(protocol.KindInvalidArgs, "object_name is required")
	}
	return m.ui.Do(ctx, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i := range m.selection {
			if m.selection[i].Object == el.Object && m.selection[i].Document == el.Document {
				m.selection[i].SubElements = append(m.selection[i].SubElements, el.SubElements...)
				return nil
			}
		}
		el.SubElements = append([]string(nil), el.SubElements...)
		m.selection = append(m.selection, el)
		return nil
	})
}

// Current returns a copy of the selection set.
func (m *Memory) Current(ctx context.Context) ([]Element, error) {
	var out []Element
	err := m.ui.Do(ctx, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		out = make([]Element, len(m.selection))
		for i, el := range m.selection {
			el.SubElements = append([]string(nil), el.SubElements...)
			out[i] = el
		}
		return nil
	})
	return out, err
}

// SetView changes the camera orientation.
func (m *Memory) SetView(ctx context.Context, view string) error {
	view = strings.ToLower(view)
	if !contains(Views, view) {
		return protocol.Errorf(protocol.KindInvalidArgs, "Unknown view type: %s", view)
	}
	return m.ui.Do(ctx, func() error {
		m.mu.Lock()
		m.view = view
		m.mu.Unlock()
		return nil
	})
}

// FitAll resets zoom so every object is visible.
func (m *Memory) FitAll(ctx context.Context) error {
	return m.ui.Do(ctx, func() error {
		m.mu.Lock()
		m.zoom = 1
		m.mu.Unlock()
		return nil
	})
}

// Zoom multiplies the zoom level by factor.
func (m *Memory) Zoom(ctx context.Context, factor float64) error {
	if factor <= 0 {
		return protocol.Errorf(protocol.KindInvalidArgs, "zoom factor must be positive, got %v", factor)
	}
	return m.ui.Do(ctx, func() error {
		m.mu.Lock()
		m.zoom *= factor
		m.mu.Unlock()
		return nil
	})
}

// ActivateWorkbench switches the active workbench.
func (m *Memory) ActivateWorkbench(ctx context.Context, name string) error {
	if !contains(Workbenches, name) {
		return protocol.Errorf(protocol.KindInvalidArgs, "Unknown workbench: %s", name)
	}
	return m.ui.Do(ctx, func() error {
		m.mu.Lock()
		m.workbench = name
		m.mu.Unlock()
		return nil
	})
}

// Screenshot renders a blank white PNG of the requested size.
func (m *Memory) Screenshot(ctx context.Context, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || width > 4096 || height > 4096 {
		return nil, protocol.Errorf(protocol.KindInvalidArgs, "screenshot size %dx%d out of range", width, height)
	}
	var buf bytes.Buffer
	err := m.ui.Do(ctx, func() error {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Set(x, y, color.White)
			}
		}
		return png.Encode(&buf, img)
	})
	if err != nil {
		return nil, fmt.Errorf("render screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Snapshot returns the current view state without touching the UI thread.
func (m *Memory) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel := make([]Element, len(m.selection))
	copy(sel, m.selection)
	return State{View: m.view, Zoom: m.zoom, Workbench: m.workbench, Selection: sel}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func fmtAny(v any) string {
	return fmt.Sprintf("%v", v)
}
