// Package engine defines the boundary to the host geometry kernel and ships
// an in-memory reference implementation. The kernel owns every document and
// object; cadbridge only names operations and reads back results.
package engine

import (
	"context"
	"strconv"
)

// Feature type ids, FreeCAD style.
const (
	TypeBox      = "Part::Box"
	TypeCylinder = "Part::Cylinder"
	TypeSphere   = "Part::Sphere"
	TypeCone     = "Part::Cone"
	TypeTorus    = "Part::Torus"
	TypeWedge    = "Part::Wedge"
	TypeFuse     = "Part::Fuse"
	TypeCut      = "Part::Cut"
	TypeCommon   = "Part::Common"
	TypeFillet   = "Part::Fillet"
	TypeChamfer  = "Part::Chamfer"
	TypeSketch   = "Sketcher::SketchObject"
	TypePad      = "PartDesign::Pad"
	TypePocket   = "PartDesign::Pocket"
	TypeHole     = "PartDesign::Hole"
)

// Vector is a point or direction in model space (mm).
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v+o.
func (v Vector) Add(o Vector) Vector {
	return Vector{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// String renders v as "(x,y,z)" with minimal digits.
func (v Vector) String() string {
	return "(" + Num(v.X) + "," + Num(v.Y) + "," + Num(v.Z) + ")"
}

// Placement positions an object. Rotation is an axis plus angle in degrees.
type Placement struct {
	Position Vector  `json:"position"`
	Axis     Vector  `json:"axis"`
	Angle    float64 `json:"angle"`
}

// BoundBox is an axis-aligned bounding box.
type BoundBox struct {
	Min Vector `json:"min"`
	Max Vector `json:"max"`
}

// Object is a snapshot of one document object.
type Object struct {
	Name      string             `json:"name"`
	Label     string             `json:"label"`
	Type      string             `json:"type"`
	Params    map[string]float64 `json:"params,omitempty"`
	Refs      []string           `json:"refs,omitempty"`
	Subs      []string           `json:"subs,omitempty"`
	Attrs     map[string]string  `json:"attrs,omitempty"`
	Placement Placement          `json:"placement"`
	Visible   bool               `json:"visible"`
	Edges     int                `json:"edges"`
	Faces     int                `json:"faces"`
}

// Param returns the named parameter or 0.
func (o Object) Param(name string) float64 {
	return o.Params[name]
}

// HasShape reports whether the object carries solid geometry.
func (o Object) HasShape() bool {
	return o.Type != TypeSketch
}

// FeatureSpec requests a new object. Name is a base name; the engine
// uniquifies it ("Box", "Box001", ...).
type FeatureSpec struct {
	Type      string
	Name      string
	Label     string
	Params    map[string]float64
	Refs      []string
	Subs      []string
	Attrs     map[string]string
	Placement Placement
}

// Properties are the mass properties of a shaped object.
type Properties struct {
	Volume   float64  `json:"volume"`
	Area     float64  `json:"area"`
	Center   Vector   `json:"center"`
	BoundBox BoundBox `json:"bound_box"`
}

// Engine is the geometry kernel boundary. Methods operating on a document
// return a precondition error when no document is active and a not_found
// error for unknown object names.
type Engine interface {
	ActiveDocument(ctx context.Context) (string, bool)
	NewDocument(ctx context.Context, name string) (string, error)
	SaveDocument(ctx context.Context, path string) (string, error)

	Objects(ctx context.Context) ([]Object, error)
	Object(ctx context.Context, name string) (Object, error)
	Properties(ctx context.Context, name string) (Properties, error)

	AddFeature(ctx context.Context, spec FeatureSpec) (Object, error)
	UpdateFeature(ctx context.Context, name string, params map[string]float64) (Object, error)
	Transform(ctx context.Context, name string, p Placement) (Object, error)
	Remove(ctx context.Context, name string) error
	SetVisibility(ctx context.Context, name string, visible bool) error

	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
}

// Num formats f with the fewest digits that round-trip (10, 2.5, 0.1).
func Num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
