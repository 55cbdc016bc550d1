package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"cadbridge/pkg/protocol"
)

// typeInfo holds the naming base and edge/face counts of a primitive.
type typeInfo struct {
	base  string
	edges int
	faces int
}

var featureTypes = map[string]typeInfo{ //nolint:gochecknoglobals // static lookup table
	TypeBox:      {"Box", 12, 6},
	TypeCylinder: {"Cylinder", 3, 3},
	TypeSphere:   {"Sphere", 1, 1},
	TypeCone:     {"Cone", 3, 3},
	TypeTorus:    {"Torus", 2, 1},
	TypeWedge:    {"Wedge", 12, 6},
	TypeFuse:     {"Fusion", 0, 0},
	TypeCut:      {"Cut", 0, 0},
	TypeCommon:   {"Common", 0, 0},
	TypeFillet:   {"Fillet", 0, 0},
	TypeChamfer:  {"Chamfer", 0, 0},
	TypeSketch:   {"Sketch", 0, 0},
	TypePad:      {"Pad", 0, 0},
	TypePocket:   {"Pocket", 0, 0},
	TypeHole:     {"Hole", 0, 0},
}

type document struct {
	name    string
	path    string
	objects []Object
	undo    [][]Object
	redo    [][]Object
}

func (d *document) index(name string) int {
	for i, o := range d.objects {
		if o.Name == name {
			return i
		}
	}
	return -1
}

// snapshot pushes the current object list onto the undo stack and drops
// any redo history.
func (d *document) snapshot() {
	d.undo = append(d.undo, cloneObjects(d.objects))
	d.redo = nil
}

// Memory is an in-process Engine. It backs the reference server and tests.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]*document
	active string
}

// NewMemory returns an empty engine with no documents.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*document)}
}

var _ Engine = (*Memory)(nil)

// ActiveDocument returns the active document name, if any.
func (m *Memory) ActiveDocument(_ context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != ""
}

// NewDocument creates a document and makes it active. Empty names become
// "Unnamed"; duplicates get a numeric suffix.
func (m *Memory) NewDocument(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		name = "Unnamed"
	}
	name = uniqueName(name, func(n string) bool { _, ok := m.docs[n]; return ok })
	m.docs[name] = &document{name: name}
	m.active = name
	return name, nil
}

// SaveDocument writes the active document as JSON. An empty path reuses the
// last saved path.
func (m *Memory) SaveDocument(_ context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[m.active]
	if doc == nil {
		return "", protocol.Errorf(protocol.KindPrecondition, "No active document to save")
	}
	if path == "" {
		path = doc.path
	}
	if path == "" {
		return "", protocol.Errorf(protocol.KindInvalidArgs, "filename is required for a document that has never been saved")
	}
	data, err := json.MarshalIndent(struct {
		Name    string   `json:"name"`
		Objects []Object `json:"objects"`
	}{doc.name, doc.objects}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode document %s: %w", doc.name, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write document %s: %w", path, err)
	}
	doc.path = path
	return path, nil
}

// Objects lists the active document's objects in creation order.
func (m *Memory) Objects(_ context.Context) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return nil, err
	}
	return cloneObjects(doc.objects), nil
}

// Object returns a copy of the named object.
func (m *Memory) Object(_ context.Context, name string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return Object{}, err
	}
	i := doc.index(name)
	if i < 0 {
		return Object{}, notFound(name)
	}
	return cloneObject(doc.objects[i]), nil
}

// Properties computes mass properties for a shaped object.
func (m *Memory) Properties(_ context.Context, name string) (Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return Properties{}, err
	}
	i := doc.index(name)
	if i < 0 {
		return Properties{}, notFound(name)
	}
	if !doc.objects[i].HasShape() {
		return Properties{}, protocol.Errorf(protocol.KindPrecondition, "Object %s has no solid shape", name)
	}
	return measure(doc, doc.objects[i]), nil
}

// AddFeature creates an object from spec. Every referenced object must exist.
func (m *Memory) AddFeature(_ context.Context, spec FeatureSpec) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return Object{}, err
	}
	info, ok := featureTypes[spec.Type]
	if !ok {
		return Object{}, protocol.Errorf(protocol.KindInvalidArgs, "unsupported feature type: %s", spec.Type)
	}
	refs := make([]Object, 0, len(spec.Refs))
	for _, r := range spec.Refs {
		i := doc.index(r)
		if i < 0 {
			return Object{}, notFound(r)
		}
		refs = append(refs, doc.objects[i])
	}

	base := spec.Name
	if base == "" {
		base = info.base
	}
	obj := Object{
		Name:      uniqueName(base, func(n string) bool { return doc.index(n) >= 0 }),
		Type:      spec.Type,
		Params:    copyParams(spec.Params),
		Refs:      append([]string(nil), spec.Refs...),
		Subs:      append([]string(nil), spec.Subs...),
		Attrs:     copyAttrs(spec.Attrs),
		Placement: spec.Placement,
		Visible:   true,
	}
	obj.Label = spec.Label
	if obj.Label == "" {
		obj.Label = obj.Name
	}
	obj.Edges, obj.Faces = topology(info, obj, refs)

	doc.snapshot()
	// Boolean and dress-up features consume their inputs visually.
	switch spec.Type {
	case TypeFuse, TypeCut, TypeCommon, TypeFillet, TypeChamfer, TypePad, TypePocket, TypeHole:
		for _, r := range spec.Refs {
			doc.objects[doc.index(r)].Visible = false
		}
	}
	doc.objects = append(doc.objects, obj)
	return cloneObject(obj), nil
}

// UpdateFeature merges params into the named object.
func (m *Memory) UpdateFeature(_ context.Context, name string, params map[string]float64) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return Object{}, err
	}
	i := doc.index(name)
	if i < 0 {
		return Object{}, notFound(name)
	}
	doc.snapshot()
	o := &doc.objects[i]
	if o.Params == nil {
		o.Params = make(map[string]float64, len(params))
	}
	for k, v := range params {
		o.Params[k] = v
	}
	return cloneObject(*o), nil
}

// Transform replaces the object's placement.
func (m *Memory) Transform(_ context.Context, name string, p Placement) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return Object{}, err
	}
	i := doc.index(name)
	if i < 0 {
		return Object{}, notFound(name)
	}
	doc.snapshot()
	doc.objects[i].Placement = p
	return cloneObject(doc.objects[i]), nil
}

// Remove deletes the named object.
func (m *Memory) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return err
	}
	i := doc.index(name)
	if i < 0 {
		return notFound(name)
	}
	doc.snapshot()
	doc.objects = append(doc.objects[:i], doc.objects[i+1:]...)
	return nil
}

// SetVisibility shows or hides the named object.
func (m *Memory) SetVisibility(_ context.Context, name string, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return err
	}
	i := doc.index(name)
	if i < 0 {
		return notFound(name)
	}
	doc.objects[i].Visible = visible
	return nil
}

// Undo restores the state before the last mutation.
func (m *Memory) Undo(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return err
	}
	if len(doc.undo) == 0 {
		return protocol.Errorf(protocol.KindPrecondition, "Nothing to undo")
	}
	last := doc.undo[len(doc.undo)-1]
	doc.undo = doc.undo[:len(doc.undo)-1]
	doc.redo = append(doc.redo, doc.objects)
	doc.objects = last
	return nil
}

// Redo reapplies the last undone mutation.
func (m *Memory) Redo(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.activeDoc()
	if err != nil {
		return err
	}
	if len(doc.redo) == 0 {
		return protocol.Errorf(protocol.KindPrecondition, "Nothing to redo")
	}
	next := doc.redo[len(doc.redo)-1]
	doc.redo = doc.redo[:len(doc.redo)-1]
	doc.undo = append(doc.undo, doc.objects)
	doc.objects = next
	return nil
}

// activeDoc must be called with m.mu held.
func (m *Memory) activeDoc() (*document, error) {
	doc := m.docs[m.active]
	if doc == nil {
		return nil, protocol.NoActiveDocument()
	}
	return doc, nil
}

// DocumentNames lists all open documents, sorted.
func (m *Memory) DocumentNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.docs))
	for n := range m.docs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func notFound(name string) error {
	return protocol.Errorf(protocol.KindNotFound, "Object not found: %s", name)
}

// uniqueName returns base if unused, otherwise base001, base002, ...
func uniqueName(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		n := fmt.Sprintf("%s%03d", base, i)
		if !taken(n) {
			return n
		}
	}
}

func topology(info typeInfo, o Object, refs []Object) (edges, faces int) {
	switch o.Type {
	case TypeCone:
		if o.Param("radius2") == 0 {
			return 2, 2
		}
		return info.edges, info.faces
	case TypeFuse, TypeCut:
		for _, r := range refs {
			edges += r.Edges
			faces += r.Faces
		}
		return edges, faces
	case TypeCommon:
		if len(refs) > 0 {
			return refs[0].Edges, refs[0].Faces
		}
		return 0, 0
	case TypeFillet, TypeChamfer:
		if len(refs) > 0 {
			return refs[0].Edges + 2*len(o.Subs), refs[0].Faces + len(o.Subs)
		}
		return 0, 0
	case TypeHole:
		if len(refs) > 0 {
			return refs[0].Edges + 3*len(o.Subs), refs[0].Faces + len(o.Subs)
		}
		return 0, 0
	case TypeSketch:
		if o.Param("radius") > 0 {
			return 1, 0
		}
		return 4, 0
	case TypePad, TypePocket:
		if len(refs) > 0 && refs[0].Param("radius") > 0 {
			return 3, 3
		}
		return 12, 6
	default:
		return info.edges, info.faces
	}
}

// SpecFrom builds a FeatureSpec that recreates o, used for copies.
func SpecFrom(o Object) FeatureSpec {
	return FeatureSpec{
		Type:      o.Type,
		Name:      o.Name,
		Params:    copyParams(o.Params),
		Refs:      append([]string(nil), o.Refs...),
		Subs:      append([]string(nil), o.Subs...),
		Attrs:     copyAttrs(o.Attrs),
		Placement: o.Placement,
	}
}

func copyParams(p map[string]float64) map[string]float64 {
	if p == nil {
		return nil
	}
	out := make(map[string]float64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func copyAttrs(a map[string]string) map[string]string {
	if a == nil {
		return nil
	}
	out := make(map[string]string, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func cloneObject(o Object) Object {
	o.Params = copyParams(o.Params)
	o.Attrs = copyAttrs(o.Attrs)
	o.Refs = append([]string(nil), o.Refs...)
	o.Subs = append([]string(nil), o.Subs...)
	return o
}

func cloneObjects(objs []Object) []Object {
	out := make([]Object, len(objs))
	for i, o := range objs {
		out[i] = cloneObject(o)
	}
	return out
}
