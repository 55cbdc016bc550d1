package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"cadbridge/pkg/engine"
	"cadbridge/pkg/protocol"
)

// position is the x/y/z placement shared by creation and move tools.
type position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p position) vector() engine.Vector {
	return engine.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

func (p position) offset() string {
	return fmt.Sprintf("(%s, %s, %s)", num(p.X), num(p.Y), num(p.Z))
}

func num(f float64) string { return engine.Num(f) }

type boxParams struct {
	Length float64 `json:"length" validate:"gt=0"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
	Name   string  `json:"name"`
	position
}

type cylinderParams struct {
	Radius float64 `json:"radius" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
	Name   string  `json:"name"`
	position
}

type sphereParams struct {
	Radius float64 `json:"radius" validate:"gt=0"`
	Name   string  `json:"name"`
	position
}

type coneParams struct {
	Radius1 float64 `json:"radius1" validate:"gte=0"`
	Radius2 float64 `json:"radius2" validate:"gte=0"`
	Height  float64 `json:"height" validate:"gt=0"`
	Name    string  `json:"name"`
	position
}

type torusParams struct {
	Radius1 float64 `json:"radius1" validate:"gt=0"`
	Radius2 float64 `json:"radius2" validate:"gt=0"`
	Name    string  `json:"name"`
	position
}

type wedgeParams struct {
	XMin  float64 `json:"xmin"`
	YMin  float64 `json:"ymin"`
	ZMin  float64 `json:"zmin"`
	X2Min float64 `json:"x2min"`
	X2Max float64 `json:"x2max"`
	XMax  float64 `json:"xmax"`
	YMax  float64 `json:"ymax"`
	ZMax  float64 `json:"zmax"`
	Name  string  `json:"name"`
}

type multiParams struct {
	Objects []string `json:"objects"`
	Name    string   `json:"name"`
}

type cutParams struct {
	Base  string   `json:"base"`
	Tools []string `json:"tools"`
	Name  string   `json:"name"`
}

type moveParams struct {
	ObjectName string `json:"object_name" validate:"required"`
	position
}

type rotateParams struct {
	ObjectName string  `json:"object_name" validate:"required"`
	Axis       string  `json:"axis" validate:"oneof=x y z X Y Z"`
	Angle      float64 `json:"angle"`
}

type scaleParams struct {
	ObjectName  string  `json:"object_name" validate:"required"`
	ScaleFactor float64 `json:"scale_factor" validate:"gt=0"`
}

type copyParams struct {
	ObjectName string `json:"object_name" validate:"required"`
	Name       string `json:"name"`
	position
}

type arrayParams struct {
	ObjectName string  `json:"object_name" validate:"required"`
	Count      int     `json:"count" validate:"gte=1,lte=1000"`
	SpacingX   float64 `json:"spacing_x"`
	SpacingY   float64 `json:"spacing_y"`
	SpacingZ   float64 `json:"spacing_z"`
}

func (d *Dispatcher) partHandlers() []Handler {
	return []Handler{
		typed(protocol.ToolCreateBox, func() boxParams {
			return boxParams{Length: 10, Width: 10, Height: 10}
		}, d.createBox),
		typed(protocol.ToolCreateCylinder, func() cylinderParams {
			return cylinderParams{Radius: 5, Height: 10}
		}, d.createCylinder),
		typed(protocol.ToolCreateSphere, func() sphereParams {
			return sphereParams{Radius: 5}
		}, d.createSphere),
		typed(protocol.ToolCreateCone, func() coneParams {
			return coneParams{Radius1: 5, Height: 10}
		}, d.createCone),
		typed(protocol.ToolCreateTorus, func() torusParams {
			return torusParams{Radius1: 10, Radius2: 3}
		}, d.createTorus),
		typed(protocol.ToolCreateWedge, func() wedgeParams {
			return wedgeParams{X2Min: 2, X2Max: 8, XMax: 10, YMax: 10, ZMax: 10}
		}, d.createWedge),
		typed(protocol.ToolFuse, func() multiParams { return multiParams{} }, d.fuseObjects),
		typed(protocol.ToolCut, func() cutParams { return cutParams{} }, d.cutObjects),
		typed(protocol.ToolCommon, func() multiParams { return multiParams{} }, d.commonObjects),
		typed(protocol.ToolMove, func() moveParams { return moveParams{} }, d.moveObject),
		typed(protocol.ToolRotate, func() rotateParams {
			return rotateParams{Axis: "z", Angle: 90}
		}, d.rotateObject),
		typed(protocol.ToolScale, func() scaleParams {
			return scaleParams{ScaleFactor: 1.5}
		}, d.scaleObject),
		typed(protocol.ToolCopy, func() copyParams {
			return copyParams{Name: "Copy"}
		}, d.copyObject),
		typed(protocol.ToolArray, func() arrayParams {
			return arrayParams{Count: 3, SpacingX: 10}
		}, d.arrayObject),
	}
}

// addPrimitive creates a solid at pos, auto-creating a document.
func (d *Dispatcher) addPrimitive(ctx context.Context, typ, name string, pos position, params map[string]float64) (engine.Object, error) {
	if _, err := d.ensureDocument(ctx); err != nil {
		return engine.Object{}, err
	}
	return d.eng.AddFeature(ctx, engine.FeatureSpec{
		Type:   typ,
		Name:   name,
		Params: params,
		Placement: engine.Placement{
			Position: pos.vector(),
			Axis:     engine.Vector{Z: 1},
		},
	})
}

func (d *Dispatcher) createBox(ctx context.Context, p boxParams, _ Args) (any, error) {
	obj, err := d.addPrimitive(ctx, engine.TypeBox, p.Name, p.position, map[string]float64{
		"length": p.Length, "width": p.Width, "height": p.Height,
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created box: %s (%sx%sx%smm) at %s",
		obj.Name, num(p.Length), num(p.Width), num(p.Height), p.vector()), nil
}

func (d *Dispatcher) createCylinder(ctx context.Context, p cylinderParams, _ Args) (any, error) {
	obj, err := d.addPrimitive(ctx, engine.TypeCylinder, p.Name, p.position, map[string]float64{
		"radius": p.Radius, "height": p.Height,
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created cylinder: %s (R%s, H%s) at %s",
		obj.Name, num(p.Radius), num(p.Height), p.vector()), nil
}

func (d *Dispatcher) createSphere(ctx context.Context, p sphereParams, _ Args) (any, error) {
	obj, err := d.addPrimitive(ctx, engine.TypeSphere, p.Name, p.position, map[string]float64{
		"radius": p.Radius,
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created sphere: %s (R%s) at %s", obj.Name, num(p.Radius), p.vector()), nil
}

func (d *Dispatcher) createCone(ctx context.Context, p coneParams, _ Args) (any, error) {
	if p.Radius1 == 0 && p.Radius2 == 0 {
		return nil, protocol.Errorf(protocol.KindInvalidArgs, "radius1 and radius2 cannot both be 0")
	}
	obj, err := d.addPrimitive(ctx, engine.TypeCone, p.Name, p.position, map[string]float64{
		"radius1": p.Radius1, "radius2": p.Radius2, "height": p.Height,
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created cone: %s (R1%s, R2%s, H%s) at %s",
		obj.Name, num(p.Radius1), num(p.Radius2), num(p.Height), p.vector()), nil
}

func (d *Dispatcher) createTorus(ctx context.Context, p torusParams, _ Args) (any, error) {
	if p.Radius2 >= p.Radius1 {
		return nil, protocol.Errorf(protocol.KindInvalidArgs, "radius2 must be smaller than radius1")
	}
	obj, err := d.addPrimitive(ctx, engine.TypeTorus, p.Name, p.position, map[string]float64{
		"radius1": p.Radius1, "radius2": p.Radius2,
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created torus: %s (R1%s, R2%s) at %s",
		obj.Name, num(p.Radius1), num(p.Radius2), p.vector()), nil
}

func (d *Dispatcher) createWedge(ctx context.Context, p wedgeParams, _ Args) (any, error) {
	if p.XMax <= p.XMin || p.YMax <= p.YMin || p.ZMax <= p.ZMin {
		return nil, protocol.Errorf(protocol.KindInvalidArgs, "wedge maxima must exceed minima")
	}
	obj, err := d.addPrimitive(ctx, engine.TypeWedge, p.Name, position{}, map[string]float64{
		"length": p.XMax - p.XMin,
		"width":  p.YMax - p.YMin,
		"height": p.ZMax - p.ZMin,
		"x2min":  p.X2Min,
		"x2max":  p.X2Max,
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created wedge: %s (%sx%sx%s) at origin",
		obj.Name, num(p.XMax), num(p.YMax), num(p.ZMax)), nil
}

func (d *Dispatcher) fuseObjects(ctx context.Context, p multiParams, _ Args) (any, error) {
	if len(p.Objects) < 2 {
		return nil, protocol.Errorf(protocol.KindInvalidArgs, "Need at least 2 objects to fuse")
	}
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	obj, err := d.eng.AddFeature(ctx, engine.FeatureSpec{Type: engine.TypeFuse, Name: p.Name, Refs: p.Objects})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created fusion: %s from %d objects", obj.Name, len(p.Objects)), nil
}

func (d *Dispatcher) cutObjects(ctx context.Context, p cutParams, _ Args) (any, error) {
	if p.Base == "" || len(p.Tools) == 0 {
		return nil, protocol.Errorf(protocol.KindInvalidArgs, "Need base object and tool objects")
	}
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	if _, err := d.eng.Object(ctx, p.Base); err != nil {
		if protocol.IsKind(err, protocol.KindNotFound) {
			return nil, protocol.Errorf(protocol.KindNotFound, "Base object not found: %s", p.Base)
		}
		return nil, err
	}
	refs := append([]string{p.Base}, p.Tools...)
	obj, err := d.eng.AddFeature(ctx, engine.FeatureSpec{Type: engine.TypeCut, Name: p.Name, Refs: refs})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created cut: %s from %s minus %d tools", obj.Name, p.Base, len(p.Tools)), nil
}

func (d *Dispatcher) commonObjects(ctx context.Context, p multiParams, _ Args) (any, error) {
	if len(p.Objects) < 2 {
		return nil, protocol.Errorf(protocol.KindInvalidArgs, "Need at least 2 objects for intersection")
	}
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	obj, err := d.eng.AddFeature(ctx, engine.FeatureSpec{Type: engine.TypeCommon, Name: p.Name, Refs: p.Objects})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created intersection: %s from %d objects", obj.Name, len(p.Objects)), nil
}

// lookup fetches an object from the active document.
func (d *Dispatcher) lookup(ctx context.Context, name string) (engine.Object, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return engine.Object{}, err
	}
	return d.eng.Object(ctx, name)
}

func (d *Dispatcher) moveObject(ctx context.Context, p moveParams, _ Args) (any, error) {
	obj, err := d.lookup(ctx, p.ObjectName)
	if err != nil {
		return nil, err
	}
	pl := obj.Placement
	pl.Position = pl.Position.Add(p.vector())
	if _, err := d.eng.Transform(ctx, obj.Name, pl); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Moved %s by %s", obj.Name, p.offset()), nil
}

func (d *Dispatcher) rotateObject(ctx context.Context, p rotateParams, _ Args) (any, error) {
	obj, err := d.lookup(ctx, p.ObjectName)
	if err != nil {
		return nil, err
	}
	axis := engine.Vector{Z: 1}
	switch strings.ToLower(p.Axis) {
	case "x":
		axis = engine.Vector{X: 1}
	case "y":
		axis = engine.Vector{Y: 1}
	}
	pl := obj.Placement
	if pl.Axis == axis {
		pl.Angle += p.Angle
	} else {
		pl.Axis, pl.Angle = axis, p.Angle
	}
	if _, err := d.eng.Transform(ctx, obj.Name, pl); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Rotated %s by %s° around %s-axis", obj.Name, num(p.Angle), strings.ToUpper(p.Axis)), nil
}

func (d *Dispatcher) scaleObject(ctx context.Context, p scaleParams, _ Args) (any, error) {
	obj, err := d.lookup(ctx, p.ObjectName)
	if err != nil {
		return nil, err
	}
	if len(obj.Params) == 0 {
		return nil, protocol.Errorf(protocol.KindPrecondition, "Object %s has no scalable dimensions", obj.Name)
	}
	scaled := make(map[string]float64, len(obj.Params))
	for k, v := range obj.Params {
		scaled[k] = v * p.ScaleFactor
	}
	if _, err := d.eng.UpdateFeature(ctx, obj.Name, scaled); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Scaled %s by factor %s", obj.Name, num(p.ScaleFactor)), nil
}

func (d *Dispatcher) copyObject(ctx context.Context, p copyParams, _ Args) (any, error) {
	obj, err := d.lookup(ctx, p.ObjectName)
	if err != nil {
		return nil, err
	}
	spec := engine.SpecFrom(obj)
	spec.Label = p.Name
	spec.Placement.Position = obj.Placement.Position.Add(p.vector())
	cp, err := d.eng.AddFeature(ctx, spec)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created copy: %s at offset %s", cp.Name, p.offset()), nil
}

func (d *Dispatcher) arrayObject(ctx context.Context, p arrayParams, _ Args) (any, error) {
	obj, err := d.lookup(ctx, p.ObjectName)
	if err != nil {
		return nil, err
	}
	step := engine.Vector{X: p.SpacingX, Y: p.SpacingY, Z: p.SpacingZ}
	pos := obj.Placement.Position
	for i := 1; i < p.Count; i++ {
		pos = pos.Add(step)
		spec := engine.SpecFrom(obj)
		spec.Label = fmt.Sprintf("%s_Array%d", obj.Label, i)
		spec.Placement.Position = pos
		if _, err := d.eng.AddFeature(ctx, spec); err != nil {
			return nil, fmt.Errorf("array copy %d of %s: %w", i, obj.Name, err)
		}
	}
	return fmt.Sprintf("Created array: %d copies of %s with spacing (%s, %s, %s)",
		p.Count, obj.Name, num(p.SpacingX), num(p.SpacingY), num(p.SpacingZ)), nil
}
