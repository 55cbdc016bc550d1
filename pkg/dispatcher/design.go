package dispatcher

import (
	"context"
	"fmt"

	"cadbridge/pkg/engine"
	"cadbridge/pkg/protocol"
	"cadbridge/pkg/selection"

	"go.uber.org/zap"
)

type sketchParams struct {
	Plane  string  `json:"plane" validate:"oneof=XY XZ YZ"`
	Name   string  `json:"name"`
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
	Radius float64 `json:"radius" validate:"gte=0"`
}

type extrudeParams struct {
	SketchName string  `json:"sketch_name" validate:"required"`
	Length     float64 `json:"length" validate:"gt=0"`
	Name       string  `json:"name"`
}

// selectArgs are the arguments every selection-aware tool understands.
// Edges or Faces given explicitly skip the interactive selection.
type selectArgs struct {
	ObjectName  string `json:"object_name"`
	Edges       []int  `json:"edges" validate:"omitempty,dive,gt=0"`
	Faces       []int  `json:"faces" validate:"omitempty,dive,gt=0"`
	Continue    bool   `json:"_continue_selection"`
	OperationID string `json:"_operation_id"`
}

func (s selectArgs) selection() selectArgs { return s }

// selectable is implemented by parameter structs embedding selectArgs.
type selectable interface {
	selection() selectArgs
}

type filletParams struct {
	Radius float64 `json:"radius" validate:"gt=0"`
	Name   string  `json:"name"`
	selectArgs
}

type chamferParams struct {
	Distance float64 `json:"distance" validate:"gt=0"`
	Name     string  `json:"name"`
	selectArgs
}

type holeParams struct {
	Diameter float64 `json:"diameter" validate:"gt=0"`
	Depth    float64 `json:"depth" validate:"gt=0"`
	Name     string  `json:"name"`
	selectArgs
}

// resumeFunc finishes a parked tool from its stored arguments and the
// completed selection.
type resumeFunc func(ctx context.Context, stored Args, res selection.Result) (any, error)

func (d *Dispatcher) designHandlers() []Handler {
	return []Handler{
		typed(protocol.ToolCreateSketch, func() sketchParams {
			return sketchParams{Plane: "XY", Width: 10, Height: 10}
		}, d.createSketch),
		typed(protocol.ToolPad, func() extrudeParams {
			return extrudeParams{Length: 10}
		}, d.padSketch),
		typed(protocol.ToolPocket, func() extrudeParams {
			return extrudeParams{Length: 5}
		}, d.pocketSketch),
		selective(d, protocol.ToolFillet, protocol.SelectEdges, func() filletParams {
			return filletParams{Radius: 1}
		}, d.applyFillet),
		selective(d, protocol.ToolChamfer, protocol.SelectEdges, func() chamferParams {
			return chamferParams{Distance: 1}
		}, d.applyChamfer),
		selective(d, protocol.ToolHole, protocol.SelectFaces, func() holeParams {
			return holeParams{Diameter: 6, Depth: 10}
		}, d.applyHole),
	}
}

func (d *Dispatcher) createSketch(ctx context.Context, p sketchParams, _ Args) (any, error) {
	if _, err := d.ensureDocument(ctx); err != nil {
		return nil, err
	}
	params := map[string]float64{"width": p.Width, "height": p.Height}
	if p.Radius > 0 {
		params = map[string]float64{"radius": p.Radius}
	}
	obj, err := d.eng.AddFeature(ctx, engine.FeatureSpec{
		Type:   engine.TypeSketch,
		Name:   p.Name,
		Params: params,
		Attrs:  map[string]string{"plane": p.Plane},
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created sketch: %s on %s plane", obj.Name, p.Plane), nil
}

// sketch fetches name and checks it is a sketch.
func (d *Dispatcher) sketch(ctx context.Context, name string) (engine.Object, error) {
	obj, err := d.lookup(ctx, name)
	if protocol.IsKind(err, protocol.KindNotFound) || (err == nil && obj.Type != engine.TypeSketch) {
		return engine.Object{}, protocol.Errorf(protocol.KindNotFound, "Sketch not found: %s", name)
	}
	return obj, err
}

func (d *Dispatcher) padSketch(ctx context.Context, p extrudeParams, _ Args) (any, error) {
	sk, err := d.sketch(ctx, p.SketchName)
	if err != nil {
		return nil, err
	}
	obj, err := d.eng.AddFeature(ctx, engine.FeatureSpec{
		Type:   engine.TypePad,
		Name:   p.Name,
		Params: map[string]float64{"length": p.Length},
		Refs:   []string{sk.Name},
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created pad: %s from %s with length %smm", obj.Name, sk.Name, num(p.Length)), nil
}

func (d *Dispatcher) pocketSketch(ctx context.Context, p extrudeParams, _ Args) (any, error) {
	sk, err := d.sketch(ctx, p.SketchName)
	if err != nil {
		return nil, err
	}
	obj, err := d.eng.AddFeature(ctx, engine.FeatureSpec{
		Type:   engine.TypePocket,
		Name:   p.Name,
		Params: map[string]float64{"length": p.Length},
		Refs:   []string{sk.Name},
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created pocket: %s from %s with depth %smm", obj.Name, sk.Name, num(p.Length)), nil
}

// selective builds the handler of a tool that operates on viewport
// elements. Without explicit elements it parks the call with the selection
// coordinator and returns the awaiting marker. A call carrying
// _continue_selection and _operation_id completes the parked operation; so
// does continue_selection through the registered resume function.
func selective[P selectable](
	d *Dispatcher,
	name string,
	kind protocol.SelectionKind,
	defaults func() P,
	apply func(ctx context.Context, p P, object string, elements []int) (any, error),
) Handler {
	finish := func(ctx context.Context, p P, res selection.Result) (any, error) {
		target := p.selection().ObjectName
		if target == "" {
			target = res.Operation.Target
		}
		elements := res.IndicesOn(target)
		if len(elements) == 0 {
			return nil, protocol.Errorf(protocol.KindPrecondition, "No %s were selected", kind)
		}
		return apply(ctx, p, target, elements)
	}

	d.resumers[name] = func(ctx context.Context, stored Args, res selection.Result) (any, error) {
		p := defaults()
		if err := decode(name, &p, stored); err != nil {
			return nil, err
		}
		return finish(ctx, p, res)
	}

	return typed(name, defaults, func(ctx context.Context, p P, args Args) (any, error) {
		sa := p.selection()
		explicit := sa.Edges
		if kind == protocol.SelectFaces {
			explicit = sa.Faces
		}
		switch {
		case len(explicit) > 0:
			if sa.ObjectName == "" {
				return nil, protocol.Errorf(protocol.KindInvalidArgs, "object_name is required")
			}
			return apply(ctx, p, sa.ObjectName, explicit)

		case sa.Continue:
			if sa.OperationID == "" {
				return nil, protocol.Errorf(protocol.KindInvalidArgs, "%s is required to continue a selection", protocol.ArgOperationID)
			}
			res, err := d.sel.CompleteFor(ctx, sa.OperationID, name)
			if err != nil {
				return nil, err
			}
			return d.resumers[name](ctx, overlay(res.Operation.Extra, args), res)

		default:
			if sa.ObjectName == "" {
				return nil, protocol.Errorf(protocol.KindInvalidArgs, "object_name is required")
			}
			obj, err := d.lookup(ctx, sa.ObjectName)
			if err != nil {
				return nil, err
			}
			prompt, err := d.sel.Request(ctx, name, kind, obj.Name, storedArgs(args))
			if err != nil {
				return nil, err
			}
			d.log.Debug("parked for selection",
				zap.String("tool", name),
				zap.String("operation_id", prompt.OperationID))
			return prompt.Awaiting(), nil
		}
	})
}

// storedArgs drops continuation markers before parking args.
func storedArgs(args Args) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == protocol.ArgContinueSelection || k == protocol.ArgOperationID {
			continue
		}
		out[k] = v
	}
	return out
}

// overlay returns the parked args with the explicit arguments of the
// continuing call laid over them.
func overlay(stored map[string]any, args Args) Args {
	out := make(Args, len(stored)+len(args))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range storedArgs(args) {
		out[k] = v
	}
	return out
}

// dressUp validates element indices against the object's topology and
// adds a feature referencing them.
func (d *Dispatcher) dressUp(ctx context.Context, typ, name, object string, kind protocol.SelectionKind, elements []int, params map[string]float64) (engine.Object, error) {
	obj, err := d.lookup(ctx, object)
	if err != nil {
		return engine.Object{}, err
	}
	limit := obj.Edges
	if kind == protocol.SelectFaces {
		limit = obj.Faces
	}
	subs := make([]string, 0, len(elements))
	for _, idx := range elements {
		if idx > limit {
			return engine.Object{}, protocol.Errorf(protocol.KindInvalidArgs,
				"%s%d does not exist on %s (%d %s)", kind.Prefix(), idx, obj.Name, limit, kind)
		}
		subs = append(subs, fmt.Sprintf("%s%d", kind.Prefix(), idx))
	}
	return d.eng.AddFeature(ctx, engine.FeatureSpec{
		Type:   typ,
		Name:   name,
		Params: params,
		Refs:   []string{obj.Name},
		Subs:   subs,
	})
}

func (d *Dispatcher) applyFillet(ctx context.Context, p filletParams, object string, edges []int) (any, error) {
	obj, err := d.dressUp(ctx, engine.TypeFillet, p.Name, object, protocol.SelectEdges, edges,
		map[string]float64{"radius": p.Radius})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created fillet: %s on %s with radius %smm (%s)",
		obj.Name, obj.Refs[0], num(p.Radius), countNoun(len(edges), "edge")), nil
}

func (d *Dispatcher) applyChamfer(ctx context.Context, p chamferParams, object string, edges []int) (any, error) {
	obj, err := d.dressUp(ctx, engine.TypeChamfer, p.Name, object, protocol.SelectEdges, edges,
		map[string]float64{"distance": p.Distance})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created chamfer: %s on %s with distance %smm (%s)",
		obj.Name, obj.Refs[0], num(p.Distance), countNoun(len(edges), "edge")), nil
}

func (d *Dispatcher) applyHole(ctx context.Context, p holeParams, object string, faces []int) (any, error) {
	obj, err := d.dressUp(ctx, engine.TypeHole, p.Name, object, protocol.SelectFaces, faces,
		map[string]float64{"diameter": p.Diameter, "depth": p.Depth})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created hole: %s in %s with diameter %smm and depth %smm (%s)",
		obj.Name, obj.Refs[0], num(p.Diameter), num(p.Depth), countNoun(len(faces), "face")), nil
}

func countNoun(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
