package dispatcher

import (
	"context"
	"fmt"

	"cadbridge/pkg/engine"
	"cadbridge/pkg/protocol"
)

type objectParams struct {
	ObjectName string `json:"object_name" validate:"required"`
}

type distanceParams struct {
	Object1 string `json:"object1" validate:"required"`
	Object2 string `json:"object2" validate:"required"`
}

// ObjectInfo is one entry of list_all_objects.
type ObjectInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

func (d *Dispatcher) measureHandlers() []Handler {
	return []Handler{
		typed(protocol.ToolMeasureDistance, func() distanceParams { return distanceParams{} }, d.measureDistance),
		typed(protocol.ToolGetVolume, func() objectParams { return objectParams{} }, d.getVolume),
		typed(protocol.ToolGetBoundingBox, func() objectParams { return objectParams{} }, d.getBoundingBox),
		typed(protocol.ToolMassProperties, func() objectParams { return objectParams{} }, d.getMassProperties),
		typed(protocol.ToolListObjects, none, d.listObjects),
	}
}

func (d *Dispatcher) properties(ctx context.Context, name string) (engine.Properties, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return engine.Properties{}, err
	}
	return d.eng.Properties(ctx, name)
}

func (d *Dispatcher) measureDistance(ctx context.Context, p distanceParams, _ Args) (any, error) {
	a, err := d.properties(ctx, p.Object1)
	if err != nil {
		return nil, err
	}
	b, err := d.properties(ctx, p.Object2)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Distance between %s and %s: %.2f mm", p.Object1, p.Object2, engine.Distance(a, b)), nil
}

func (d *Dispatcher) getVolume(ctx context.Context, p objectParams, _ Args) (any, error) {
	props, err := d.properties(ctx, p.ObjectName)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Volume of %s: %.2f mm³", p.ObjectName, props.Volume), nil
}

func (d *Dispatcher) getBoundingBox(ctx context.Context, p objectParams, _ Args) (any, error) {
	props, err := d.properties(ctx, p.ObjectName)
	if err != nil {
		return nil, err
	}
	bb := props.BoundBox
	return fmt.Sprintf("Bounding box of %s:\n"+
		"  X: %.2f to %.2f mm (length: %.2f)\n"+
		"  Y: %.2f to %.2f mm (width: %.2f)\n"+
		"  Z: %.2f to %.2f mm (height: %.2f)",
		p.ObjectName,
		bb.Min.X, bb.Max.X, bb.Max.X-bb.Min.X,
		bb.Min.Y, bb.Max.Y, bb.Max.Y-bb.Min.Y,
		bb.Min.Z, bb.Max.Z, bb.Max.Z-bb.Min.Z), nil
}

func (d *Dispatcher) getMassProperties(ctx context.Context, p objectParams, _ Args) (any, error) {
	props, err := d.properties(ctx, p.ObjectName)
	if err != nil {
		return nil, err
	}
	c := props.Center
	return fmt.Sprintf("Mass properties of %s:\n"+
		"  Volume: %.2f mm³\n"+
		"  Surface Area: %.2f mm²\n"+
		"  Center of Mass: (%.2f, %.2f, %.2f)",
		p.ObjectName, props.Volume, props.Area, c.X, c.Y, c.Z), nil
}

func (d *Dispatcher) listObjects(ctx context.Context, _ noParams, _ Args) (any, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	objs, err := d.eng.Objects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectInfo, 0, len(objs))
	for _, o := range objs {
		out = append(out, ObjectInfo{Name: o.Name, Type: o.Type, Label: o.Label})
	}
	return out, nil
}
