package engine

import "math"

// measure approximates mass properties from feature parameters. Bounding
// boxes are axis-aligned and ignore rotation. Must be called with the
// engine lock held.
func measure(doc *document, o Object) Properties {
	p := Properties{
		Volume:   volume(doc, o),
		Area:     area(doc, o),
		BoundBox: bounds(doc, o),
	}
	p.Center = Vector{
		X: (p.BoundBox.Min.X + p.BoundBox.Max.X) / 2,
		Y: (p.BoundBox.Min.Y + p.BoundBox.Max.Y) / 2,
		Z: (p.BoundBox.Min.Z + p.BoundBox.Max.Z) / 2,
	}
	return p
}

func refObjects(doc *document, o Object) []Object {
	out := make([]Object, 0, len(o.Refs))
	for _, r := range o.Refs {
		if i := doc.index(r); i >= 0 {
			out = append(out, doc.objects[i])
		}
	}
	return out
}

func profileArea(sketch Object) float64 {
	if r := sketch.Param("radius"); r > 0 {
		return math.Pi * r * r
	}
	return sketch.Param("width") * sketch.Param("height")
}

func volume(doc *document, o Object) float64 {
	switch o.Type {
	case TypeBox:
		return o.Param("length") * o.Param("width") * o.Param("height")
	case TypeWedge:
		return o.Param("length") * o.Param("width") * o.Param("height") / 2
	case TypeCylinder:
		r := o.Param("radius")
		return math.Pi * r * r * o.Param("height")
	case TypeSphere:
		r := o.Param("radius")
		return 4.0 / 3.0 * math.Pi * r * r * r
	case TypeCone:
		r1, r2 := o.Param("radius1"), o.Param("radius2")
		return math.Pi * o.Param("height") / 3 * (r1*r1 + r1*r2 + r2*r2)
	case TypeTorus:
		R, r := o.Param("radius1"), o.Param("radius2")
		return 2 * math.Pi * math.Pi * R * r * r
	case TypePad, TypePocket:
		refs := refObjects(doc, o)
		if len(refs) == 0 {
			return 0
		}
		return profileArea(refs[0]) * o.Param("length")
	}

	refs := refObjects(doc, o)
	if len(refs) == 0 {
		return 0
	}
	switch o.Type {
	case TypeFuse:
		var v float64
		for _, r := range refs {
			v += volume(doc, r)
		}
		return v
	case TypeCut:
		v := volume(doc, refs[0])
		for _, r := range refs[1:] {
			v -= volume(doc, r)
		}
		return math.Max(v, 0)
	case TypeCommon:
		v := volume(doc, refs[0])
		for _, r := range refs[1:] {
			v = math.Min(v, volume(doc, r))
		}
		return v
	case TypeHole:
		d := o.Param("diameter")
		v := volume(doc, refs[0]) - float64(max(len(o.Subs), 1))*math.Pi*d*d/4*o.Param("depth")
		return math.Max(v, 0)
	default:
		return volume(doc, refs[0])
	}
}

func area(doc *document, o Object) float64 {
	switch o.Type {
	case TypeBox:
		l, w, h := o.Param("length"), o.Param("width"), o.Param("height")
		return 2 * (l*w + l*h + w*h)
	case TypeCylinder:
		r, h := o.Param("radius"), o.Param("height")
		return 2 * math.Pi * r * (r + h)
	case TypeSphere:
		r := o.Param("radius")
		return 4 * math.Pi * r * r
	case TypeCone:
		r1, r2, h := o.Param("radius1"), o.Param("radius2"), o.Param("height")
		slant := math.Hypot(r1-r2, h)
		return math.Pi*(r1+r2)*slant + math.Pi*(r1*r1+r2*r2)
	case TypeTorus:
		return 4 * math.Pi * math.Pi * o.Param("radius1") * o.Param("radius2")
	}
	var a float64
	for _, r := range refObjects(doc, o) {
		if r.HasShape() {
			a += area(doc, r)
		}
	}
	return a
}

func bounds(doc *document, o Object) BoundBox {
	pos := o.Placement.Position
	switch o.Type {
	case TypeBox, TypeWedge:
		return BoundBox{Min: pos, Max: pos.Add(Vector{o.Param("length"), o.Param("width"), o.Param("height")})}
	case TypeCylinder:
		r := o.Param("radius")
		return BoundBox{Min: pos.Add(Vector{-r, -r, 0}), Max: pos.Add(Vector{r, r, o.Param("height")})}
	case TypeCone:
		r := math.Max(o.Param("radius1"), o.Param("radius2"))
		return BoundBox{Min: pos.Add(Vector{-r, -r, 0}), Max: pos.Add(Vector{r, r, o.Param("height")})}
	case TypeSphere:
		r := o.Param("radius")
		return BoundBox{Min: pos.Add(Vector{-r, -r, -r}), Max: pos.Add(Vector{r, r, r})}
	case TypeTorus:
		R, r := o.Param("radius1"), o.Param("radius2")
		return BoundBox{Min: pos.Add(Vector{-(R + r), -(R + r), -r}), Max: pos.Add(Vector{R + r, R + r, r})}
	case TypePad, TypePocket:
		refs := refObjects(doc, o)
		if len(refs) == 0 {
			return BoundBox{Min: pos, Max: pos}
		}
		s := refs[0]
		origin := s.Placement.Position.Add(pos)
		if r := s.Param("radius"); r > 0 {
			return BoundBox{Min: origin.Add(Vector{-r, -r, 0}), Max: origin.Add(Vector{r, r, o.Param("length")})}
		}
		return BoundBox{Min: origin, Max: origin.Add(Vector{s.Param("width"), s.Param("height"), o.Param("length")})}
	}

	refs := refObjects(doc, o)
	if len(refs) == 0 {
		return BoundBox{Min: pos, Max: pos}
	}
	box := bounds(doc, refs[0])
	if o.Type == TypeCut {
		return box
	}
	for _, r := range refs[1:] {
		b := bounds(doc, r)
		if o.Type == TypeCommon {
			box.Min = Vector{math.Max(box.Min.X, b.Min.X), math.Max(box.Min.Y, b.Min.Y), math.Max(box.Min.Z, b.Min.Z)}
			box.Max = Vector{math.Min(box.Max.X, b.Max.X), math.Min(box.Max.Y, b.Max.Y), math.Min(box.Max.Z, b.Max.Z)}
			continue
		}
		box.Min = Vector{math.Min(box.Min.X, b.Min.X), math.Min(box.Min.Y, b.Min.Y), math.Min(box.Min.Z, b.Min.Z)}
		box.Max = Vector{math.Max(box.Max.X, b.Max.X), math.Max(box.Max.Y, b.Max.Y), math.Max(box.Max.Z, b.Max.Z)}
	}
	return box
}

// Distance returns the distance between the centers of two bounding boxes.
func Distance(a, b Properties) float64 {
	return math.Sqrt(math.Pow(a.Center.X-b.Center.X, 2) +
		math.Pow(a.Center.Y-b.Center.Y, 2) +
		math.Pow(a.Center.Z-b.Center.Z, 2))
}
