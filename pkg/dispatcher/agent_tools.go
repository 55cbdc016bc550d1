package dispatcher

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"cadbridge/pkg/engine"
	"cadbridge/pkg/protocol"
)

// goalParams are the arguments of the agent step tools.
type goalParams struct {
	Goal    string   `json:"goal"`
	Context []string `json:"context"`
}

// goalWord matches word or its plural as a whole word of a lowercased goal.
func goalWord(goal, word string) bool {
	for _, w := range strings.FieldsFunc(goal, notWordRune) {
		if w == word || w == word+"s" || w == word+"es" {
			return true
		}
	}
	return false
}

func notWordRune(r rune) bool {
	return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func (d *Dispatcher) agentToolHandlers() []Handler {
	goal := func() goalParams { return goalParams{} }
	return []Handler{
		typed(protocol.ToolAnalyzeState, goal, d.analyzeState),
		typed(protocol.ToolModifyParameters, goal, d.modifyParameters),
		typed(protocol.ToolCreateObject, goal, d.createObject),
		typed(protocol.ToolVerifyResult, goal, d.verifyResult),
	}
}

// dimensions renders the characteristic sizes of common primitives.
func dimensions(o engine.Object) string {
	switch o.Type {
	case engine.TypeBox:
		return fmt.Sprintf("%sx%sx%smm", num(o.Param("length")), num(o.Param("width")), num(o.Param("height")))
	case engine.TypeCylinder:
		return fmt.Sprintf("R%smm, H%smm", num(o.Param("radius")), num(o.Param("height")))
	case engine.TypeSphere:
		return fmt.Sprintf("R%smm", num(o.Param("radius")))
	default:
		return "N/A"
	}
}

func (d *Dispatcher) analyzeState(ctx context.Context, _ goalParams, _ Args) (any, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	objs, err := d.eng.Objects(ctx)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d objects in document:", len(objs))
	for _, o := range objs {
		fmt.Fprintf(&b, "\n- %s (%s): %s", o.Name, o.Type, dimensions(o))
	}
	return b.String(), nil
}

// modifyParameters grows objects when the goal asks for bigger or larger
// ones: cylinders (holes) gain 1mm of radius, boxes scale by 1.2. Goals
// asking for smaller objects shrink them by the inverse amounts.
func (d *Dispatcher) modifyParameters(ctx context.Context, p goalParams, _ Args) (any, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	goal := strings.ToLower(p.Goal)
	grow := goalWord(goal, "bigger") || goalWord(goal, "larger")
	shrink := goalWord(goal, "smaller")
	if !grow && !shrink {
		return nil, protocol.Errorf(protocol.KindPrecondition, "Cannot modify: no objects match the modification criteria")
	}
	holes := goalWord(goal, "hole")

	objs, err := d.eng.Objects(ctx)
	if err != nil {
		return nil, err
	}
	var changes []string
	for _, o := range objs {
		switch {
		case o.Type == engine.TypeCylinder && holes:
			old := o.Param("radius")
			next := old + 1
			if shrink {
				next = old - 1
			}
			if next <= 0 {
				continue
			}
			if _, err := d.eng.UpdateFeature(ctx, o.Name, map[string]float64{"radius": next}); err != nil {
				return nil, err
			}
			changes = append(changes, fmt.Sprintf("%s: radius %s→%smm", o.Name, num(old), num(next)))

		case o.Type == engine.TypeBox:
			factor := 1.2
			if shrink {
				factor = 1 / factor
			}
			before := dimensions(o)
			scaled := map[string]float64{
				"length": round(o.Param("length") * factor),
				"width":  round(o.Param("width") * factor),
				"height": round(o.Param("height") * factor),
			}
			updated, err := d.eng.UpdateFeature(ctx, o.Name, scaled)
			if err != nil {
				return nil, err
			}
			changes = append(changes, fmt.Sprintf("%s: %s→%s",
				o.Name, strings.TrimSuffix(before, "mm"), dimensions(updated)))
		}
	}
	if len(changes) == 0 {
		return nil, protocol.Errorf(protocol.KindPrecondition, "Cannot modify: no objects match the modification criteria")
	}
	return fmt.Sprintf("Modified %d objects:\n  %s", len(changes), strings.Join(changes, "\n  ")), nil
}

// round trims float noise from scaled dimensions.
func round(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

func (d *Dispatcher) createObject(ctx context.Context, p goalParams, _ Args) (any, error) {
	goal := strings.ToLower(p.Goal)
	switch {
	case goalWord(goal, "box") || goalWord(goal, "cube"):
		return d.createBox(ctx, boxParams{Length: 10, Width: 10, Height: 10}, nil)
	case goalWord(goal, "cylinder") || goalWord(goal, "hole"):
		return d.createCylinder(ctx, cylinderParams{Radius: 5, Height: 10}, nil)
	case goalWord(goal, "sphere") || goalWord(goal, "ball"):
		return d.createSphere(ctx, sphereParams{Radius: 5}, nil)
	default:
		return nil, protocol.Errorf(protocol.KindPrecondition, "Cannot create: need more specific information about what to create")
	}
}

func (d *Dispatcher) verifyResult(ctx context.Context, _ goalParams, _ Args) (any, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	objs, err := d.eng.Objects(ctx)
	if err != nil {
		return nil, err
	}
	valid := 0
	for _, o := range objs {
		if o.HasShape() {
			valid++
		}
	}
	if valid == 0 {
		return nil, protocol.Errorf(protocol.KindPrecondition, "Verification failed: no valid objects found")
	}
	return fmt.Sprintf("✓ Verification successful: %d valid objects in document", valid), nil
}
