package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cadbridge/pkg/protocol"
)

// opRoute is one entry of a grouped tool's operation table: the flat tool it
// maps to plus arguments that override the caller's.
type opRoute struct {
	tool   string
	preset map[string]any
}

func to(tool string) opRoute { return opRoute{tool: tool} }

// smartTables maps grouped tool -> operation -> flat tool.
func smartTables() map[string]map[string]opRoute {
	return map[string]map[string]opRoute{
		protocol.ToolPartOperations: {
			"box":      to(protocol.ToolCreateBox),
			"cylinder": to(protocol.ToolCreateCylinder),
			"sphere":   to(protocol.ToolCreateSphere),
			"cone":     to(protocol.ToolCreateCone),
			"torus":    to(protocol.ToolCreateTorus),
			"wedge":    to(protocol.ToolCreateWedge),
			"fuse":     to(protocol.ToolFuse),
			"cut":      to(protocol.ToolCut),
			"common":   to(protocol.ToolCommon),
			"move":     to(protocol.ToolMove),
			"rotate":   to(protocol.ToolRotate),
			"scale":    to(protocol.ToolScale),
			"copy":     to(protocol.ToolCopy),
			"array":    to(protocol.ToolArray),
		},
		protocol.ToolPartDesignOperations: {
			"sketch":  to(protocol.ToolCreateSketch),
			"pad":     to(protocol.ToolPad),
			"pocket":  to(protocol.ToolPocket),
			"fillet":  to(protocol.ToolFillet),
			"chamfer": to(protocol.ToolChamfer),
			"hole":    to(protocol.ToolHole),
		},
		protocol.ToolViewControl: {
			"screenshot":         to(protocol.ToolScreenshot),
			"set_view":           to(protocol.ToolSetView),
			"fit_all":            to(protocol.ToolFitAll),
			"zoom_in":            {tool: protocol.ToolZoom, preset: map[string]any{"direction": "in"}},
			"zoom_out":           {tool: protocol.ToolZoom, preset: map[string]any{"direction": "out"}},
			"create_document":    to(protocol.ToolNewDocument),
			"save_document":      to(protocol.ToolSaveDocument),
			"list_objects":       to(protocol.ToolListObjects),
			"select_object":      to(protocol.ToolSelectObject),
			"clear_selection":    to(protocol.ToolClearSelection),
			"get_selection":      to(protocol.ToolGetSelection),
			"hide_object":        to(protocol.ToolHideObject),
			"show_object":        to(protocol.ToolShowObject),
			"delete_object":      to(protocol.ToolDeleteObject),
			"undo":               to(protocol.ToolUndo),
			"redo":               to(protocol.ToolRedo),
			"activate_workbench": to(protocol.ToolActivateWorkbench),
		},
	}
}

// Operations lists the operations of a grouped tool, sorted. It returns nil
// for flat tools.
func Operations(tool string) []string {
	table := smartTables()[tool]
	if table == nil {
		return nil
	}
	out := make([]string, 0, len(table))
	for op := range table {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) smartHandlers() []Handler {
	tables := smartTables()
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Handler, 0, len(names))
	for _, name := range names {
		out = append(out, d.smart(name, tables[name]))
	}
	return out
}

// smart builds a grouped tool. The operation argument picks the flat tool;
// the remaining arguments pass through unchanged.
func (d *Dispatcher) smart(name string, table map[string]opRoute) Handler {
	return Handler{
		Name: name,
		Validate: func(args Args) (any, error) {
			op := strings.TrimSpace(args.String(protocol.ArgOperation))
			if op == "" {
				return nil, protocol.Errorf(protocol.KindInvalidArgs,
					"%s is required for %s (one of: %s)", protocol.ArgOperation, name, strings.Join(Operations(name), ", "))
			}
			r, ok := table[op]
			if !ok {
				return nil, protocol.Errorf(protocol.KindRouting, "unknown operation for %s: %s", name, op)
			}
			return r, nil
		},
		Execute: func(ctx context.Context, params any, args Args) (any, error) {
			r, ok := params.(opRoute)
			if !ok {
				return nil, fmt.Errorf("%s: unexpected parameter type %T", name, params)
			}
			forwarded := make(Args, len(args)+len(r.preset))
			for k, v := range args {
				if k == protocol.ArgOperation {
					continue
				}
				forwarded[k] = v
			}
			for k, v := range r.preset {
				forwarded[k] = v
			}
			return d.route(ctx, r.tool, forwarded), nil
		},
	}
}
