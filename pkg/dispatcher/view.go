package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"cadbridge/pkg/protocol"
	"cadbridge/pkg/surface"
)

type documentParams struct {
	Name         string `json:"name"`
	DocumentName string `json:"document_name"`
}

type saveParams struct {
	Filename string `json:"filename"`
}

type workbenchParams struct {
	WorkbenchName string `json:"workbench_name" validate:"required"`
}

type viewParams struct {
	ViewType string `json:"view_type"`
}

type zoomParams struct {
	Direction string  `json:"direction" validate:"oneof=in out"`
	Factor    float64 `json:"factor" validate:"gt=1,lte=10"`
}

type screenshotParams struct {
	Width  int `json:"width" validate:"gt=0,lte=4096"`
	Height int `json:"height" validate:"gt=0,lte=4096"`
}

type selectParams struct {
	ObjectName  string   `json:"object_name" validate:"required"`
	DocName     string   `json:"doc_name"`
	SubElements []string `json:"sub_elements"`
}

// Screenshot is the get_screenshot result.
type Screenshot struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (d *Dispatcher) viewHandlers() []Handler {
	return []Handler{
		typed(protocol.ToolNewDocument, func() documentParams { return documentParams{} }, d.newDocument),
		typed(protocol.ToolSaveDocument, func() saveParams { return saveParams{} }, d.saveDocument),
		typed(protocol.ToolActivateWorkbench, func() workbenchParams { return workbenchParams{} }, d.activateWorkbench),
		typed(protocol.ToolSetView, func() viewParams {
			return viewParams{ViewType: "isometric"}
		}, d.setView),
		typed(protocol.ToolFitAll, none, d.fitAll),
		typed(protocol.ToolZoom, func() zoomParams {
			return zoomParams{Direction: "in", Factor: 1.5}
		}, d.zoom),
		typed(protocol.ToolScreenshot, func() screenshotParams {
			return screenshotParams{Width: 800, Height: 600}
		}, d.screenshot),
		typed(protocol.ToolSelectObject, func() selectParams { return selectParams{} }, d.selectObject),
		typed(protocol.ToolClearSelection, none, d.clearSelection),
		typed(protocol.ToolGetSelection, none, d.getSelection),
		typed(protocol.ToolHideObject, func() objectParams { return objectParams{} }, d.visibility(false)),
		typed(protocol.ToolShowObject, func() objectParams { return objectParams{} }, d.visibility(true)),
		typed(protocol.ToolDeleteObject, func() objectParams { return objectParams{} }, d.deleteObject),
		typed(protocol.ToolUndo, none, d.undo),
		typed(protocol.ToolRedo, none, d.redo),
	}
}

func (d *Dispatcher) newDocument(ctx context.Context, p documentParams, _ Args) (any, error) {
	name := p.Name
	if name == "" {
		name = p.DocumentName
	}
	if name == "" {
		name = d.cfg.DefaultDocument
	}
	created, err := d.eng.NewDocument(ctx, name)
	if err != nil {
		return nil, err
	}
	return "Created new document: " + created, nil
}

func (d *Dispatcher) saveDocument(ctx context.Context, p saveParams, _ Args) (any, error) {
	doc, err := d.requireDocument(ctx)
	if err != nil {
		return nil, err
	}
	path, err := d.eng.SaveDocument(ctx, p.Filename)
	if err != nil {
		return nil, err
	}
	if p.Filename == "" {
		return fmt.Sprintf("Document saved: %s (%s)", doc, path), nil
	}
	return "Document saved as: " + path, nil
}

func (d *Dispatcher) activateWorkbench(ctx context.Context, p workbenchParams, _ Args) (any, error) {
	if err := d.surf.ActivateWorkbench(ctx, p.WorkbenchName); err != nil {
		return nil, err
	}
	return "Activated workbench: " + p.WorkbenchName, nil
}

func (d *Dispatcher) setView(ctx context.Context, p viewParams, _ Args) (any, error) {
	view := strings.ToLower(p.ViewType)
	if err := d.surf.SetView(ctx, view); err != nil {
		return nil, err
	}
	return "View set to: " + view, nil
}

func (d *Dispatcher) fitAll(ctx context.Context, _ noParams, _ Args) (any, error) {
	if err := d.surf.FitAll(ctx); err != nil {
		return nil, err
	}
	return "View fitted to all objects", nil
}

func (d *Dispatcher) zoom(ctx context.Context, p zoomParams, _ Args) (any, error) {
	factor := p.Factor
	if p.Direction == "out" {
		factor = 1 / factor
	}
	if err := d.surf.Zoom(ctx, factor); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Zoomed %s (x%s)", p.Direction, num(p.Factor)), nil
}

func (d *Dispatcher) screenshot(ctx context.Context, p screenshotParams, _ Args) (any, error) {
	if _, ok := d.eng.ActiveDocument(ctx); !ok {
		return nil, protocol.Errorf(protocol.KindPrecondition, "No active document for screenshot")
	}
	img, err := d.surf.Screenshot(ctx, p.Width, p.Height)
	if err != nil {
		return nil, err
	}
	return Screenshot{
		Image:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
		Width:  p.Width,
		Height: p.Height,
	}, nil
}

func (d *Dispatcher) selectObject(ctx context.Context, p selectParams, _ Args) (any, error) {
	doc := p.DocName
	if doc == "" {
		active, err := d.requireDocument(ctx)
		if err != nil {
			return nil, err
		}
		doc = active
	}
	if _, err := d.eng.Object(ctx, p.ObjectName); err != nil {
		return nil, err
	}
	el := surface.Element{Document: doc, Object: p.ObjectName, SubElements: p.SubElements}
	if err := d.surf.Select(ctx, el); err != nil {
		return nil, err
	}
	if len(p.SubElements) > 0 {
		return fmt.Sprintf("Selected object: %s (%s)", p.ObjectName, strings.Join(p.SubElements, ", ")), nil
	}
	return "Selected object: " + p.ObjectName, nil
}

func (d *Dispatcher) clearSelection(ctx context.Context, _ noParams, _ Args) (any, error) {
	if err := d.surf.Clear(ctx); err != nil {
		return nil, err
	}
	return "Selection cleared", nil
}

func (d *Dispatcher) getSelection(ctx context.Context, _ noParams, _ Args) (any, error) {
	sel, err := d.surf.Current(ctx)
	if err != nil {
		return nil, err
	}
	if sel == nil {
		sel = []surface.Element{}
	}
	return sel, nil
}

func (d *Dispatcher) visibility(visible bool) func(context.Context, objectParams, Args) (any, error) {
	return func(ctx context.Context, p objectParams, _ Args) (any, error) {
		if _, err := d.requireDocument(ctx); err != nil {
			return nil, err
		}
		if err := d.eng.SetVisibility(ctx, p.ObjectName, visible); err != nil {
			return nil, err
		}
		if visible {
			return "Shown object: " + p.ObjectName, nil
		}
		return "Hidden object: " + p.ObjectName, nil
	}
}

func (d *Dispatcher) deleteObject(ctx context.Context, p objectParams, _ Args) (any, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	if err := d.eng.Remove(ctx, p.ObjectName); err != nil {
		return nil, err
	}
	return "Deleted object: " + p.ObjectName, nil
}

func (d *Dispatcher) undo(ctx context.Context, _ noParams, _ Args) (any, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	if err := d.eng.Undo(ctx); err != nil {
		return nil, err
	}
	return "Undo completed", nil
}

func (d *Dispatcher) redo(ctx context.Context, _ noParams, _ Args) (any, error) {
	if _, err := d.requireDocument(ctx); err != nil {
		return nil, err
	}
	if err := d.eng.Redo(ctx); err != nil {
		return nil, err
	}
	return "Redo completed", nil
}
