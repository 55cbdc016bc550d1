package dispatcher

import (
	"context"
	"time"

	"cadbridge/pkg/protocol"
	"cadbridge/pkg/selection"
)

type continueParams struct {
	OperationID string `json:"operation_id" validate:"required"`
}

type codeParams struct {
	Code string `json:"code" validate:"required"`
}

type agentParams struct {
	Request string `json:"request" validate:"required"`
}

// PendingSelection is one entry of list_pending_selections.
type PendingSelection struct {
	OperationID   string                 `json:"operation_id"`
	Tool          string                 `json:"tool"`
	SelectionType protocol.SelectionKind `json:"selection_type"`
	ObjectName    string                 `json:"object_name"`
	AgeSeconds    float64                `json:"age_seconds"`
	ExpiresIn     float64                `json:"expires_in_seconds"`
}

// Status is the server_status result.
type Status struct {
	Version           string   `json:"version"`
	UptimeSeconds     float64  `json:"uptime_seconds"`
	ActiveDocument    string   `json:"active_document,omitempty"`
	Objects           int      `json:"objects"`
	PendingSelections int      `json:"pending_selections"`
	CodeExecution     bool     `json:"code_execution"`
	Agent             bool     `json:"agent"`
	Journal           bool     `json:"journal"`
	Tools             []string `json:"tools"`
}

func (d *Dispatcher) sessionHandlers() []Handler {
	return []Handler{
		typed(protocol.ToolContinueSelection, func() continueParams { return continueParams{} }, d.continueSelection),
		typed(protocol.ToolPendingSelections, none, d.pendingSelections),
		typed(protocol.ToolExecuteCode, func() codeParams { return codeParams{} }, d.executeCode),
		typed(protocol.ToolAgent, func() agentParams { return agentParams{} }, d.runAgent),
		typed(protocol.ToolServerStatus, none, d.serverStatus),
	}
}

// continueSelection completes a parked operation and finishes the tool
// that parked it. Operations parked by a tool without a resume function
// return the raw selection.
func (d *Dispatcher) continueSelection(ctx context.Context, p continueParams, _ Args) (any, error) {
	res, err := d.sel.Complete(ctx, p.OperationID)
	if err != nil {
		return nil, err
	}
	resume, ok := d.resumers[res.Operation.Tool]
	if !ok {
		return map[string]selection.Result{"selection_data": res}, nil
	}
	return resume(ctx, Args(res.Operation.Extra), res)
}

func (d *Dispatcher) pendingSelections(_ context.Context, _ noParams, _ Args) (any, error) {
	now := d.nowFunc()
	maxAge := d.sel.MaxAge()
	ops := d.sel.Pending()
	out := make([]PendingSelection, 0, len(ops))
	for _, op := range ops {
		age := now.Sub(op.CreatedAt)
		out = append(out, PendingSelection{
			OperationID:   op.ID,
			Tool:          op.Tool,
			SelectionType: op.Kind,
			ObjectName:    op.Target,
			AgeSeconds:    age.Round(time.Millisecond).Seconds(),
			ExpiresIn:     max(0, (maxAge - age).Round(time.Millisecond).Seconds()),
		})
	}
	return out, nil
}

func (d *Dispatcher) executeCode(ctx context.Context, p codeParams, _ Args) (any, error) {
	if d.code == nil {
		return nil, protocol.Errorf(protocol.KindPrecondition, "code execution is not available on this server")
	}
	res, err := d.code.Run(ctx, p.Code)
	if err != nil {
		return nil, err
	}
	return res.Text(), nil
}

func (d *Dispatcher) runAgent(ctx context.Context, p agentParams, _ Args) (any, error) {
	d.agentMu.RLock()
	a := d.agent
	d.agentMu.RUnlock()
	if a == nil {
		return nil, protocol.Errorf(protocol.KindPrecondition, "AI agent is not configured")
	}
	return a.Run(ctx, p.Request)
}

func (d *Dispatcher) serverStatus(ctx context.Context, _ noParams, _ Args) (any, error) {
	st := Status{
		Version:           d.cfg.Version,
		UptimeSeconds:     d.nowFunc().Sub(d.startedAt).Round(time.Second).Seconds(),
		PendingSelections: d.sel.Len(),
		Journal:           d.journal != nil,
		Tools:             d.Tools(),
	}
	if r, ok := d.code.(interface{ Enabled() bool }); ok {
		st.CodeExecution = r.Enabled()
	} else {
		st.CodeExecution = d.code != nil
	}
	d.agentMu.RLock()
	st.Agent = d.agent != nil
	d.agentMu.RUnlock()
	if doc, ok := d.eng.ActiveDocument(ctx); ok {
		st.ActiveDocument = doc
		if objs, err := d.eng.Objects(ctx); err == nil {
			st.Objects = len(objs)
		}
	}
	return st, nil
}
