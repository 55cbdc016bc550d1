package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is one line of the internal protocol: a tool name plus its
// argument bag. ID is an optional correlation id echoed on the response so
// several requests can share a connection.
type Request struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// StatusAwaitingSelection marks a suspended command on the wire.
const StatusAwaitingSelection = "awaiting_selection"

// Awaiting describes a command parked until a human selects viewport elements.
type Awaiting struct {
	OperationID   string        `json:"operation_id"`
	SelectionType SelectionKind `json:"selection_type"`
	Message       string        `json:"message"`
	ObjectName    string        `json:"object_name"`
}

// Response is the envelope every dispatch produces. Exactly one of the three
// variants is set: a result (Ok), Err, or Awaiting.
type Response struct {
	ID       string
	Result   any
	Err      *Error
	Awaiting *Awaiting
}

// OK wraps a successful result, a string or any JSON-encodable value.
func OK(result any) Response {
	return Response{Result: result}
}

// Fail wraps err in an error envelope. Untagged errors become downstream faults.
func Fail(err error) Response {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindDownstream, Message: err.Error(), Err: err}
	}
	return Response{Err: e}
}

// Suspend returns the awaiting-selection envelope.
func Suspend(a Awaiting) Response {
	return Response{Awaiting: &a}
}

// IsOK reports whether r is a completed success.
func (r Response) IsOK() bool {
	return r.Err == nil && r.Awaiting == nil
}

// Text renders the Ok payload as text. Strings pass through; structured
// results are JSON-encoded. Error and awaiting envelopes render their message.
func (r Response) Text() string {
	switch {
	case r.Err != nil:
		return r.Err.Message
	case r.Awaiting != nil:
		return r.Awaiting.Message
	}
	if s, ok := r.Result.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Sprintf("%v", r.Result)
	}
	return string(b)
}

type wireResponse struct {
	ID        string          `json:"id,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`

	Status        string        `json:"status,omitempty"`
	OperationID   string        `json:"operation_id,omitempty"`
	SelectionType SelectionKind `json:"selection_type,omitempty"`
	Message       string        `json:"message,omitempty"`
	ObjectName    string        `json:"object_name,omitempty"`
}

// MarshalJSON emits exactly one of the three wire shapes.
func (r Response) MarshalJSON() ([]byte, error) {
	w := wireResponse{ID: r.ID}
	switch {
	case r.Awaiting != nil:
		w.Status = StatusAwaitingSelection
		w.OperationID = r.Awaiting.OperationID
		w.SelectionType = r.Awaiting.SelectionType
		w.Message = r.Awaiting.Message
		w.ObjectName = r.Awaiting.ObjectName
	case r.Err != nil:
		f := false
		w.Success = &f
		w.Error = r.Err.Message
		w.ErrorKind = r.Err.Kind
	default:
		t := true
		w.Success = &t
		raw, err := json.Marshal(r.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		w.Result = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts any of the three wire shapes. A frame that matches
// none of them is rejected.
func (r *Response) UnmarshalJSON(data []byte) error {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Response{ID: w.ID}
	switch {
	case w.Status == StatusAwaitingSelection:
		r.Awaiting = &Awaiting{
			OperationID:   w.OperationID,
			SelectionType: w.SelectionType,
			Message:       w.Message,
			ObjectName:    w.ObjectName,
		}
	case w.Success == nil:
		return errors.New("response has neither success nor status")
	case !*w.Success:
		kind := w.ErrorKind
		if kind == "" {
			kind = KindDownstream
		}
		r.Err = &Error{Kind: kind, Message: w.Error}
	default:
		if len(w.Result) > 0 {
			var v any
			if err := json.Unmarshal(w.Result, &v); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			r.Result = v
		}
	}
	return nil
}
