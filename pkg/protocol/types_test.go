package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"cadbridge/pkg/protocol"
)

func TestResponse_MarshalOK(t *testing.T) {
	resp := protocol.OK("Created box: Box (10x10x10mm) at (0,0,0)")
	resp.ID = "r1"

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"r1","success":true,"result":"Created box: Box (10x10x10mm) at (0,0,0)"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestResponse_MarshalError(t *testing.T) {
	resp := protocol.Fail(protocol.Errorf(protocol.KindRouting, "unknown tool: %s", "nope"))

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"success":false,"error":"unknown tool: nope","error_kind":"routing"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestResponse_MarshalAwaiting(t *testing.T) {
	resp := protocol.Suspend(protocol.Awaiting{
		OperationID:   "op-1",
		SelectionType: protocol.SelectEdges,
		Message:       "Select edges on Box",
		ObjectName:    "Box",
	})

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if strings.Contains(s, "success") {
		t.Errorf("awaiting shape must not carry success: %s", s)
	}
	for _, frag := range []string{
		`"status":"awaiting_selection"`,
		`"operation_id":"op-1"`,
		`"selection_type":"edges"`,
		`"object_name":"Box"`,
	} {
		if !strings.Contains(s, frag) {
			t.Errorf("missing %s in %s", frag, s)
		}
	}
}

func TestResponse_UnmarshalShapes(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantOK   bool
		wantKind protocol.ErrorKind
		wantWait bool
		wantText string
	}{
		{"ok string", `{"success":true,"result":"done"}`, true, "", false, "done"},
		{"ok struct", `{"success":true,"result":{"n":1}}`, true, "", false, `{"n":1}`},
		{"error with kind", `{"success":false,"error":"gone","error_kind":"not_found"}`, false, protocol.KindNotFound, false, "gone"},
		{"error without kind", `{"success":false,"error":"boom"}`, false, protocol.KindDownstream, false, "boom"},
		{"awaiting", `{"status":"awaiting_selection","operation_id":"x","selection_type":"faces","message":"pick","object_name":"Box"}`, false, "", true, "pick"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r protocol.Response
			if err := json.Unmarshal([]byte(tt.in), &r); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if r.IsOK() != tt.wantOK {
				t.Errorf("IsOK = %v, want %v", r.IsOK(), tt.wantOK)
			}
			if tt.wantKind != "" && (r.Err == nil || r.Err.Kind != tt.wantKind) {
				t.Errorf("error kind = %+v, want %s", r.Err, tt.wantKind)
			}
			if (r.Awaiting != nil) != tt.wantWait {
				t.Errorf("awaiting = %+v, want %v", r.Awaiting, tt.wantWait)
			}
			if got := r.Text(); got != tt.wantText {
				t.Errorf("Text() = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestResponse_UnmarshalRejectsUnknownShape(t *testing.T) {
	var r protocol.Response
	if err := json.Unmarshal([]byte(`{"hello":"world"}`), &r); err == nil {
		t.Fatal("expected error for frame with neither success nor status")
	}
}

func TestSelectionKind(t *testing.T) {
	if !protocol.SelectEdges.Valid() || protocol.SelectionKind("vertices").Valid() {
		t.Error("Valid() misclassifies kinds")
	}
	if protocol.SelectFaces.Prefix() != "Face" || protocol.SelectObjects.Prefix() != "" {
		t.Error("Prefix() mismatch")
	}
}
