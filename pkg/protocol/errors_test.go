package protocol_test

import (
	"errors"
	"fmt"
	"testing"

	"cadbridge/pkg/protocol"
)

func TestError_ErrorsAsThroughWrapping(t *testing.T) {
	base := protocol.Errorf(protocol.KindNotFound, "Object not found: %s", "Box")
	wrapped := fmt.Errorf("fillet: %w", base)

	var target *protocol.Error
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to extract *protocol.Error")
	}
	if target.Kind != protocol.KindNotFound {
		t.Errorf("kind = %s, want not_found", target.Kind)
	}
	if base.Error() != "Object not found: Box" {
		t.Errorf("message altered: %q", base.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.ErrorKind
	}{
		{nil, ""},
		{errors.New("plain"), protocol.KindDownstream},
		{protocol.NoActiveDocument(), protocol.KindPrecondition},
		{protocol.Wrap(protocol.KindTransport, errors.New("refused"), "dial"), protocol.KindTransport},
	}
	for _, tt := range tests {
		if got := protocol.KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := protocol.Wrap(protocol.KindTransport, cause, "dial /tmp/x.sock")
	if !errors.Is(err, cause) {
		t.Error("Wrap lost the cause")
	}
	if err.Error() != "dial /tmp/x.sock: connection refused" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestFail_UntaggedBecomesDownstream(t *testing.T) {
	r := protocol.Fail(errors.New("kernel exploded"))
	if r.Err == nil || r.Err.Kind != protocol.KindDownstream {
		t.Fatalf("got %+v", r.Err)
	}
}
