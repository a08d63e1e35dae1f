package message

import (
	"reflect"
	"testing"
)

func TestWireRequestRoundTrip(t *testing.T) {
	f := NewRequest(7, "query", []any{"SELECT 1", []any{int64(5)}})
	got, err := FromWire(f.ToWire())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if !reflect.DeepEqual(got, f) {
		t.Errorf("got %#v, want %#v", got, f)
	}
}

func TestWireRequestEmptyArgs(t *testing.T) {
	w := NewRequest(1, "ping", nil).ToWire()
	args, ok := w["args"].([]any)
	if !ok || len(args) != 0 {
		t.Errorf("expected empty args list on the wire, got %#v", w["args"])
	}
}

func TestWireResponses(t *testing.T) {
	okFrame, err := FromWire(NewResult(3, int64(9)).ToWire())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if !okFrame.Success || okFrame.Data != int64(9) {
		t.Errorf("success response mangled: %#v", okFrame)
	}

	// A nil result still travels as a success response.
	nilFrame, err := FromWire(NewResult(4, nil).ToWire())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if !nilFrame.Success || nilFrame.Data != nil {
		t.Errorf("nil-result response mangled: %#v", nilFrame)
	}

	failFrame, err := FromWire(NewFault(5, "[open] no such file").ToWire())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if failFrame.Success || failFrame.Error != "[open] no such file" {
		t.Errorf("failure response mangled: %#v", failFrame)
	}
}

func TestFromWireRejectsMalformed(t *testing.T) {
	cases := []any{
		"not a map",
		map[string]any{"method": "ping"},                // no id
		map[string]any{"id": "seven", "method": "ping"}, // non-integer id
		map[string]any{"id": int64(1)},                  // neither request nor response
		map[string]any{"id": 1.5, "method": "ping"},     // fractional id
	}
	for i, c := range cases {
		if _, err := FromWire(c); err == nil {
			t.Errorf("case %d: expected error, got nil", i)
		}
	}
}

func TestGenericRoundTrip(t *testing.T) {
	frames := []*Frame{
		NewRequest(11, "exec", []any{"DELETE FROM t"}),
		NewResult(11, map[string]any{"changes": int64(2)}),
		NewFault(12, "Unknown method: frobnicate"),
	}
	for i, f := range frames {
		got, err := FromGeneric(f.ToGeneric())
		if err != nil {
			t.Fatalf("frame %d: FromGeneric failed: %v", i, err)
		}
		if !reflect.DeepEqual(got, f) {
			t.Errorf("frame %d: got %#v, want %#v", i, got, f)
		}
	}
}

func TestFromGenericUnknownKind(t *testing.T) {
	_, err := FromGeneric(map[string]any{"kind": "stream", "messageId": int64(1)})
	if err == nil {
		t.Error("expected error for unknown kind, got nil")
	}
}

func TestAsInt64(t *testing.T) {
	if n, ok := AsInt64(float64(30)); !ok || n != 30 {
		t.Errorf("whole float should convert, got %v %v", n, ok)
	}
	if _, ok := AsInt64(1.5); ok {
		t.Error("fractional float must not convert")
	}
	if _, ok := AsInt64("7"); ok {
		t.Error("string must not convert")
	}
}
