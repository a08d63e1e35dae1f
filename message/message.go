// Package message defines the frame envelope exchanged between the two sides
// of the bridge.
//
// Frame is the in-memory form. On the wire it appears in one of two dialects:
// the compact stdio dialect ({id, method, args} / {id, result | error}) used
// over length-prefixed subprocess pipes, and the generic dialect
// ({kind, messageId, targetMethod, payload} / {kind, messageId, success,
// data, errorMessage}) used over channels that provide their own message
// boundaries. The two differ only in field naming, never in structure.
package message

import "fmt"

type Kind string

const (
	KindInvoke   Kind = "invoke"
	KindResponse Kind = "response"
)

const (
	// NotificationID marks a request frame that expects no reply, such as the
	// worker's startup "ready" message.
	NotificationID int64 = 0

	// ProtocolErrorID marks an error response not attributable to any
	// specific request, such as a malformed incoming frame.
	ProtocolErrorID int64 = -1
)

// Frame carries one cross-boundary call or reply.
//
//   - Kind == KindInvoke: ID, Method, and Args are set.
//   - Kind == KindResponse: ID and Success are set, plus Data on success or
//     Error text on failure.
type Frame struct {
	Kind    Kind
	ID      int64
	Method  string
	Args    []any
	Success bool
	Data    any
	Error   string
}

// NewRequest builds an invoke frame.
func NewRequest(id int64, method string, args []any) *Frame {
	return &Frame{Kind: KindInvoke, ID: id, Method: method, Args: args}
}

// NewResult builds a success response.
func NewResult(id int64, data any) *Frame {
	return &Frame{Kind: KindResponse, ID: id, Success: true, Data: data}
}

// NewFault builds a failure response.
func NewFault(id int64, errText string) *Frame {
	return &Frame{Kind: KindResponse, ID: id, Error: errText}
}

// ToWire renders the frame in the stdio dialect. Requests always carry an
// args list, even when empty, so the peer never sees a missing field.
func (f *Frame) ToWire() map[string]any {
	if f.Kind == KindInvoke {
		args := f.Args
		if args == nil {
			args = []any{}
		}
		return map[string]any{"id": f.ID, "method": f.Method, "args": args}
	}
	if f.Success {
		return map[string]any{"id": f.ID, "result": f.Data}
	}
	return map[string]any{"id": f.ID, "error": f.Error}
}

// FromWire parses a decoded stdio-dialect value back into a frame. A value
// that is not a map or lacks an integer id is a wire error; frame-shape
// errors are fatal to the connection, so callers must not retry.
func FromWire(v any) (*Frame, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("message: wire value is %T, not a map", v)
	}
	id, ok := AsInt64(m["id"])
	if !ok {
		return nil, fmt.Errorf("message: wire message has no integer id")
	}

	if method, ok := m["method"].(string); ok {
		args, _ := m["args"].([]any)
		return NewRequest(id, method, args), nil
	}
	if errText, ok := m["error"].(string); ok {
		return NewFault(id, errText), nil
	}
	if _, has := m["result"]; has {
		return NewResult(id, m["result"]), nil
	}
	return nil, fmt.Errorf("message: wire message has none of method/result/error")
}

// ToGeneric renders the frame in the generic cross-context dialect.
func (f *Frame) ToGeneric() map[string]any {
	if f.Kind == KindInvoke {
		payload := f.Args
		if payload == nil {
			payload = []any{}
		}
		return map[string]any{
			"kind":         string(KindInvoke),
			"messageId":    f.ID,
			"targetMethod": f.Method,
			"payload":      payload,
		}
	}
	return map[string]any{
		"kind":         string(KindResponse),
		"messageId":    f.ID,
		"success":      f.Success,
		"data":         f.Data,
		"errorMessage": f.Error,
	}
}

// FromGeneric parses a decoded generic-dialect value back into a frame.
func FromGeneric(v any) (*Frame, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("message: generic frame is %T, not a map", v)
	}
	id, ok := AsInt64(m["messageId"])
	if !ok {
		return nil, fmt.Errorf("message: generic frame has no integer messageId")
	}

	switch kind, _ := m["kind"].(string); Kind(kind) {
	case KindInvoke:
		method, ok := m["targetMethod"].(string)
		if !ok {
			return nil, fmt.Errorf("message: invoke frame has no targetMethod")
		}
		payload, _ := m["payload"].([]any)
		return NewRequest(id, method, payload), nil
	case KindResponse:
		success, _ := m["success"].(bool)
		if success {
			return NewResult(id, m["data"]), nil
		}
		errText, _ := m["errorMessage"].(string)
		return NewFault(id, errText), nil
	default:
		return nil, fmt.Errorf("message: unknown frame kind %q", kind)
	}
}

// AsInt64 extracts an integer from a decoded wire value. Codecs normalize
// integers to int64, but a float-typed whole number is tolerated since JSON
// carries a single number type.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	}
	return 0, false
}
