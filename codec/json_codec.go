package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// blobKey tags binary blob values inside JSON documents. A decoded object
// holding exactly this one key with a string value is restored to []byte.
const blobKey = "$blob"

// JSONCodec serializes the value graph as JSON. Blobs cannot ride in JSON
// directly, so they are wrapped as {"$blob": "<base64>"} on encode and
// restored to []byte on decode — never left as a string, never exploded into
// an indexed map of bytes.
//
// JSON has a single number type. Decode restores integral numbers as int64
// and everything else as float64, which matches the protocol's integer ids
// and SQLite's numeric affinity; a whole-valued float therefore comes back
// as an int64.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	wrapped, err := wrapBlobs(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapped)
}

func (JSONCodec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("codec: invalid JSON payload: %w", err)
	}
	return restore(v)
}

func (JSONCodec) Type() Type {
	return TypeJSON
}

func wrapBlobs(v any) (any, error) {
	if n, ok, err := normalizeInt(v); ok {
		return n, err
	}
	switch x := v.(type) {
	case nil, bool, float64, string:
		return v, nil
	case float32:
		return float64(x), nil
	case []byte:
		return map[string]any{blobKey: base64.StdEncoding.EncodeToString(x)}, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			w, err := wrapBlobs(item)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			w, err := wrapBlobs(item)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		return out, nil
	default:
		return nil, unsupported(v)
	}
}

func restore(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	case []any:
		for i, item := range x {
			r, err := restore(item)
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil
	case map[string]any:
		if enc, ok := x[blobKey].(string); ok && len(x) == 1 {
			blob, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return nil, fmt.Errorf("codec: invalid blob encoding: %w", err)
			}
			return blob, nil
		}
		for k, item := range x {
			r, err := restore(item)
			if err != nil {
				return nil, err
			}
			x[k] = r
		}
		return x, nil
	default:
		return v, nil
	}
}
