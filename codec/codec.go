// Package codec converts a message value graph to and from a byte payload.
//
// The value domain is deliberately small: nil, bool, int64, float64, string,
// []byte (blob), []any, and map[string]any. Integers of other widths are
// normalized to int64 on encode, so a decoded graph compares equal to the
// encoded one.
//
// Raw binary blobs are a first-class value, kept distinct from text. Generic
// serializers routinely corrupt binary data by reinterpreting it as text or
// as an indexed object; both codecs here carry an explicit, tested blob path
// so a decoded blob is bit-identical to the one encoded and stays typed as
// []byte.
package codec

import "fmt"

type Type byte

const (
	TypeBinary Type = 0
	TypeJSON   Type = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
	Type() Type
}

// Get returns the codec for the given wire type.
func Get(t Type) Codec {
	if t == TypeJSON {
		return JSONCodec{}
	}
	return BinaryCodec{}
}

func unsupported(v any) error {
	return fmt.Errorf("codec: unsupported value type %T", v)
}

// normalizeInt widens any Go integer to int64 so the value domain stays
// closed under round-trips. Unsigned values above math.MaxInt64 do not fit.
func normalizeInt(v any) (int64, bool, error) {
	switch x := v.(type) {
	case int:
		return int64(x), true, nil
	case int8:
		return int64(x), true, nil
	case int16:
		return int64(x), true, nil
	case int32:
		return int64(x), true, nil
	case int64:
		return x, true, nil
	case uint:
		return int64(x), true, nil
	case uint8:
		return int64(x), true, nil
	case uint16:
		return int64(x), true, nil
	case uint32:
		return int64(x), true, nil
	case uint64:
		if x > 1<<63-1 {
			return 0, true, fmt.Errorf("codec: uint64 value %d overflows int64", x)
		}
		return int64(x), true, nil
	default:
		return 0, false, nil
	}
}
