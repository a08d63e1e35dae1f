package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// BinaryCodec serializes a value graph with a length-prefixed tagged scheme:
// one type tag byte per value, big-endian fixed-width scalars, and u32 length
// prefixes for strings, blobs, lists, and maps. Blob bytes are carried
// verbatim, so binary fidelity holds by construction.
type BinaryCodec struct{}

const (
	tagNil    byte = 0x00
	tagFalse  byte = 0x01
	tagTrue   byte = 0x02
	tagInt    byte = 0x03
	tagFloat  byte = 0x04
	tagString byte = 0x05
	tagBlob   byte = 0x06
	tagList   byte = 0x07
	tagMap    byte = 0x08
)

var errShortValue = errors.New("codec: truncated binary value")

func (BinaryCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (BinaryCodec) Decode(data []byte) (any, error) {
	v, rest, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("codec: %d trailing bytes after value", len(rest))
	}
	return v, nil
}

func (BinaryCodec) Type() Type {
	return TypeBinary
}

func encodeValue(buf *bytes.Buffer, v any) error {
	if n, ok, err := normalizeInt(v); ok {
		if err != nil {
			return err
		}
		buf.WriteByte(tagInt)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		buf.Write(b[:])
		return nil
	}

	switch x := v.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case bool:
		if x {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case float32:
		return encodeValue(buf, float64(x))
	case float64:
		buf.WriteByte(tagFloat)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(x))
		buf.Write(b[:])
	case string:
		buf.WriteByte(tagString)
		writeLen(buf, len(x))
		buf.WriteString(x)
	case []byte:
		buf.WriteByte(tagBlob)
		writeLen(buf, len(x))
		buf.Write(x)
	case []any:
		buf.WriteByte(tagList)
		writeLen(buf, len(x))
		for _, item := range x {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
	case map[string]any:
		buf.WriteByte(tagMap)
		writeLen(buf, len(x))
		// Sorted keys keep the encoding deterministic.
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeLen(buf, len(k))
			buf.WriteString(k)
			if err := encodeValue(buf, x[k]); err != nil {
				return err
			}
		}
	default:
		return unsupported(v)
	}
	return nil
}

func writeLen(buf *bytes.Buffer, n int) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	buf.Write(b[:])
}

func decodeValue(data []byte) (any, []byte, error) {
	if len(data) < 1 {
		return nil, nil, errShortValue
	}
	tag, rest := data[0], data[1:]

	switch tag {
	case tagNil:
		return nil, rest, nil
	case tagFalse:
		return false, rest, nil
	case tagTrue:
		return true, rest, nil
	case tagInt:
		if len(rest) < 8 {
			return nil, nil, errShortValue
		}
		return int64(binary.BigEndian.Uint64(rest[:8])), rest[8:], nil
	case tagFloat:
		if len(rest) < 8 {
			return nil, nil, errShortValue
		}
		return math.Float64frombits(binary.BigEndian.Uint64(rest[:8])), rest[8:], nil
	case tagString:
		b, rest, err := readChunk(rest)
		if err != nil {
			return nil, nil, err
		}
		return string(b), rest, nil
	case tagBlob:
		b, rest, err := readChunk(rest)
		if err != nil {
			return nil, nil, err
		}
		// Copy so the decoded blob does not alias the frame buffer.
		blob := make([]byte, len(b))
		copy(blob, b)
		return blob, rest, nil
	case tagList:
		n, rest, err := readLen(rest)
		if err != nil {
			return nil, nil, err
		}
		// Every element costs at least one byte, so a count beyond the
		// remaining bytes is corrupt. Checked before the allocation so a
		// hostile count cannot force one.
		if n > len(rest) {
			return nil, nil, errShortValue
		}
		list := make([]any, 0, n)
		for i := 0; i < n; i++ {
			var item any
			item, rest, err = decodeValue(rest)
			if err != nil {
				return nil, nil, err
			}
			list = append(list, item)
		}
		return list, rest, nil
	case tagMap:
		n, rest, err := readLen(rest)
		if err != nil {
			return nil, nil, err
		}
		if n > len(rest) {
			return nil, nil, errShortValue
		}
		m := make(map[string]any, n)
		for i := 0; i < n; i++ {
			var kb []byte
			kb, rest, err = readChunk(rest)
			if err != nil {
				return nil, nil, err
			}
			var val any
			val, rest, err = decodeValue(rest)
			if err != nil {
				return nil, nil, err
			}
			m[string(kb)] = val
		}
		return m, rest, nil
	default:
		return nil, nil, fmt.Errorf("codec: unknown type tag 0x%02x", tag)
	}
}

func readLen(data []byte) (int, []byte, error) {
	if len(data) < 4 {
		return 0, nil, errShortValue
	}
	n := binary.BigEndian.Uint32(data[:4])
	return int(n), data[4:], nil
}

func readChunk(data []byte) ([]byte, []byte, error) {
	n, rest, err := readLen(data)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) < n {
		return nil, nil, errShortValue
	}
	return rest[:n], rest[n:], nil
}
