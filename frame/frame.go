// Package frame turns an unbounded duplex byte stream into discrete messages.
//
// It solves the classic stream-has-no-boundaries problem with a length prefix:
// every frame is a 4-byte big-endian unsigned payload length followed by
// exactly that many payload bytes. The reader reads the full prefix and then
// the full payload before interpreting anything; io.ReadFull performs however
// many underlying reads that takes, so correctness never depends on how the
// stream chunks bytes.
//
//	0        4
//	┌────────┬────────────────┐
//	│ length │   payload ...  │
//	│ uint32 │  length bytes  │
//	└────────┴────────────────┘
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPayload bounds a single frame's payload so a corrupted or hostile length
// prefix cannot force a multi-gigabyte allocation. Frames above this size are
// a protocol violation, fatal to the connection.
const MaxPayload = 64 << 20 // 64 MiB

var (
	// ErrTruncated reports a stream that closed after a partial header or
	// partial payload. Fatal for the connection, not retryable.
	ErrTruncated = errors.New("frame: stream truncated mid-frame")

	// ErrTooLarge reports a length prefix above MaxPayload.
	ErrTooLarge = errors.New("frame: payload exceeds maximum size")
)

// Write writes a complete frame (length prefix + payload) to w.
// The length is computed from the serialized byte count, never from any
// logical message size. Callers sharing w across goroutines must serialize
// calls, otherwise frames interleave and corrupt the stream.
func Write(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// Read reads one complete frame from r and returns its payload.
//
// A stream that closes before the first header byte of a new frame is a clean
// shutdown and returns io.EOF. A stream that closes after a partial header or
// partial payload returns ErrTruncated.
func Read(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxPayload {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return payload, nil
}
