// Package stdio adapts the framing/codec pair onto a subprocess's standard
// input/output pipes.
//
// Outbound frames are encoded then length-prefix written under a write mutex,
// so concurrent senders never interleave bytes. A single background read loop
// reassembles incoming frames and hands them to the endpoint — reads must be
// sequential on a byte stream, so there is exactly one reader.
//
// A clean EOF is a peer shutdown; a truncated frame, an oversize length, or a
// payload that fails to decode is fatal for the connection. Either way the
// close handler fires exactly once so every pending call can be failed rather
// than left hanging.
package stdio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"sqlbridge/codec"
	"sqlbridge/frame"
	"sqlbridge/message"
)

// ErrConnectionClosed is the terminal cause handed to pending calls when the
// peer goes away.
var ErrConnectionClosed = errors.New("connection closed")

type FrameHandler func(*message.Frame)

type CloseHandler func(error)

// Transport carries frames over a reader/writer pair, typically the stdio
// pipes of a child process.
type Transport struct {
	r   io.Reader
	w   io.Writer
	c   codec.Codec
	log *slog.Logger

	writeMu sync.Mutex
	onFrame FrameHandler
	onClose CloseHandler

	closeOnce sync.Once
}

func New(r io.Reader, w io.Writer, c codec.Codec, log *slog.Logger) *Transport {
	return &Transport{r: r, w: w, c: c, log: log}
}

// OnFrame sets the incoming-frame handler. Must be set before Start.
func (t *Transport) OnFrame(h FrameHandler) {
	t.onFrame = h
}

// OnClose sets the connection-closed handler. Must be set before Start.
func (t *Transport) OnClose(h CloseHandler) {
	t.onClose = h
}

// Send encodes the frame and writes it as one length-prefixed envelope. Safe
// for concurrent use.
func (t *Transport) Send(f *message.Frame) error {
	payload, err := t.c.Encode(f.ToWire())
	if err != nil {
		return fmt.Errorf("stdio: encode frame: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return frame.Write(t.w, payload)
}

// Start launches the background read loop.
func (t *Transport) Start() {
	go t.readLoop()
}

// Close tears the connection down locally. Idempotent.
func (t *Transport) Close() {
	t.close(ErrConnectionClosed)
}

func (t *Transport) readLoop() {
	for {
		payload, err := frame.Read(t.r)
		if err != nil {
			if err == io.EOF {
				t.close(ErrConnectionClosed)
			} else {
				// Partial frame or corrupt length prefix. No resynchronization
				// is possible on a length-prefixed stream.
				t.close(err)
			}
			return
		}

		v, err := t.c.Decode(payload)
		if err != nil {
			t.fatal(err)
			return
		}
		f, err := message.FromWire(v)
		if err != nil {
			t.fatal(err)
			return
		}
		t.onFrame(f)
	}
}

// fatal reports a protocol-level error the peer cannot attribute to any
// request (id -1, best effort), then closes the connection.
func (t *Transport) fatal(cause error) {
	if err := t.Send(message.NewFault(message.ProtocolErrorID, cause.Error())); err != nil {
		t.log.Debug("could not report protocol error to peer", "error", err)
	}
	t.close(cause)
}

func (t *Transport) close(cause error) {
	t.closeOnce.Do(func() {
		if cause != ErrConnectionClosed {
			t.log.Error("connection failed", "error", cause)
		}
		if c, ok := t.w.(io.Closer); ok {
			_ = c.Close()
		}
		if c, ok := t.r.(io.Closer); ok {
			_ = c.Close()
		}
		if t.onClose != nil {
			t.onClose(cause)
		}
	})
}
