package stdio

import (
	"sync"

	"sqlbridge/codec"
	"sqlbridge/message"
)

// ChannelTransport carries frames between two endpoints in the same process
// over a pair of Go channels, the shape a worker-thread or webview channel
// has: the channel itself provides message boundaries, so no length prefix is
// needed, and frames travel in the generic dialect.
type ChannelTransport struct {
	out chan<- []byte
	in  <-chan []byte
	c   codec.Codec

	onFrame FrameHandler
	onClose CloseHandler

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Pair returns two connected channel transports. Frames sent on one arrive
// at the other.
func Pair() (*ChannelTransport, *ChannelTransport) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	c := codec.Get(codec.TypeJSON)
	a := &ChannelTransport{out: ab, in: ba, c: c}
	b := &ChannelTransport{out: ba, in: ab, c: c}
	return a, b
}

func (t *ChannelTransport) OnFrame(h FrameHandler) {
	t.onFrame = h
}

func (t *ChannelTransport) OnClose(h CloseHandler) {
	t.onClose = h
}

func (t *ChannelTransport) Send(f *message.Frame) error {
	payload, err := t.c.Encode(f.ToGeneric())
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrConnectionClosed
	}
	t.out <- payload
	return nil
}

func (t *ChannelTransport) Start() {
	go t.readLoop()
}

// Close stops the transport and signals the peer by closing the outbound
// channel.
func (t *ChannelTransport) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.out)
	}
	t.mu.Unlock()
	t.finish(ErrConnectionClosed)
}

func (t *ChannelTransport) readLoop() {
	for payload := range t.in {
		v, err := t.c.Decode(payload)
		if err != nil {
			t.finish(err)
			return
		}
		f, err := message.FromGeneric(v)
		if err != nil {
			t.finish(err)
			return
		}
		t.onFrame(f)
	}
	t.finish(ErrConnectionClosed)
}

func (t *ChannelTransport) finish(cause error) {
	t.closeOnce.Do(func() {
		if t.onClose != nil {
			t.onClose(cause)
		}
	})
}
