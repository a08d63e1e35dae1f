package endpoint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sqlbridge/message"
	"sqlbridge/pending"
)

// loopSender delivers frames straight into the peer endpoint, the way an
// in-process channel transport would.
type loopSender struct {
	mu   sync.Mutex
	peer *Endpoint
	fail error
}

func (s *loopSender) Send(f *message.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	go s.peer.OnFrame(f)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newPair wires two endpoints back to back.
func newPair() (*Endpoint, *Endpoint, *loopSender, *loopSender) {
	sa, sb := &loopSender{}, &loopSender{}
	a := New(sa, testLogger())
	b := New(sb, testLogger())
	sa.peer, sb.peer = b, a
	return a, b, sa, sb
}

func TestInvokeSuccess(t *testing.T) {
	caller, callee, _, _ := newPair()
	callee.Handle("echo", func(_ context.Context, args []any) (any, error) {
		return args, nil
	})

	result, err := caller.Invoke(context.Background(), "echo", "a", int64(2))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	list, ok := result.([]any)
	if !ok || len(list) != 2 || list[0] != "a" || list[1] != int64(2) {
		t.Errorf("wrong result: %#v", result)
	}
	if caller.Pending() != 0 {
		t.Errorf("%d calls left pending", caller.Pending())
	}
}

// A handler failure rejects the caller's future with the handler's message
// text, and the endpoint keeps serving afterwards.
func TestHandlerErrorForwarded(t *testing.T) {
	caller, callee, _, _ := newPair()
	callee.Handle("explode", func(context.Context, []any) (any, error) {
		return nil, errors.New("UNIQUE constraint failed: t.id")
	})
	callee.Handle("ok", func(context.Context, []any) (any, error) {
		return "fine", nil
	})

	_, err := caller.Invoke(context.Background(), "explode")
	if err == nil || err.Error() != "UNIQUE constraint failed: t.id" {
		t.Errorf("expected forwarded handler text, got %v", err)
	}

	result, err := caller.Invoke(context.Background(), "ok")
	if err != nil || result != "fine" {
		t.Errorf("endpoint unusable after handler failure: %v %v", result, err)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	caller, callee, _, _ := newPair()
	callee.Handle("panic", func(context.Context, []any) (any, error) {
		panic("handler went sideways")
	})

	_, err := caller.Invoke(context.Background(), "panic")
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}

	callee.Handle("ok", func(context.Context, []any) (any, error) { return true, nil })
	if _, err := caller.Invoke(context.Background(), "ok"); err != nil {
		t.Errorf("endpoint crashed by handler panic: %v", err)
	}
}

func TestUnknownMethod(t *testing.T) {
	caller, _, _, _ := newPair()

	_, err := caller.Invoke(context.Background(), "frobnicate")
	if err == nil || err.Error() != "Unknown method: frobnicate" {
		t.Errorf("expected fixed unknown-method text, got %v", err)
	}
}

// Two concurrent calls completed out of order must each get their own result.
func TestOutOfOrderCompletion(t *testing.T) {
	caller, callee, _, _ := newPair()
	release := make(chan struct{})
	callee.Handle("slow", func(context.Context, []any) (any, error) {
		<-release
		return "slow result", nil
	})
	callee.Handle("fast", func(context.Context, []any) (any, error) {
		return "fast result", nil
	})

	slowCall := caller.Go("slow", nil, time.Second)
	fastCall := caller.Go("fast", nil, time.Second)

	if got, err := fastCall.Result(); err != nil || got != "fast result" {
		t.Errorf("fast call cross-wired: %v %v", got, err)
	}
	close(release)
	if got, err := slowCall.Result(); err != nil || got != "slow result" {
		t.Errorf("slow call cross-wired: %v %v", got, err)
	}
}

// A call whose deadline fires rejects with a timeout, and the late response
// that eventually arrives is discarded without double-resolving the future.
func TestTimeoutThenLateResponse(t *testing.T) {
	caller, callee, _, _ := newPair()
	release := make(chan struct{})
	callee.Handle("hang", func(context.Context, []any) (any, error) {
		<-release
		return "late", nil
	})

	call := caller.Go("hang", nil, 20*time.Millisecond)
	_, err := call.Result()
	if !errors.Is(err, pending.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if err.Error() != "hang timed out" {
		t.Errorf("timeout text: got %q", err.Error())
	}

	close(release) // peer completes and sends the late response
	time.Sleep(50 * time.Millisecond)

	if data, err := call.Result(); data != nil || !errors.Is(err, pending.ErrTimeout) {
		t.Errorf("late response mutated a completed call: %v %v", data, err)
	}
	if caller.Pending() != 0 {
		t.Errorf("%d calls left pending", caller.Pending())
	}
}

func TestSendFailureFailsFuture(t *testing.T) {
	caller, _, sa, _ := newPair()
	cause := errors.New("broken pipe")
	sa.mu.Lock()
	sa.fail = cause
	sa.mu.Unlock()

	_, err := caller.Invoke(context.Background(), "anything")
	if err != cause {
		t.Errorf("expected send failure on future, got %v", err)
	}
}

func TestFailPending(t *testing.T) {
	caller, callee, _, _ := newPair()
	block := make(chan struct{})
	defer close(block)
	callee.Handle("hang", func(context.Context, []any) (any, error) {
		<-block
		return nil, nil
	})

	calls := []*pending.Call{
		caller.Go("hang", nil, time.Minute),
		caller.Go("hang", nil, time.Minute),
		caller.Go("hang", nil, time.Minute),
	}

	cause := errors.New("connection closed")
	caller.FailPending(cause)

	for i, c := range calls {
		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatalf("call %d left hanging", i)
		}
		if _, err := c.Result(); err != cause {
			t.Errorf("call %d: got %v, want %v", i, err, cause)
		}
	}
}

func TestNotificationGetsNoReply(t *testing.T) {
	caller, callee, _, _ := newPair()
	served := make(chan struct{})
	callee.Handle("ready", func(_ context.Context, args []any) (any, error) {
		close(served)
		return nil, nil
	})

	if err := caller.Notify("ready", "worker", "0.1.0"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("notification never dispatched")
	}
	time.Sleep(20 * time.Millisecond)
	if caller.Pending() != 0 {
		t.Errorf("notification created a pending call")
	}
}
