package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder collects inbound payloads.
type recorder struct {
	mu       sync.Mutex
	payloads [][]byte
	reply    []byte
}

func (r *recorder) handler(payload []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	return r.reply, nil
}

func (r *recorder) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.payloads...)
}

// waitReceived polls until the recorder holds n payloads. Context
// deliveries run on their own goroutine, so arrival is asynchronous.
func waitReceived(t *testing.T, rec *recorder, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := rec.received(); len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d payloads, have %q", n, rec.received())
	return nil
}

func TestDurableDeliversWhileReachable(t *testing.T) {
	a, b := MemoryPair()
	rec := &recorder{}
	b.SetHandler(rec.handler)

	if err := a.SendDurable(context.Background(), []byte("one")); err != nil {
		t.Fatalf("SendDurable failed: %v", err)
	}

	got := waitReceived(t, rec, 1)
	if len(got) != 1 || string(got[0]) != "one" {
		t.Errorf("received %q, want [one]", got)
	}
}

func TestDurableIsLastValueWinsWhileUnreachable(t *testing.T) {
	a, b := MemoryPair()
	rec := &recorder{}
	b.SetHandler(rec.handler)

	a.SetReachable(false)
	for _, p := range []string{"one", "two", "three"} {
		if err := a.SendDurable(context.Background(), []byte(p)); err != nil {
			t.Fatalf("SendDurable failed: %v", err)
		}
	}
	if got := rec.received(); len(got) != 0 {
		t.Fatalf("delivered %q while unreachable", got)
	}

	// Only the latest write survives reachability resuming.
	a.SetReachable(true)
	got := waitReceived(t, rec, 1)
	if len(got) != 1 || string(got[0]) != "three" {
		t.Errorf("received %q, want only [three]", got)
	}
}

// A context send returns without waiting for the receiver's handler, so
// two halves sending to each other from their own single-threaded loops
// cannot wait on each other.
func TestDurableSendDoesNotBlockOnHandler(t *testing.T) {
	a, b := MemoryPair()
	release := make(chan struct{})
	b.SetHandler(func(p []byte) ([]byte, error) {
		<-release
		return nil, nil
	})
	defer close(release)

	done := make(chan error, 1)
	go func() { done <- a.SendDurable(context.Background(), []byte("x")) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendDurable failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendDurable blocked on the receiving handler")
	}
}

func TestTransientHonorsContextDeadline(t *testing.T) {
	a, b := MemoryPair()
	release := make(chan struct{})
	b.SetHandler(func(p []byte) ([]byte, error) {
		<-release
		return []byte("late"), nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := a.SendTransient(ctx, []byte("x")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendTransient = %v, want context.DeadlineExceeded", err)
	}
}

func TestTransientRequiresReachability(t *testing.T) {
	a, b := MemoryPair()
	b.SetHandler(func(p []byte) ([]byte, error) { return []byte("ack"), nil })

	a.SetReachable(false)
	if _, err := a.SendTransient(context.Background(), []byte("x")); !errors.Is(err, ErrNotReachable) {
		t.Fatalf("SendTransient = %v, want ErrNotReachable", err)
	}

	a.SetReachable(true)
	reply, err := a.SendTransient(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("SendTransient failed: %v", err)
	}
	if string(reply) != "ack" {
		t.Errorf("reply = %q, want ack", reply)
	}
}

func TestPairing(t *testing.T) {
	a, _ := MemoryPair()

	p := a.Pairing()
	if !p.Paired || !p.Reachable {
		t.Errorf("Pairing = %+v, want paired and reachable", p)
	}

	a.SetReachable(false)
	p = a.Pairing()
	if !p.Paired || p.Reachable {
		t.Errorf("Pairing = %+v, want paired and unreachable", p)
	}
}
