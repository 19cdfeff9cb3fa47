package transport

import (
	"context"
	"sync"
)

// Memory is an in-process Channel half. Two halves created by MemoryPair
// deliver to each other directly, with reachability toggled by tests or
// by single-process deployments of both device roles.
//
// Durable semantics match the real link: while unreachable, only the most
// recent context write is retained, and it is flushed when reachability
// resumes.
type Memory struct {
	mu        sync.Mutex
	peer      *Memory
	handler   Handler
	reachable bool

	slot      []byte
	slotDirty bool
}

// MemoryPair returns two linked channel halves, initially reachable.
func MemoryPair() (*Memory, *Memory) {
	a := &Memory{reachable: true}
	b := &Memory{reachable: true}
	a.peer = b
	b.peer = a
	return a, b
}

// SetReachable toggles this half's view of the link. Turning reachability
// on flushes a pending context slot to the peer.
func (m *Memory) SetReachable(up bool) {
	m.mu.Lock()
	m.reachable = up
	var flush []byte
	if up && m.slotDirty {
		flush = m.slot
		m.slotDirty = false
	}
	m.mu.Unlock()

	if flush != nil {
		m.peer.deliver(flush)
	}
}

// SendDurable implements Channel.
func (m *Memory) SendDurable(_ context.Context, payload []byte) error {
	m.mu.Lock()
	m.slot = append([]byte(nil), payload...)
	if !m.reachable {
		m.slotDirty = true
		m.mu.Unlock()
		return nil
	}
	m.slotDirty = false
	out := m.slot
	m.mu.Unlock()

	m.peer.deliver(out)
	return nil
}

// SendTransient implements Channel. The peer's handler runs on its own
// goroutine so a busy peer delays the reply rather than wedging the
// caller past its deadline.
func (m *Memory) SendTransient(ctx context.Context, payload []byte) ([]byte, error) {
	m.mu.Lock()
	up := m.reachable
	m.mu.Unlock()
	if !up {
		return nil, ErrNotReachable
	}

	type result struct {
		reply []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := m.peer.handle(payload)
		done <- result{reply, err}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetHandler implements Channel.
func (m *Memory) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Pairing implements Channel.
func (m *Memory) Pairing() Pairing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Pairing{Paired: m.peer != nil, Reachable: m.reachable}
}

// deliver hands a context payload to this half's handler, dropping the
// reply. The handler runs on its own goroutine, matching the real link
// where inbound frames arrive on a reader goroutine: a context send must
// never block on the receiver's merge, or two halves sending to each
// other from their own serialization points wait on each other forever.
func (m *Memory) deliver(payload []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return
	}
	go func() { _, _ = h(payload) }()
}

// handle routes a transient message to the handler and returns its reply.
func (m *Memory) handle(payload []byte) ([]byte, error) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return nil, ErrNotReachable
	}
	return h(payload)
}
