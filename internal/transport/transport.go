// Package transport abstracts the device pairing link used by the sync
// engine.
//
// The link offers two delivery modes. The durable context channel is
// last-value-wins: a write is always accepted, even while the peer is
// unreachable, but only the most recent unconsumed write is guaranteed
// delivered once reachability resumes. The transient message channel is
// point-to-point, requires live reachability, fails fast otherwise, and
// supports a reply payload (used for full-sync responses).
package transport

import (
	"context"
	"errors"
)

// Delivery mode errors.
var (
	// ErrNotReachable indicates the transient channel is unavailable.
	// Recoverable: retry on the next poll or reachability change.
	ErrNotReachable = errors.New("peer not reachable")

	// ErrActivationFailed indicates the pairing subsystem failed to
	// initialize. Not auto-retried; requires external pairing repair.
	ErrActivationFailed = errors.New("transport activation failed")

	// ErrTimeout indicates a transient send expired waiting for a reply.
	ErrTimeout = errors.New("timed out waiting for reply")
)

// Pairing is the read-only link status queried by the coordinator to pick
// a transport mode and to drive status transitions.
type Pairing struct {
	Paired    bool
	Reachable bool
}

// Handler consumes an inbound payload. It is invoked on an arbitrary
// goroutine; implementations must marshal onto their own serialization
// point before touching state. A non-nil reply is sent back to the peer
// of a transient message; replies to context deliveries are discarded.
type Handler func(payload []byte) (reply []byte, err error)

// Channel is a uniform send/receive link over the two delivery modes.
type Channel interface {
	// SendDurable writes the context slot. The write is accepted even
	// while unreachable; it returns an error only when the payload
	// cannot be accepted at all (slot persistence or link write failure).
	SendDurable(ctx context.Context, payload []byte) error

	// SendTransient delivers payload to a live peer and returns its
	// reply. Fails immediately with ErrNotReachable when the peer is
	// not reachable.
	SendTransient(ctx context.Context, payload []byte) ([]byte, error)

	// SetHandler registers the inbound delivery callback.
	SetHandler(h Handler)

	// Pairing reports the current link status.
	Pairing() Pairing
}
