package syncer

import (
	"fmt"
	"sync"
	"time"
)

// State identifies the sync engine's externally visible condition.
type State int

const (
	// StateNotConfigured means no pairing link has been provided.
	StateNotConfigured State = iota
	// StateDisabled means pairing exists but sync is switched off, or
	// the pairing was lost.
	StateDisabled
	// StateEnabled means sync is idle with no unacknowledged local edits.
	StateEnabled
	// StatePendingChanges means local edits exist that have not yet been
	// acknowledged by a successful sync.
	StatePendingChanges
	// StateSyncing means a send or merge is in flight.
	StateSyncing
	// StateError means the last operation failed; RetrySync recovers.
	StateError
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNotConfigured:
		return "notConfigured"
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StatePendingChanges:
		return "pendingChanges"
	case StateSyncing:
		return "syncing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the tagged value published by the coordinator. Exactly one
// value is live at a time; it is read-only to every other component.
type Status struct {
	State State `json:"state"`

	// PendingCount is set for StatePendingChanges.
	PendingCount int `json:"pendingCount,omitempty"`

	// Progress is set for StateSyncing, in [0,1].
	Progress float64 `json:"progress,omitempty"`

	// Message is set for StateError.
	Message string `json:"message,omitempty"`
}

// String renders the status for logs and the CLI.
func (s Status) String() string {
	switch s.State {
	case StatePendingChanges:
		return fmt.Sprintf("pendingChanges(%d)", s.PendingCount)
	case StateSyncing:
		return fmt.Sprintf("syncing(%.0f%%)", s.Progress*100)
	case StateError:
		return fmt.Sprintf("error(%s)", s.Message)
	default:
		return s.State.String()
	}
}

// signal holds the current status and fans changes out to listeners.
//
// Listener channels are buffered and written non-blocking: a slow consumer
// misses intermediate values rather than stalling the coordinator. The
// current value is always available through get().
type signal struct {
	mu        sync.RWMutex
	cur       Status
	lastSync  time.Time
	listeners []chan Status
}

func (s *signal) get() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *signal) lastSyncTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

func (s *signal) set(st Status) {
	s.mu.Lock()
	s.cur = st
	listeners := append([]chan Status(nil), s.listeners...)
	s.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- st:
		default:
			// Listener buffer full; it will catch up on the next change.
		}
	}
}

func (s *signal) markSynced(at time.Time) {
	s.mu.Lock()
	s.lastSync = at
	s.mu.Unlock()
}

func (s *signal) subscribe(buf int) <-chan Status {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Status, buf)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	ch <- s.cur
	s.mu.Unlock()
	return ch
}
