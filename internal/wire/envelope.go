// Package wire defines the sync envelope exchanged between paired devices.
//
// The envelope is the unit of transfer on both the durable context channel
// and the transient message channel. It carries full event snapshots (not
// deltas), announced tombstones, and the producer's wall clock at send time:
//
//	{
//	  "migraineData": [ {<event fields>}, ... ],
//	  "deletedIds":   [ "<id>", ... ],
//	  "syncTime":     1772366400.5
//	}
//
// Field absence is equivalent to an empty list. Partial envelopes (only
// events, or only deletions) are valid.
package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/calebh/auralog/internal/event"
)

// Envelope is the unit of data exchanged between devices in one sync
// operation.
type Envelope struct {
	Events     []event.Event `json:"migraineData"`
	DeletedIDs []string      `json:"deletedIds"`

	// SyncTime is the producer's wall clock at send time, in epoch
	// seconds with fractional precision. It drives last-writer-wins
	// conflict resolution on the receiving side.
	SyncTime float64 `json:"syncTime"`

	// FullSyncRequest asks the peer to respond with its entire live
	// event set plus its entire tombstone set.
	FullSyncRequest bool `json:"fullSyncRequest,omitempty"`
}

// New constructs an envelope stamped with the given send time.
// Nil slices are normalized to empty so the wire form always carries
// both lists.
func New(events []event.Event, deletedIDs []string, at time.Time) *Envelope {
	if events == nil {
		events = []event.Event{}
	}
	if deletedIDs == nil {
		deletedIDs = []string{}
	}
	return &Envelope{
		Events:     events,
		DeletedIDs: deletedIDs,
		SyncTime:   ToEpoch(at),
	}
}

// NewFullSyncRequest constructs an envelope requesting the peer's complete
// current state rather than an incremental change.
func NewFullSyncRequest(at time.Time) *Envelope {
	env := New(nil, nil, at)
	env.FullSyncRequest = true
	return env
}

// Time returns SyncTime as a time.Time.
func (e *Envelope) Time() time.Time {
	return FromEpoch(e.SyncTime)
}

// IsEmpty reports whether the envelope announces no state at all.
func (e *Envelope) IsEmpty() bool {
	return len(e.Events) == 0 && len(e.DeletedIDs) == 0 && !e.FullSyncRequest
}

// Encode serializes the envelope to its JSON wire form.
func Encode(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from its JSON wire form.
//
// Absent migraineData/deletedIds fields decode as empty lists. Decode
// validates every contained event so a malformed snapshot is rejected
// before it reaches the merge path.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Events == nil {
		env.Events = []event.Event{}
	}
	if env.DeletedIDs == nil {
		env.DeletedIDs = []string{}
	}
	for i := range env.Events {
		if err := env.Events[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid event in envelope: %w", err)
		}
	}
	return &env, nil
}

// ToEpoch converts a time.Time to floating-point epoch seconds.
func ToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpoch converts floating-point epoch seconds to a time.Time.
func FromEpoch(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}
