// Package event provides the migraine event record shared by the store,
// the sync engine, and the wire format.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event represents a single migraine episode.
//
// Fields are flat with last-write-wins semantics at the record level:
// the sync engine resolves conflicts by comparing an inbound envelope's
// sync timestamp against ModifiedAt, and the newer side wins wholesale.
// Concurrent edits to different fields on each device will therefore
// lose one side's change; this matches the conflict policy the engine
// is specified to implement.
type Event struct {
	// ===== Identity =====
	ID string `json:"id"`

	// ===== Episode window =====
	// StartTime and EndTime are both optional; an in-progress episode
	// has no EndTime yet.
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	// ===== Severity & location =====
	PainLevel int    `json:"painLevel"` // 0-10
	Location  string `json:"location,omitempty"`

	// ===== Symptoms =====
	Aura        bool `json:"aura"`
	Nausea      bool `json:"nausea"`
	Vomiting    bool `json:"vomiting"`
	Photophobia bool `json:"photophobia"`
	Phonophobia bool `json:"phonophobia"`

	// ===== Triggers =====
	StressTrigger  bool `json:"stressTrigger"`
	SleepTrigger   bool `json:"sleepTrigger"`
	WeatherTrigger bool `json:"weatherTrigger"`

	// ===== Medication =====
	Medicated bool `json:"medicated"`

	// ===== Free text =====
	Notes string `json:"notes,omitempty"`

	// ===== Conflict resolution =====
	// ModifiedAt is the local last-modified wall clock. The store stamps
	// it on every local edit; merges stamp it with the inbound envelope's
	// sync time so that re-applying the same envelope is a no-op.
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Locations lists the head regions offered by the edit flow.
// The field itself is free text; unknown values are preserved.
var Locations = []string{
	"left",
	"right",
	"bilateral",
	"front",
	"back",
	"behind-eyes",
}

// NewID returns a fresh opaque event identifier.
func NewID() string {
	return uuid.NewString()
}

// Validate checks that the Event has valid field values.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.PainLevel < 0 || e.PainLevel > 10 {
		return fmt.Errorf("painLevel must be between 0 and 10 (got %d)", e.PainLevel)
	}
	if e.StartTime != nil && e.EndTime != nil && e.EndTime.Before(*e.StartTime) {
		return fmt.Errorf("endTime must not be before startTime")
	}
	return nil
}

// Filename returns the canonical outbox filename for this event: {id}.json
func (e *Event) Filename() string {
	return fmt.Sprintf("%s.json", e.ID)
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	if e.StartTime != nil {
		t := *e.StartTime
		c.StartTime = &t
	}
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	return &c
}
