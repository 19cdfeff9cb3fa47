package event

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	earlier := start.Add(-2 * time.Hour)
	later := start.Add(3 * time.Hour)

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{
			name:  "valid minimal",
			event: Event{ID: "a", PainLevel: 0},
		},
		{
			name: "valid full",
			event: Event{
				ID:        NewID(),
				StartTime: &start,
				EndTime:   &later,
				PainLevel: 10,
				Location:  "left",
				Aura:      true,
				Medicated: true,
				Notes:     "after long screen session",
			},
		},
		{
			name:    "missing id",
			event:   Event{PainLevel: 5},
			wantErr: true,
		},
		{
			name:    "pain level too high",
			event:   Event{ID: "a", PainLevel: 11},
			wantErr: true,
		},
		{
			name:    "pain level negative",
			event:   Event{ID: "a", PainLevel: -1},
			wantErr: true,
		},
		{
			name:    "end before start",
			event:   Event{ID: "a", PainLevel: 3, StartTime: &start, EndTime: &earlier},
			wantErr: true,
		},
		{
			name:  "end without start",
			event: Event{ID: "a", PainLevel: 3, EndTime: &later},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == "" || b == "" {
		t.Fatal("NewID returned empty string")
	}
	if a == b {
		t.Errorf("NewID returned duplicate: %s", a)
	}
}

func TestClone(t *testing.T) {
	start := time.Now()
	orig := &Event{ID: "a", PainLevel: 7, StartTime: &start}

	c := orig.Clone()
	if c.ID != orig.ID || c.PainLevel != orig.PainLevel {
		t.Errorf("clone fields differ: %+v vs %+v", c, orig)
	}

	// Mutating the clone's pointer fields must not affect the original.
	*c.StartTime = start.Add(time.Hour)
	if !orig.StartTime.Equal(start) {
		t.Error("clone shares StartTime pointer with original")
	}
}
