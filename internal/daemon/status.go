package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/calebh/auralog/internal/syncer"
)

// Snapshot is the status file format read by the CLI.
type Snapshot struct {
	Status     syncer.Status `json:"status"`
	StatusText string        `json:"statusText"`
	LastSync   *time.Time    `json:"lastSync,omitempty"`
	EventCount int           `json:"eventCount"`
	WrittenAt  time.Time     `json:"writtenAt"`
}

// writeStatusLoop rewrites the status snapshot on a fixed interval.
func (d *Daemon) writeStatusLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StatusInterval)
	defer ticker.Stop()

	// One immediate write so the CLI sees state right after startup.
	if err := d.writeStatus(); err != nil {
		d.config.Logger.Printf("Error writing status: %v", err)
	}

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.writeStatus(); err != nil {
				d.config.Logger.Printf("Error writing status: %v", err)
			}
		}
	}
}

// writeStatus writes the snapshot atomically via temp file.
func (d *Daemon) writeStatus() error {
	st := d.syn.Status()
	snap := Snapshot{
		Status:     st,
		StatusText: st.String(),
		WrittenAt:  time.Now(),
	}
	if last := d.syn.LastSyncTime(); !last.IsZero() {
		snap.LastSync = &last
	}
	if n, err := d.db.Count(d.ctx); err == nil {
		snap.EventCount = n
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	tmpPath := d.config.StatusPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write status temp file: %w", err)
	}
	if err := os.Rename(tmpPath, d.config.StatusPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}
	return nil
}

// ReadSnapshot loads a previously written status file.
func ReadSnapshot(path string) (*Snapshot, error) {
	// #nosec G304 - controlled path from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse status file: %w", err)
	}
	return &snap, nil
}
