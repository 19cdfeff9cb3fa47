package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calebh/auralog/internal/event"
)

// Outbox writers used by the CLI. Files are written to a temp name and
// renamed so the watcher never observes a partial file.

// WriteEvent drops an event snapshot into the outbox.
func WriteEvent(outboxDir string, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("refusing to queue invalid event: %w", err)
	}
	if err := os.MkdirAll(outboxDir, 0o755); err != nil {
		return fmt.Errorf("failed to create outbox: %w", err)
	}

	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return writeAtomic(filepath.Join(outboxDir, ev.ID+".json"), data)
}

// WriteDeletion drops a deletion marker into the outbox.
func WriteDeletion(outboxDir, id string) error {
	if id == "" {
		return fmt.Errorf("deletion requires an id")
	}
	if err := os.MkdirAll(outboxDir, 0o755); err != nil {
		return fmt.Errorf("failed to create outbox: %w", err)
	}
	return writeAtomic(filepath.Join(outboxDir, id+".delete"), nil)
}

// WriteFullSyncRequest drops the full-sync marker into the outbox.
func WriteFullSyncRequest(outboxDir string) error {
	if err := os.MkdirAll(outboxDir, 0o755); err != nil {
		return fmt.Errorf("failed to create outbox: %w", err)
	}
	return writeAtomic(filepath.Join(outboxDir, fullSyncMarker), nil)
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
