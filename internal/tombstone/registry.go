// Package tombstone provides the durable record of deleted event identifiers.
//
// The registry prevents stale inbound copies from reviving deleted events:
// an identifier present in the registry must never reappear as a live event
// after a merge. It is persisted as an append-only JSONL file, independent
// of the event store, so it survives even if the store is reset.
package tombstone

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// record is the JSONL line format. Replaying the file keeps the earliest
// timestamp per identifier, so duplicate appends are harmless.
type record struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// Registry is a persisted set of deleted event identifiers.
//
// Record is idempotent and keeps the earliest deletion timestamp for an
// identifier; a deletion is never un-done by a later deletion notice for
// the same id. Every mutation is appended to the backing file before
// Record returns.
type Registry struct {
	path string

	mu      sync.RWMutex
	entries map[string]time.Time
}

// Open loads the registry from path, creating an empty one if the file
// does not exist yet. The file is read once; subsequent mutations append.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:    path,
		entries: make(map[string]time.Time),
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open tombstone file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("invalid tombstone at line %d: %w", line, err)
		}
		if existing, ok := r.entries[rec.ID]; !ok || rec.DeletedAt.Before(existing) {
			r.entries[rec.ID] = rec.DeletedAt
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tombstone file: %w", err)
	}

	return r, nil
}

// Record marks id as deleted at the given time.
//
// If id is already present with an earlier or equal timestamp, this is a
// no-op. Otherwise the entry is updated in memory and appended to the
// backing file before returning, so a crash immediately after Record still
// leaves the deletion durable.
func (r *Registry) Record(id string, at time.Time) error {
	if id == "" {
		return fmt.Errorf("tombstone id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[id]; ok && !at.Before(existing) {
		return nil
	}
	if err := r.append(record{ID: id, DeletedAt: at.UTC()}); err != nil {
		return err
	}
	r.entries[id] = at.UTC()
	return nil
}

// Contains reports whether id is tombstoned.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// DeletedAt returns the deletion timestamp for id.
func (r *Registry) DeletedAt(id string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.entries[id]
	return at, ok
}

// Snapshot returns a copy of the full identifier set with timestamps.
// Used to build full-sync responses.
func (r *Registry) Snapshot() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]time.Time, len(r.entries))
	for id, at := range r.entries {
		out[id] = at
	}
	return out
}

// IDs returns the identifier set without timestamps, sorted order not
// guaranteed.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// Len returns the number of tombstoned identifiers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Compact drops tombstones older than the given cutoff and rewrites the
// backing file atomically.
//
// The engine never compacts on its own: dropping a tombstone that the peer
// has not yet observed can resurrect a deleted event on the next full sync.
// This is an operator-invoked maintenance operation for installations where
// both devices are known to have converged past the cutoff.
func (r *Registry) Compact(olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make(map[string]time.Time, len(r.entries))
	dropped := 0
	for id, at := range r.entries {
		if at.Before(olderThan) {
			dropped++
			continue
		}
		kept[id] = at
	}
	if dropped == 0 {
		return 0, nil
	}

	tmp := r.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp tombstone file: %w", err)
	}
	w := bufio.NewWriter(f)
	for id, at := range kept {
		data, err := json.Marshal(record{ID: id, DeletedAt: at})
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to marshal tombstone: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to write tombstone: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to flush tombstone file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close tombstone file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return 0, fmt.Errorf("failed to replace tombstone file: %w", err)
	}

	r.entries = kept
	return dropped, nil
}

// append writes a single record to the backing file.
func (r *Registry) append(rec record) error {
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create tombstone directory: %w", err)
		}
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open tombstone file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal tombstone: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append tombstone: %w", err)
	}
	return f.Sync()
}
