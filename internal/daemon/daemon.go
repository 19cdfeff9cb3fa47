// Package daemon bridges the local edit flow to the sync coordinator.
//
// The daemon:
// 1. Watches the outbox directory for edit files dropped by the CLI
// 2. Applies each edit to the event store
// 3. Hands the applied edit to the coordinator for delivery to the peer
// 4. Periodically writes a status snapshot for the CLI to read
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calebh/auralog/internal/event"
	"github.com/calebh/auralog/internal/store"
	"github.com/calebh/auralog/internal/syncer"
)

// fullSyncMarker is the outbox filename that triggers a full sync.
const fullSyncMarker = "fullsync.request"

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before processing outbox
	// writes. This batches rapid updates together and lets atomic
	// renames settle.
	DebounceInterval time.Duration

	// StatusInterval is how often the status snapshot file is rewritten.
	StatusInterval time.Duration

	// StatusPath is where the snapshot is written. Empty disables it.
	StatusPath string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		StatusInterval:   2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the outbox and drives edits through store and coordinator.
type Daemon struct {
	db        *store.DB
	syn       *syncer.Syncer
	outboxDir string
	config    *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. The coordinator must not be started yet; the
// daemon starts it after the outbox backlog has been applied.
func New(db *store.DB, syn *syncer.Syncer, outboxDir string, config *Config) (*Daemon, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if syn == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if outboxDir == "" {
		return nil, fmt.Errorf("outboxDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	if err := os.MkdirAll(outboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create outbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		db:          db,
		syn:         syn,
		outboxDir:   outboxDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// Any backlog already sitting in the outbox is applied first, then the
// coordinator starts and filesystem watching takes over. Blocks until
// ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Apply edits left over from a previous run before sync can start.
	if err := d.sweepOutbox(); err != nil {
		return fmt.Errorf("outbox backlog failed: %w", err)
	}

	if err := d.watcher.Add(d.outboxDir); err != nil {
		return fmt.Errorf("failed to watch outbox: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.outboxDir)

	d.syn.Start()

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	if d.config.StatusPath != "" && d.config.StatusInterval > 0 {
		d.wg.Add(1)
		go d.writeStatusLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()
	d.syn.Stop()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// sweepOutbox applies every edit file currently in the outbox.
func (d *Daemon) sweepOutbox() error {
	entries, err := os.ReadDir(d.outboxDir)
	if err != nil {
		return fmt.Errorf("failed to read outbox: %w", err)
	}

	if len(entries) > 0 {
		d.config.Logger.Printf("Applying %d queued edits", len(entries))
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(d.outboxDir, e.Name())
		if err := d.applyFile(path); err != nil {
			d.config.Logger.Printf("Error applying %s: %v", path, err)
		}
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// The CLI writes a temp file and renames; Create fires on
			// the rename target. Write covers direct writes.
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isEditFile(ev.Name) {
				continue
			}

			d.queueChange(ev.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// isEditFile filters outbox entries down to the three edit shapes.
func isEditFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	return strings.HasSuffix(base, ".json") ||
		strings.HasSuffix(base, ".delete") ||
		base == fullSyncMarker
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue drains the queue on the debounce tick.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges applies files that have been queued long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, path)

		if err := d.applyFile(path); err != nil {
			d.config.Logger.Printf("Error applying %s: %v", path, err)
		}
	}
}

// applyFile dispatches one outbox file by shape and removes it once
// applied. A file that vanished before processing is not an error.
func (d *Daemon) applyFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	base := filepath.Base(path)
	var err error
	switch {
	case base == fullSyncMarker:
		d.config.Logger.Println("Full sync requested")
		d.syn.RequestFullSync()

	case strings.HasSuffix(base, ".delete"):
		err = d.applyDeletion(path, strings.TrimSuffix(base, ".delete"))

	case strings.HasSuffix(base, ".json"):
		err = d.applyEdit(path)

	default:
		d.config.Logger.Printf("Ignoring unknown outbox file: %s", base)
	}
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove applied file: %w", err)
	}
	return nil
}

// applyEdit writes an event snapshot to the store and announces it.
func (d *Daemon) applyEdit(path string) error {
	// #nosec G304 - path comes from the watched outbox
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read edit file: %w", err)
	}

	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to parse edit file: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event in outbox: %w", err)
	}

	ev.ModifiedAt = time.Now()
	if err := d.db.Update(d.ctx, &ev); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}

	d.config.Logger.Printf("Applied edit: %s", ev.ID)
	d.syn.SendLocalChange(ev)
	return nil
}

// applyDeletion removes the event locally and announces the deletion.
// The coordinator records the tombstone before any transmission.
func (d *Daemon) applyDeletion(path, id string) error {
	if id == "" {
		return fmt.Errorf("deletion marker with empty id: %s", path)
	}

	if err := d.db.Delete(d.ctx, id); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	d.config.Logger.Printf("Applied deletion: %s", id)
	d.syn.SendDeletion(id)
	return nil
}
