package daemon

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calebh/auralog/internal/event"
	"github.com/calebh/auralog/internal/store"
	"github.com/calebh/auralog/internal/syncer"
	"github.com/calebh/auralog/internal/tombstone"
	"github.com/calebh/auralog/internal/transport"
)

// setupDaemon wires a daemon over a memory-pair transport half with a
// short debounce interval, without starting it.
func setupDaemon(t *testing.T) (*Daemon, *store.DB, *tombstone.Registry, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tombs, err := tombstone.Open(filepath.Join(dir, "tombstones.jsonl"))
	if err != nil {
		t.Fatalf("Failed to open registry: %v", err)
	}

	local, peer := transport.MemoryPair()
	// Far half runs its own coordinator so full-sync requests are answered.
	peerCoordinator(t, peer)

	syn := syncer.New(db, tombs, local, &syncer.Config{
		Role:         syncer.RolePrimary,
		Enabled:      true,
		PollInterval: time.Hour,
		Logger:       log.New(testLogWriter{t}, "[syncer] ", 0),
	})
	t.Cleanup(syn.Stop)

	outbox := filepath.Join(dir, "outbox")
	d, err := New(db, syn, outbox, &Config{
		DebounceInterval: 20 * time.Millisecond,
		StatusInterval:   50 * time.Millisecond,
		StatusPath:       filepath.Join(dir, "status.json"),
		Logger:           log.New(testLogWriter{t}, "[daemon] ", 0),
	})
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}
	return d, db, tombs, outbox
}

// peerCoordinator stands up a minimal coordinator on the far half so
// full-sync requests get answered.
func peerCoordinator(t *testing.T, ch transport.Channel) *syncer.Syncer {
	t.Helper()

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("Failed to open peer store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tombs, err := tombstone.Open(filepath.Join(dir, "tombstones.jsonl"))
	if err != nil {
		t.Fatalf("Failed to open peer registry: %v", err)
	}

	// Seed one event so the peer does not itself request a full sync.
	ev := &event.Event{ID: "peer-seed", PainLevel: 1, ModifiedAt: time.Now()}
	if err := db.Create(context.Background(), ev); err != nil {
		t.Fatalf("Failed to seed peer store: %v", err)
	}

	syn := syncer.New(db, tombs, ch, &syncer.Config{
		Role:         syncer.RoleCompanion,
		Enabled:      true,
		PollInterval: time.Hour,
		Logger:       log.New(testLogWriter{t}, "[peer] ", 0),
	})
	syn.Start()
	t.Cleanup(syn.Stop)
	return syn
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// startDaemon runs Start in the background and stops it at cleanup.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Logf("daemon exit: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop in time")
		}
	})
	// Give the watcher a moment to attach.
	time.Sleep(50 * time.Millisecond)
}

func waitFor(t *testing.T, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	_, db, _, _ := setupDaemon(t)

	syn := syncer.New(db, nil, nil, nil)
	defer syn.Stop()

	tests := []struct {
		name    string
		db      *store.DB
		syn     *syncer.Syncer
		outbox  string
		wantErr bool
	}{
		{"valid", db, syn, t.TempDir(), false},
		{"nil db", nil, syn, t.TempDir(), true},
		{"nil syncer", db, nil, t.TempDir(), true},
		{"empty outbox", db, syn, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.db, tt.syn, tt.outbox, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOutboxEditApplied(t *testing.T) {
	d, db, _, outbox := setupDaemon(t)
	startDaemon(t, d)

	ev := &event.Event{ID: event.NewID(), PainLevel: 7, Location: "right", Nausea: true}
	if err := WriteEvent(outbox, ev); err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}

	waitFor(t, "edit applied to store", func() bool {
		got, err := db.Get(context.Background(), ev.ID)
		return err == nil && got != nil
	})

	got, err := db.Get(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PainLevel != 7 || !got.Nausea {
		t.Errorf("stored event wrong: %+v", got)
	}
	if got.ModifiedAt.IsZero() {
		t.Error("ModifiedAt not stamped on apply")
	}

	waitFor(t, "edit file removed", func() bool {
		_, err := os.Stat(filepath.Join(outbox, ev.ID+".json"))
		return os.IsNotExist(err)
	})
}

func TestOutboxDeletionApplied(t *testing.T) {
	d, db, tombs, outbox := setupDaemon(t)

	ev := &event.Event{ID: "victim", PainLevel: 4, ModifiedAt: time.Now()}
	if err := db.Create(context.Background(), ev); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	startDaemon(t, d)

	if err := WriteDeletion(outbox, "victim"); err != nil {
		t.Fatalf("WriteDeletion failed: %v", err)
	}

	waitFor(t, "event deleted", func() bool {
		got, err := db.Get(context.Background(), "victim")
		return err == nil && got == nil
	})
	waitFor(t, "tombstone recorded", func() bool {
		return tombs.Contains("victim")
	})
}

func TestOutboxBacklogAppliedBeforeWatch(t *testing.T) {
	d, db, _, outbox := setupDaemon(t)

	// Queue an edit while the daemon is down.
	ev := &event.Event{ID: "queued", PainLevel: 5}
	if err := WriteEvent(outbox, ev); err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}

	startDaemon(t, d)

	waitFor(t, "backlog applied", func() bool {
		got, err := db.Get(context.Background(), "queued")
		return err == nil && got != nil
	})
}

func TestOutboxInvalidEditLeavesStoreAlone(t *testing.T) {
	d, db, _, outbox := setupDaemon(t)
	startDaemon(t, d)

	if err := os.WriteFile(filepath.Join(outbox, "bad.json"), []byte(`{"id":"bad","painLevel":42}`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The file is rejected, not applied.
	time.Sleep(150 * time.Millisecond)
	got, err := db.Get(context.Background(), "bad")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("invalid event was applied to the store")
	}
}

func TestStatusFileWritten(t *testing.T) {
	d, _, _, _ := setupDaemon(t)
	startDaemon(t, d)

	waitFor(t, "status file", func() bool {
		_, err := os.Stat(d.config.StatusPath)
		return err == nil
	})

	snap, err := ReadSnapshot(d.config.StatusPath)
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if snap.WrittenAt.IsZero() {
		t.Error("snapshot missing write timestamp")
	}
	if snap.StatusText == "" {
		t.Error("snapshot missing status text")
	}
}

func TestFullSyncMarkerPullsPeerState(t *testing.T) {
	d, db, _, outbox := setupDaemon(t)
	// Avoid the automatic empty-store full sync racing the marker.
	seed := &event.Event{ID: "local-seed", PainLevel: 2, ModifiedAt: time.Now()}
	if err := db.Create(context.Background(), seed); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	startDaemon(t, d)

	if err := WriteFullSyncRequest(outbox); err != nil {
		t.Fatalf("WriteFullSyncRequest failed: %v", err)
	}

	// The peer holds "peer-seed"; the full sync merges it in.
	waitFor(t, "peer state merged", func() bool {
		got, err := db.Get(context.Background(), "peer-seed")
		return err == nil && got != nil
	})
	waitFor(t, "marker removed", func() bool {
		_, err := os.Stat(filepath.Join(outbox, fullSyncMarker))
		return os.IsNotExist(err)
	})
}

func TestIsEditFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"abc.json", true},
		{"abc.delete", true},
		{"fullsync.request", true},
		{"abc.json.tmp", false},
		{".hidden.json", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := isEditFile(tt.path); got != tt.want {
			t.Errorf("isEditFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
