package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/calebh/auralog/internal/store"
	"github.com/calebh/auralog/internal/tombstone"
)

func setup(t *testing.T) (*store.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, dir
}

func writeLegacy(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "legacy.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write legacy file: %v", err)
	}
	return path
}

func TestRunImportsRecords(t *testing.T) {
	db, dir := setup(t)
	legacy := writeLegacy(t, dir, `{"id":"old-1","painLevel":6,"location":"left"}
{"painLevel":3,"aura":true,"notes":"no id on this one"}
`)
	marker := filepath.Join(dir, ".import-done")

	res, err := Run(context.Background(), db, Options{FromJSONL: legacy, MarkerPath: marker})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Imported != 2 {
		t.Errorf("Imported = %d, want 2", res.Imported)
	}
	if res.AssignedIDs != 1 {
		t.Errorf("AssignedIDs = %d, want 1", res.AssignedIDs)
	}

	n, err := db.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("store has %d events, want 2", n)
	}

	got, err := db.Get(context.Background(), "old-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.PainLevel != 6 {
		t.Errorf("imported event wrong: %+v", got)
	}
	if got.ModifiedAt.IsZero() {
		t.Error("ModifiedAt not stamped on import")
	}

	if !Done(marker) {
		t.Error("completion marker not written")
	}
}

func TestRunSkipsWhenMarkerExists(t *testing.T) {
	db, dir := setup(t)
	legacy := writeLegacy(t, dir, `{"id":"old-1","painLevel":6}`+"\n")
	marker := filepath.Join(dir, ".import-done")
	if err := os.WriteFile(marker, []byte("done\n"), 0o600); err != nil {
		t.Fatalf("failed to write marker: %v", err)
	}

	res, err := Run(context.Background(), db, Options{FromJSONL: legacy, MarkerPath: marker})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Imported != 0 {
		t.Errorf("import ran despite marker: %d imported", res.Imported)
	}
	if n, _ := db.Count(context.Background()); n != 0 {
		t.Errorf("store has %d events, want 0", n)
	}
}

func TestRunSkipsInvalidRecords(t *testing.T) {
	db, dir := setup(t)
	legacy := writeLegacy(t, dir, `{"id":"good","painLevel":4}
{"id":"bad","painLevel":99}
`)

	res, err := Run(context.Background(), db, Options{FromJSONL: legacy})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Imported != 1 || res.Skipped != 1 {
		t.Errorf("Imported=%d Skipped=%d, want 1/1", res.Imported, res.Skipped)
	}
	if len(res.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", res.Errors)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	db, dir := setup(t)
	legacy := writeLegacy(t, dir, `{"id":"old-1","painLevel":6}`+"\n")
	marker := filepath.Join(dir, ".import-done")

	res, err := Run(context.Background(), db, Options{FromJSONL: legacy, MarkerPath: marker, DryRun: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Imported != 1 {
		t.Errorf("Imported = %d, want 1 (counted, not written)", res.Imported)
	}
	if n, _ := db.Count(context.Background()); n != 0 {
		t.Errorf("dry run wrote %d events", n)
	}
	if Done(marker) {
		t.Error("dry run wrote the completion marker")
	}
}

func TestRunFailsOnMissingFile(t *testing.T) {
	db, dir := setup(t)
	if _, err := Run(context.Background(), db, Options{FromJSONL: filepath.Join(dir, "absent.jsonl")}); err == nil {
		t.Error("Run accepted a missing legacy file")
	}
}

func TestRunNeverTouchesTombstones(t *testing.T) {
	db, dir := setup(t)
	tombs, err := tombstone.Open(filepath.Join(dir, "tombstones.jsonl"))
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	legacy := writeLegacy(t, dir, `{"id":"old-1","painLevel":6}`+"\n")

	if _, err := Run(context.Background(), db, Options{FromJSONL: legacy}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tombs.Len() != 0 {
		t.Errorf("import created %d tombstones, want 0", tombs.Len())
	}
}
