package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/calebh/auralog/internal/event"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEvent(id string, pain int, start time.Time) *event.Event {
	return &event.Event{
		ID:         id,
		StartTime:  &start,
		PainLevel:  pain,
		Location:   "left",
		Aura:       true,
		ModifiedAt: start,
	}
}

func TestCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ev := testEvent("a", 7, start)
	ev.Notes = "woke up with it"

	if err := db.Create(ctx, ev); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing event")
	}
	if got.PainLevel != 7 || got.Location != "left" || !got.Aura || got.Notes != "woke up with it" {
		t.Errorf("fields did not round-trip: %+v", got)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, start)
	}
	if got.EndTime != nil {
		t.Errorf("EndTime = %v, want nil", got.EndTime)
	}
	if !got.ModifiedAt.Equal(start) {
		t.Errorf("ModifiedAt = %v, want %v", got.ModifiedAt, start)
	}
}

func TestGetAbsentReturnsNil(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get for absent id = %+v, want nil", got)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ev := testEvent("a", 3, time.Now().UTC())
	if err := db.Create(ctx, ev); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := db.Create(ctx, ev); err == nil {
		t.Fatal("expected error creating duplicate id")
	}
}

func TestUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ev := testEvent("a", 3, time.Now().UTC())
	if err := db.Create(ctx, ev); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ev.PainLevel = 9
	ev.Medicated = true
	if err := db.Update(ctx, ev); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PainLevel != 9 || !got.Medicated {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Create(ctx, testEvent("a", 3, time.Now().UTC())); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := db.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := db.Delete(ctx, "a"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("event still present after delete")
	}
}

func TestFetchAllSortsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := db.Create(ctx, testEvent("older", 2, base)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := db.Create(ctx, testEvent("newer", 4, base.Add(24*time.Hour))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// No start time sorts last.
	noStart := &event.Event{ID: "unstarted", PainLevel: 1, ModifiedAt: base}
	if err := db.Create(ctx, noStart); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	all, err := db.FetchAll(ctx)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("FetchAll returned %d events, want 3", len(all))
	}
	if all[0].ID != "newer" || all[1].ID != "older" || all[2].ID != "unstarted" {
		t.Errorf("wrong order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestApplyMergeCommits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.ApplyMerge(ctx, func(tx *Tx) error {
		if err := tx.Upsert(ctx, testEvent("a", 5, time.Now().UTC())); err != nil {
			return err
		}
		return tx.Upsert(ctx, testEvent("b", 6, time.Now().UTC()))
	})
	if err != nil {
		t.Fatalf("ApplyMerge failed: %v", err)
	}

	n, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestApplyMergeRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Create(ctx, testEvent("keep", 5, time.Now().UTC())); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	boom := errors.New("boom")
	err := db.ApplyMerge(ctx, func(tx *Tx) error {
		if err := tx.Delete(ctx, "keep"); err != nil {
			return err
		}
		if err := tx.Upsert(ctx, testEvent("partial", 5, time.Now().UTC())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ApplyMerge = %v, want boom", err)
	}

	// Nothing inside the failed merge may be visible.
	kept, err := db.Get(ctx, "keep")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if kept == nil {
		t.Error("delete inside failed merge was applied")
	}
	partial, err := db.Get(ctx, "partial")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if partial != nil {
		t.Error("insert inside failed merge was applied")
	}
}

func TestTxGetSeesUncommittedWrites(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.ApplyMerge(ctx, func(tx *Tx) error {
		if err := tx.Upsert(ctx, testEvent("a", 5, time.Now().UTC())); err != nil {
			return err
		}
		got, err := tx.Get(ctx, "a")
		if err != nil {
			return err
		}
		if got == nil {
			t.Error("Tx.Get did not see uncommitted upsert")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ApplyMerge failed: %v", err)
	}
}
