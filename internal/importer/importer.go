// Package importer performs the one-time migration of a pre-sync-era
// JSONL export into the event store.
//
// The import only ever creates live events. It never touches the
// tombstone registry: records absent from the legacy file were never
// synced, so there is nothing to mark deleted. A marker file gates the
// daemon so sync cannot start against a half-imported store.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/calebh/auralog/internal/event"
	"github.com/calebh/auralog/internal/store"
)

// Options configures a legacy import run.
type Options struct {
	// FromJSONL is the legacy export, one event record per line.
	FromJSONL string

	// MarkerPath is written after a successful import. If it already
	// exists the import is skipped.
	MarkerPath string

	// DryRun parses and validates without writing to the store.
	DryRun bool

	// Logger for import activity.
	Logger *log.Logger
}

// Result holds statistics from an import run.
type Result struct {
	Imported    int
	Skipped     int
	AssignedIDs int
	Errors      []string
}

// Run reads the legacy JSONL file and inserts every record into the
// store. Records without an identifier are assigned a fresh one.
// Records that fail validation are skipped and reported, not fatal.
func Run(ctx context.Context, db *store.DB, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}

	if opts.MarkerPath != "" {
		if _, err := os.Stat(opts.MarkerPath); err == nil {
			logger.Println("Import already completed, skipping")
			return &Result{}, nil
		}
	}

	if _, err := os.Stat(opts.FromJSONL); err != nil {
		return nil, fmt.Errorf("legacy file does not exist: %w", err)
	}

	// #nosec G304 - controlled path from configuration
	file, err := os.Open(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy file: %w", err)
	}
	defer file.Close()

	result := &Result{}
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		var ev event.Event
		if err := decoder.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum+1, err)
		}
		lineNum++

		// Pre-sync records carry no identifier.
		if ev.ID == "" {
			ev.ID = event.NewID()
			result.AssignedIDs++
		}
		if ev.ModifiedAt.IsZero() {
			ev.ModifiedAt = time.Now()
		}

		if err := ev.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors,
				fmt.Sprintf("record %d invalid: %v", lineNum, err))
			continue
		}

		if !opts.DryRun {
			if err := db.Create(ctx, &ev); err != nil {
				result.Skipped++
				result.Errors = append(result.Errors,
					fmt.Sprintf("record %d insert failed: %v", lineNum, err))
				continue
			}
		}
		result.Imported++
	}

	logger.Printf("Imported %d events (%d new ids assigned, %d skipped)",
		result.Imported, result.AssignedIDs, result.Skipped)

	if opts.MarkerPath != "" && !opts.DryRun {
		stamp := time.Now().Format(time.RFC3339) + "\n"
		if err := os.WriteFile(opts.MarkerPath, []byte(stamp), 0o600); err != nil {
			return result, fmt.Errorf("import succeeded but marker write failed: %w", err)
		}
	}

	return result, nil
}

// Done reports whether the completion marker exists.
func Done(markerPath string) bool {
	_, err := os.Stat(markerPath)
	return err == nil
}
