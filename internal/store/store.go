// Package store provides the durable SQLite event store.
//
// The store runs in embedded mode with WAL enabled for concurrent reads.
// Its transactional commit is the atomicity primitive the sync engine
// relies on: ApplyMerge exposes a single transaction whose scope covers an
// entire inbound merge, so an envelope is applied all-or-nothing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calebh/auralog/internal/event"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection holding the event log.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is created along with its schema if it doesn't exist.
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, path: path}

	// WAL for concurrent reads during writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// initSchema creates the events table if it doesn't exist. Idempotent.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		start_time TEXT,
		end_time TEXT,
		pain_level INTEGER NOT NULL DEFAULT 0,
		location TEXT NOT NULL DEFAULT '',
		aura INTEGER NOT NULL DEFAULT 0,
		nausea INTEGER NOT NULL DEFAULT 0,
		vomiting INTEGER NOT NULL DEFAULT 0,
		photophobia INTEGER NOT NULL DEFAULT 0,
		phonophobia INTEGER NOT NULL DEFAULT 0,
		stress_trigger INTEGER NOT NULL DEFAULT 0,
		sleep_trigger INTEGER NOT NULL DEFAULT 0,
		weather_trigger INTEGER NOT NULL DEFAULT 0,
		medicated INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_time);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Create inserts a new event. Fails if the id already exists.
func (db *DB) Create(ctx context.Context, ev *event.Event) error {
	return createEvent(ctx, db.conn, ev)
}

// Update replaces an existing event's fields.
func (db *DB) Update(ctx context.Context, ev *event.Event) error {
	return upsertEvent(ctx, db.conn, ev)
}

// Delete removes the event with the given id. Idempotent.
func (db *DB) Delete(ctx context.Context, id string) error {
	return deleteEvent(ctx, db.conn, id)
}

// Get returns the event with the given id, or (nil, nil) if absent.
func (db *DB) Get(ctx context.Context, id string) (*event.Event, error) {
	return getEvent(ctx, db.conn, id)
}

// FetchAll returns all events sorted by start time, newest first.
// Events without a start time sort last.
func (db *DB) FetchAll(ctx context.Context) ([]*event.Event, error) {
	query := selectColumns + ` FROM events ORDER BY start_time IS NULL, start_time DESC, id`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

// Count returns the number of stored events.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Tx exposes event operations scoped to a single transaction.
type Tx struct {
	tx *sql.Tx
}

// Upsert inserts or replaces an event within the transaction.
func (t *Tx) Upsert(ctx context.Context, ev *event.Event) error {
	return upsertEvent(ctx, t.tx, ev)
}

// Delete removes an event within the transaction. Idempotent.
func (t *Tx) Delete(ctx context.Context, id string) error {
	return deleteEvent(ctx, t.tx, id)
}

// Get returns an event within the transaction, or (nil, nil) if absent.
func (t *Tx) Get(ctx context.Context, id string) (*event.Event, error) {
	return getEvent(ctx, t.tx, id)
}

// ApplyMerge runs fn inside a single transaction.
//
// If fn returns an error the transaction is rolled back and no partial
// state is visible; otherwise the commit makes every mutation durable at
// once. This is the all-or-nothing guarantee the merge path depends on.
func (db *DB) ApplyMerge(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin merge transaction: %w", err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("merge failed (%v), rollback also failed: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge: %w", err)
	}
	return nil
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectColumns = `SELECT id, start_time, end_time, pain_level, location,
	aura, nausea, vomiting, photophobia, phonophobia,
	stress_trigger, sleep_trigger, weather_trigger, medicated,
	notes, modified_at`

const insertColumns = `(id, start_time, end_time, pain_level, location,
	aura, nausea, vomiting, photophobia, phonophobia,
	stress_trigger, sleep_trigger, weather_trigger, medicated,
	notes, modified_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func eventArgs(ev *event.Event) []any {
	return []any{
		ev.ID,
		timeToNullString(ev.StartTime),
		timeToNullString(ev.EndTime),
		ev.PainLevel,
		ev.Location,
		ev.Aura,
		ev.Nausea,
		ev.Vomiting,
		ev.Photophobia,
		ev.Phonophobia,
		ev.StressTrigger,
		ev.SleepTrigger,
		ev.WeatherTrigger,
		ev.Medicated,
		ev.Notes,
		ev.ModifiedAt.UTC().Format(time.RFC3339Nano),
	}
}

func createEvent(ctx context.Context, db execer, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	query := `INSERT INTO events ` + insertColumns
	if _, err := db.ExecContext(ctx, query, eventArgs(ev)...); err != nil {
		return fmt.Errorf("failed to create event %s: %w", ev.ID, err)
	}
	return nil
}

func upsertEvent(ctx context.Context, db execer, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	query := `INSERT INTO events ` + insertColumns + `
	ON CONFLICT(id) DO UPDATE SET
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		pain_level = excluded.pain_level,
		location = excluded.location,
		aura = excluded.aura,
		nausea = excluded.nausea,
		vomiting = excluded.vomiting,
		photophobia = excluded.photophobia,
		phonophobia = excluded.phonophobia,
		stress_trigger = excluded.stress_trigger,
		sleep_trigger = excluded.sleep_trigger,
		weather_trigger = excluded.weather_trigger,
		medicated = excluded.medicated,
		notes = excluded.notes,
		modified_at = excluded.modified_at
	`
	if _, err := db.ExecContext(ctx, query, eventArgs(ev)...); err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", ev.ID, err)
	}
	return nil
}

func deleteEvent(ctx context.Context, db execer, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

func getEvent(ctx context.Context, db execer, id string) (*event.Event, error) {
	row := db.QueryRowContext(ctx, selectColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*event.Event, error) {
	var (
		ev         event.Event
		start, end sql.NullString
		modified   string
	)
	err := row.Scan(
		&ev.ID, &start, &end, &ev.PainLevel, &ev.Location,
		&ev.Aura, &ev.Nausea, &ev.Vomiting, &ev.Photophobia, &ev.Phonophobia,
		&ev.StressTrigger, &ev.SleepTrigger, &ev.WeatherTrigger, &ev.Medicated,
		&ev.Notes, &modified,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if ev.StartTime, err = nullStringToTime(start); err != nil {
		return nil, fmt.Errorf("invalid start_time for %s: %w", ev.ID, err)
	}
	if ev.EndTime, err = nullStringToTime(end); err != nil {
		return nil, fmt.Errorf("invalid end_time for %s: %w", ev.ID, err)
	}
	if ev.ModifiedAt, err = time.Parse(time.RFC3339Nano, modified); err != nil {
		return nil, fmt.Errorf("invalid modified_at for %s: %w", ev.ID, err)
	}
	return &ev, nil
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
