// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/scorecard"
	"github.com/smukkama/demand-monitor/internal/store"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in name order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}
	return nil
}

// Store is a store.Store backed by PostgreSQL
type Store struct {
	db *DB
}

var _ store.Store = (*Store)(nil)

// New wraps a connected database
func New(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun inserts or updates a run record
func (s *Store) SaveRun(ctx context.Context, run store.Run) error {
	query := `
		INSERT INTO pipeline_runs (run_id, command, reference_time, started_at, finished_at, status, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE
		SET finished_at = EXCLUDED.finished_at,
		    status = EXCLUDED.status,
		    summary = EXCLUDED.summary
	`
	var finished, summary any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}
	if len(run.Summary) > 0 {
		summary = string(run.Summary)
	}
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Command, run.ReferenceTime.UTC(), run.StartedAt.UTC(), finished, run.Status, summary)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// SaveScorecard writes scorecard entries in one transaction
func (s *Store) SaveScorecard(ctx context.Context, runID, name string, entries []scorecard.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scorecard_entries (
			run_id, scorecard, entity, attributes, indexed_on, column_name,
			before_value, after_value, delta, percent_change, before_label, after_label
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, scorecard, entity, indexed_on, column_name) DO UPDATE
		SET attributes = EXCLUDED.attributes,
		    before_value = EXCLUDED.before_value,
		    after_value = EXCLUDED.after_value,
		    delta = EXCLUDED.delta,
		    percent_change = EXCLUDED.percent_change,
		    before_label = EXCLUDED.before_label,
		    after_label = EXCLUDED.after_label
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare scorecard insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		attrs, mErr := json.Marshal(e.Attributes)
		if mErr != nil {
			return fmt.Errorf("failed to encode attributes: %w", mErr)
		}
		if _, err = stmt.ExecContext(ctx,
			runID, name, e.Entity, string(attrs), e.IndexedOn, e.Column,
			e.Before, e.After, e.Delta, e.PercentChange,
			nullString(e.BeforeLabel), nullString(e.AfterLabel),
		); err != nil {
			return fmt.Errorf("failed to insert scorecard entry: %w", err)
		}
	}
	return tx.Commit()
}

// SaveChangeEvents upserts change events keyed by country, date and column
func (s *Store) SaveChangeEvents(ctx context.Context, runID string, events []restrictions.ChangeEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO change_events (
			country_code, event_date, column_name, previous_value, current_value,
			change_type, magnitude, run_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (country_code, event_date, column_name) DO UPDATE
		SET previous_value = EXCLUDED.previous_value,
		    current_value = EXCLUDED.current_value,
		    change_type = EXCLUDED.change_type,
		    magnitude = EXCLUDED.magnitude,
		    run_id = EXCLUDED.run_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare change event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err = stmt.ExecContext(ctx,
			e.Country, e.Date, e.Column, e.Previous, e.Current, e.Type, e.Magnitude, runID,
		); err != nil {
			return fmt.Errorf("failed to insert change event: %w", err)
		}
	}
	return tx.Commit()
}

// ChangeEventsSince returns events dated on or after since
func (s *Store) ChangeEventsSince(ctx context.Context, since time.Time) ([]restrictions.ChangeEvent, error) {
	query := `
		SELECT country_code, event_date, column_name, previous_value, current_value, change_type, magnitude
		FROM change_events
		WHERE event_date >= $1
		ORDER BY country_code, event_date, column_name
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query change events: %w", err)
	}
	defer rows.Close()

	var events []restrictions.ChangeEvent
	for rows.Next() {
		var e restrictions.ChangeEvent
		if err := rows.Scan(&e.Country, &e.Date, &e.Column, &e.Previous, &e.Current, &e.Type, &e.Magnitude); err != nil {
			return nil, err
		}
		e.Date = e.Date.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveSnapshot rotates the snapshot slots by date and writes snap
func (s *Store) SaveSnapshot(ctx context.Context, snap *restrictions.Snapshot) (err error) {
	if snap == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	slotDate := func(slot string) (time.Time, bool, error) {
		var d time.Time
		err := tx.QueryRowContext(ctx, `SELECT snapshot_date FROM restriction_snapshots WHERE slot = $1`, slot).Scan(&d)
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, fmt.Errorf("failed to read %s snapshot: %w", slot, err)
		}
		return d.UTC(), true, nil
	}
	current, hasCurrent, err := slotDate(store.SlotCurrent)
	if err != nil {
		return err
	}

	target := store.SlotCurrent
	switch {
	case !hasCurrent || current.Equal(snap.Date):
	case current.Before(snap.Date):
		if err = clearSlot(ctx, tx, store.SlotPrevious); err != nil {
			return err
		}
		for _, q := range []string{
			`UPDATE restriction_entries SET slot = $1 WHERE slot = $2`,
			`UPDATE restriction_snapshots SET slot = $1 WHERE slot = $2`,
		} {
			if _, err = tx.ExecContext(ctx, q, store.SlotPrevious, store.SlotCurrent); err != nil {
				return fmt.Errorf("failed to demote current snapshot: %w", err)
			}
		}
	default:
		// Backfill: only replace previous with something newer
		previous, hasPrevious, err := slotDate(store.SlotPrevious)
		if err != nil {
			return err
		}
		if hasPrevious && previous.After(snap.Date) {
			return tx.Rollback()
		}
		target = store.SlotPrevious
	}

	if err = clearSlot(ctx, tx, target); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO restriction_snapshots (slot, snapshot_date) VALUES ($1, $2)`,
		target, snap.Date,
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO restriction_entries (slot, origin, destination, entry_date, border, reasons)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range snap.Entries {
		if _, err = stmt.ExecContext(ctx, target, e.Origin, e.Destination, e.Date, e.Border, nullString(e.Reasons)); err != nil {
			return fmt.Errorf("failed to insert snapshot entry: %w", err)
		}
	}
	return tx.Commit()
}

func clearSlot(ctx context.Context, tx *sql.Tx, slot string) error {
	for _, q := range []string{
		`DELETE FROM restriction_entries WHERE slot = $1`,
		`DELETE FROM restriction_snapshots WHERE slot = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, slot); err != nil {
			return fmt.Errorf("failed to clear %s snapshot: %w", slot, err)
		}
	}
	return nil
}

// SnapshotBefore returns the newest kept snapshot dated before date
func (s *Store) SnapshotBefore(ctx context.Context, date time.Time) (*restrictions.Snapshot, error) {
	var (
		slot     string
		snapDate time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT slot, snapshot_date FROM restriction_snapshots
		WHERE snapshot_date < $1
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, date).Scan(&slot, &snapDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, destination, entry_date, border, COALESCE(reasons, '')
		FROM restriction_entries
		WHERE slot = $1
		ORDER BY origin, destination
	`, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot entries: %w", err)
	}
	defer rows.Close()

	snap := &restrictions.Snapshot{Date: snapDate.UTC()}
	for rows.Next() {
		var e restrictions.Entry
		if err := rows.Scan(&e.Origin, &e.Destination, &e.Date, &e.Border, &e.Reasons); err != nil {
			return nil, err
		}
		e.Date = e.Date.UTC()
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
