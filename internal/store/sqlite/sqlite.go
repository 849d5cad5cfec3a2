// Package sqlite implements store.Store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/scorecard"
	"github.com/smukkama/demand-monitor/internal/store"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) SaveRun(ctx context.Context, run store.Run) error {
	var finished, summary any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC().Format(timeLayout)
	}
	if len(run.Summary) > 0 {
		summary = string(run.Summary)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (run_id, command, reference_time, started_at, finished_at, status, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			summary = excluded.summary
	`,
		run.ID, run.Command,
		run.ReferenceTime.UTC().Format(timeLayout),
		run.StartedAt.UTC().Format(timeLayout),
		finished, run.Status, summary,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) SaveScorecard(ctx context.Context, runID, name string, entries []scorecard.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, scorecard, entity, indexed_on, column_name)
		DO UPDATE SET
			attributes = excluded.attributes,
			before_value = excluded.before_value,
			after_value = excluded.after_value,
			delta = excluded.delta,
			percent_change = excluded.percent_change,
			before_label = excluded.before_label,
			after_label = excluded.after_label
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		attrs, mErr := json.Marshal(e.Attributes)
		if mErr != nil {
			err = mErr
			return err
		}
		_, err = stmt.ExecContext(ctx,
			runID, name, e.Entity, string(attrs), e.IndexedOn, e.Column,
			e.Before, e.After, e.Delta, e.PercentChange,
			nullText(e.BeforeLabel), nullText(e.AfterLabel),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert scorecard entry: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) SaveChangeEvents(ctx context.Context, runID string, events []restrictions.ChangeEvent) (err error) {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(country_code, event_date, column_name)
		DO UPDATE SET
			previous_value = excluded.previous_value,
			current_value = excluded.current_value,
			change_type = excluded.change_type,
			magnitude = excluded.magnitude,
			run_id = excluded.run_id
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		_, err = stmt.ExecContext(ctx,
			e.Country, e.Date.UTC().Format(dateLayout), e.Column,
			e.Previous, e.Current, e.Type, e.Magnitude, runID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert change event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ChangeEventsSince(ctx context.Context, since time.Time) ([]restrictions.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT country_code, event_date, column_name, previous_value, current_value, change_type, magnitude
		FROM change_events
		WHERE event_date >= ?
		ORDER BY country_code, event_date, column_name
	`, since.UTC().Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []restrictions.ChangeEvent
	for rows.Next() {
		var (
			e    restrictions.ChangeEvent
			date string
		)
		if err := rows.Scan(&e.Country, &date, &e.Column, &e.Previous, &e.Current, &e.Type, &e.Magnitude); err != nil {
			return nil, err
		}
		if e.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("sqlite: event date %q: %w", date, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveSnapshot writes snap as current, demoting an older current snapshot to
// previous. A snapshot older than current replaces previous when it is newer
// than it and is dropped otherwise.
func (s *Store) SaveSnapshot(ctx context.Context, snap *restrictions.Snapshot) (err error) {
	if snap == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	date := snap.Date.UTC().Format(dateLayout)
	slotDate := func(slot string) (string, bool, error) {
		var d string
		err := tx.QueryRowContext(ctx, `SELECT snapshot_date FROM restriction_snapshots WHERE slot = ?`, slot).Scan(&d)
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return d, err == nil, err
	}
	current, hasCurrent, err := slotDate(store.SlotCurrent)
	if err != nil {
		return err
	}

	target := store.SlotCurrent
	switch {
	case !hasCurrent || current == date:
	case current < date:
		if err = s.moveSlot(ctx, tx, store.SlotCurrent, store.SlotPrevious); err != nil {
			return err
		}
	default:
		// Backfill: only replace previous with something newer
		previous, hasPrevious, err := slotDate(store.SlotPrevious)
		if err != nil {
			return err
		}
		if hasPrevious && previous > date {
			return tx.Rollback()
		}
		target = store.SlotPrevious
	}

	if err = clearSlot(ctx, tx, target); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO restriction_snapshots (slot, snapshot_date, saved_at) VALUES (?, ?, ?)`,
		target, date, time.Now().UTC().Format(timeLayout),
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO restriction_entries (slot, origin, destination, entry_date, border, reasons)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range snap.Entries {
		_, err = stmt.ExecContext(ctx,
			target, e.Origin, e.Destination,
			e.Date.UTC().Format(dateLayout), e.Border, nullText(e.Reasons),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert snapshot entry: %w", err)
		}
	}
	return tx.Commit()
}

// moveSlot replaces the contents of to with those of from
func (s *Store) moveSlot(ctx context.Context, tx *sql.Tx, from, to string) error {
	if err := clearSlot(ctx, tx, to); err != nil {
		return err
	}
	for _, q := range []string{
		`UPDATE restriction_entries SET slot = ? WHERE slot = ?`,
		`UPDATE restriction_snapshots SET slot = ? WHERE slot = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, to, from); err != nil {
			return err
		}
	}
	return nil
}

func clearSlot(ctx context.Context, tx *sql.Tx, slot string) error {
	for _, q := range []string{
		`DELETE FROM restriction_entries WHERE slot = ?`,
		`DELETE FROM restriction_snapshots WHERE slot = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, slot); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SnapshotBefore(ctx context.Context, date time.Time) (*restrictions.Snapshot, error) {
	var slot, snapDate string
	err := s.db.QueryRowContext(ctx, `
		SELECT slot, snapshot_date FROM restriction_snapshots
		WHERE snapshot_date < ?
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, date.UTC().Format(dateLayout)).Scan(&slot, &snapDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &restrictions.Snapshot{}
	if snap.Date, err = time.Parse(dateLayout, snapDate); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, destination, entry_date, border, COALESCE(reasons, '')
		FROM restriction_entries
		WHERE slot = ?
		ORDER BY origin, destination
	`, slot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e         restrictions.Entry
			entryDate string
		)
		if err := rows.Scan(&e.Origin, &e.Destination, &entryDate, &e.Border, &e.Reasons); err != nil {
			return nil, err
		}
		if e.Date, err = time.Parse(dateLayout, entryDate); err != nil {
			return nil, err
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			reference_time TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			summary TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS scorecard_entries (
			run_id TEXT NOT NULL,
			scorecard TEXT NOT NULL,
			entity TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			indexed_on TEXT NOT NULL,
			column_name TEXT NOT NULL,
			before_value REAL,
			after_value REAL,
			delta REAL,
			percent_change REAL,
			before_label TEXT,
			after_label TEXT,
			PRIMARY KEY (run_id, scorecard, entity, indexed_on, column_name)
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			country_code TEXT NOT NULL,
			event_date TEXT NOT NULL,
			column_name TEXT NOT NULL,
			previous_value TEXT NOT NULL,
			current_value TEXT NOT NULL,
			change_type TEXT NOT NULL,
			magnitude REAL NOT NULL,
			run_id TEXT NOT NULL,
			PRIMARY KEY (country_code, event_date, column_name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_date ON change_events(event_date);`,
		`CREATE TABLE IF NOT EXISTS restriction_snapshots (
			slot TEXT PRIMARY KEY CHECK (slot IN ('current', 'previous')),
			snapshot_date TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS restriction_entries (
			slot TEXT NOT NULL,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			entry_date TEXT NOT NULL,
			border TEXT NOT NULL,
			reasons TEXT,
			PRIMARY KEY (slot, origin, destination)
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}
	return nil
}
