// Package store persists pipeline outputs.
package store

import (
	"context"
	"time"

	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/scorecard"
)

// Run statuses
const (
	RunStarted   = "started"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run records one pipeline execution
type Run struct {
	ID            string
	Command       string
	ReferenceTime time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        string
	// Summary is a JSON document of run counters.
	Summary []byte
}

// Store persists scorecards, change events, restriction snapshots and runs.
// Only the two most recent restriction snapshots are kept.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	SaveScorecard(ctx context.Context, runID, name string, entries []scorecard.Entry) error
	SaveChangeEvents(ctx context.Context, runID string, events []restrictions.ChangeEvent) error
	ChangeEventsSince(ctx context.Context, since time.Time) ([]restrictions.ChangeEvent, error)
	// SaveSnapshot makes snap the current snapshot. A later date demotes the
	// current one to previous; the same date replaces it. An earlier date
	// replaces previous only when newer than it.
	SaveSnapshot(ctx context.Context, snap *restrictions.Snapshot) error
	// SnapshotBefore returns the newest kept snapshot dated strictly before
	// date, or nil.
	SnapshotBefore(ctx context.Context, date time.Time) (*restrictions.Snapshot, error)
	Close() error
}

// Snapshot slots
const (
	SlotCurrent  = "current"
	SlotPrevious = "previous"
)

// NopStore discards everything
type NopStore struct{}

func (s *NopStore) SaveRun(ctx context.Context, run Run) error {
	_ = ctx
	_ = run
	return nil
}

func (s *NopStore) SaveScorecard(ctx context.Context, runID, name string, entries []scorecard.Entry) error {
	_ = ctx
	_ = entries
	return nil
}

func (s *NopStore) SaveChangeEvents(ctx context.Context, runID string, events []restrictions.ChangeEvent) error {
	_ = ctx
	_ = events
	return nil
}

func (s *NopStore) ChangeEventsSince(ctx context.Context, since time.Time) ([]restrictions.ChangeEvent, error) {
	_ = ctx
	_ = since
	return nil, nil
}

func (s *NopStore) SaveSnapshot(ctx context.Context, snap *restrictions.Snapshot) error {
	_ = ctx
	_ = snap
	return nil
}

func (s *NopStore) SnapshotBefore(ctx context.Context, date time.Time) (*restrictions.Snapshot, error) {
	_ = ctx
	_ = date
	return nil, nil
}

func (s *NopStore) Close() error {
	return nil
}
