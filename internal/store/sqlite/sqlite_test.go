package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/scorecard"
	"github.com/smukkama/demand-monitor/internal/store"
)

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snapshot(date, border string) *restrictions.Snapshot {
	d := day(date)
	return &restrictions.Snapshot{Date: d, Entries: []restrictions.Entry{
		{Origin: "FR", Destination: "US", Date: d, Border: border, Reasons: "Entry ban"},
		{Origin: "US", Destination: "FR", Date: d, Border: restrictions.Open},
	}}
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSnapshotRotation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	got, err := s.SnapshotBefore(ctx, day("2020-06-01"))
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-01", restrictions.Open)))
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-08", restrictions.Closed)))
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-15", restrictions.Closed)))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM restriction_snapshots`).Scan(&count))
	assert.Equal(t, 2, count, "only current and previous are kept")

	got, err = s.SnapshotBefore(ctx, day("2020-05-15"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, day("2020-05-08"), got.Date)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "FR", got.Entries[0].Origin)
	assert.Equal(t, restrictions.Closed, got.Entries[0].Border)
	assert.Equal(t, "Entry ban", got.Entries[0].Reasons)
	assert.Equal(t, "", got.Entries[1].Reasons)

	got, err = s.SnapshotBefore(ctx, day("2020-05-08"))
	require.NoError(t, err)
	assert.Nil(t, got, "the 2020-05-01 snapshot was rotated out")
}

func TestSnapshotSameDateReplacesCurrent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-01", restrictions.Open)))
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-08", restrictions.Open)))
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-08", restrictions.Closed)))

	got, err := s.SnapshotBefore(ctx, day("2020-06-01"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, day("2020-05-08"), got.Date)
	assert.Equal(t, restrictions.Closed, got.Entries[0].Border)

	got, err = s.SnapshotBefore(ctx, day("2020-05-08"))
	require.NoError(t, err)
	require.NotNil(t, got, "previous survives a same-date rerun")
	assert.Equal(t, day("2020-05-01"), got.Date)
}

func TestSnapshotBackfillKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-01", restrictions.Open)))
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-15", restrictions.Closed)))

	// Between previous and current: becomes previous.
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-05-08", restrictions.Restricted)))
	got, err := s.SnapshotBefore(ctx, day("2020-06-01"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, day("2020-05-15"), got.Date, "current is untouched")
	assert.Equal(t, restrictions.Closed, got.Entries[0].Border)

	got, err = s.SnapshotBefore(ctx, day("2020-05-15"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, day("2020-05-08"), got.Date)
	assert.Equal(t, restrictions.Restricted, got.Entries[0].Border)

	// Older than both: dropped.
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("2020-04-01", restrictions.Open)))
	got, err = s.SnapshotBefore(ctx, day("2020-05-15"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, day("2020-05-08"), got.Date)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM restriction_snapshots`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestChangeEventsUpsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	events := []restrictions.ChangeEvent{
		{Country: "FR", Date: day("2020-03-10"), Column: "C8", Previous: "Screening", Current: "Ban", Type: restrictions.MoreRestrictive, Magnitude: 2},
		{Country: "US", Date: day("2020-04-01"), Column: "C8", Previous: "Ban", Current: "Screening", Type: restrictions.LessRestrictive, Magnitude: -2},
	}
	require.NoError(t, s.SaveChangeEvents(ctx, "run-1", events))
	require.NoError(t, s.SaveChangeEvents(ctx, "run-2", events))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM change_events`).Scan(&count))
	assert.Equal(t, 2, count)

	got, err := s.ChangeEventsSince(ctx, day("2020-03-15"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events[1], got[0])

	got, err = s.ChangeEventsSince(ctx, day("2020-01-01"))
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestSaveScorecard(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	before, after, delta := 10.0, 5.0, -5.0
	entries := []scorecard.Entry{
		{Entity: "FR", Attributes: map[string]string{"Region": "Europe"}, IndexedOn: "purchase", Column: "Pax", Before: &before, After: &after, Delta: &delta},
		{Entity: "FR", IndexedOn: "purchase", Column: "C8 Label", BeforeLabel: "Screening", AfterLabel: "Ban"},
	}
	require.NoError(t, s.SaveScorecard(ctx, "run-1", "country", entries))
	require.NoError(t, s.SaveScorecard(ctx, "run-1", "country", entries))
	require.NoError(t, s.SaveScorecard(ctx, "run-1", "market", nil))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM scorecard_entries`).Scan(&count))
	assert.Equal(t, 2, count)

	var (
		attrs string
		pct   *float64
		label *string
	)
	require.NoError(t, s.db.QueryRow(
		`SELECT attributes, percent_change, before_label FROM scorecard_entries WHERE column_name = 'Pax'`,
	).Scan(&attrs, &pct, &label))
	assert.JSONEq(t, `{"Region":"Europe"}`, attrs)
	assert.Nil(t, pct)
	assert.Nil(t, label)
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	run := store.Run{
		ID:            "run-1",
		Command:       "run",
		ReferenceTime: day("2020-06-01"),
		StartedAt:     time.Date(2020, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveRun(ctx, run))

	run.FinishedAt = run.StartedAt.Add(time.Minute)
	run.Status = store.RunSucceeded
	run.Summary = []byte(`{"markets":3}`)
	require.NoError(t, s.SaveRun(ctx, run))

	var status, summary string
	require.NoError(t, s.db.QueryRow(`SELECT status, summary FROM pipeline_runs WHERE run_id = ?`, "run-1").Scan(&status, &summary))
	assert.Equal(t, store.RunSucceeded, status)
	assert.JSONEq(t, `{"markets":3}`, summary)
}
