// Package scorecard compares recent activity against a fixed pre-crisis
// baseline and against the previous week.
package scorecard

import (
	"fmt"
	"strings"
	"time"

	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// IndexedOn names the baseline that produced a scorecard row
const IndexedOn = "Indexed_on"

// Config controls the comparison windows
type Config struct {
	DateColumn string
	// PreCrisis is the fixed baseline week. Point-in-time comparisons use
	// its last day.
	PreCrisis         temporal.DateRange
	PreCrisisLabel    string
	WeekOverWeekLabel string
	// Indicators must all be non-null on the last day of the latest window.
	Indicators   []string
	LookbackDays int
	// ClipBound limits percent changes to [-ClipBound, ClipBound]; zero disables.
	ClipBound float64
}

// DefaultConfig returns the third week of January 2020 as baseline
func DefaultConfig() Config {
	return Config{
		DateColumn: "date",
		PreCrisis: temporal.NewRange(
			time.Date(2020, 1, 13, 0, 0, 0, 0, time.UTC),
			time.Date(2020, 1, 19, 0, 0, 0, 0, time.UTC),
		),
		PreCrisisLabel:    "Pre-crisis (Third week of 2020)",
		WeekOverWeekLabel: "Previous week",
		LookbackDays:      6,
		ClipBound:         300,
	}
}

// Windows are the date ranges of one scorecard run
type Windows struct {
	Latest       temporal.DateRange
	PreCrisis    temporal.DateRange
	PreviousWeek temporal.DateRange
}

// Engine computes scorecards for one configuration
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.DateColumn == "" {
		cfg.DateColumn = "date"
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// Windows derives the latest window from the data. It fails with
// temporal.ErrIncoherentWindow when no day has every indicator set.
func (e *Engine) Windows(data *table.Table) (Windows, error) {
	latest, err := temporal.LatestWindow(data, e.cfg.DateColumn, e.cfg.Indicators, e.cfg.LookbackDays)
	if err != nil {
		return Windows{}, err
	}
	return Windows{
		Latest:       latest,
		PreCrisis:    e.cfg.PreCrisis,
		PreviousWeek: latest.Shift(-7),
	}, nil
}

type comparison struct {
	label         string
	before, after temporal.DateRange
}

// Compute runs the pre-crisis and week-over-week comparisons over the given
// windows and stacks them with an Indexed_on column.
func (e *Engine) Compute(data *table.Table, w Windows, keys, columns []string) (*table.Table, error) {
	return e.compare(data, keys, columns, []comparison{
		{e.cfg.PreCrisisLabel, w.PreCrisis, w.Latest},
		{e.cfg.WeekOverWeekLabel, w.PreviousWeek, w.Latest},
	})
}

// ComputePointInTime compares single days: the last day of the latest window
// against the last pre-crisis day and against the same day a week earlier.
// Used for slow-moving ordinal columns such as restriction levels.
func (e *Engine) ComputePointInTime(data *table.Table, w Windows, keys, columns []string) (*table.Table, error) {
	latest := temporal.Point(w.Latest.End)
	return e.compare(data, keys, columns, []comparison{
		{e.cfg.PreCrisisLabel, temporal.Point(w.PreCrisis.End), latest},
		{e.cfg.WeekOverWeekLabel, latest.Shift(-7), latest},
	})
}

func (e *Engine) compare(data *table.Table, keys, columns []string, runs []comparison) (*table.Table, error) {
	parts := make([]*table.Table, 0, len(runs))
	for _, c := range runs {
		idx, err := temporal.BeforeAfterIndex(data, e.cfg.DateColumn, c.before, c.after, keys, columns)
		if err != nil {
			return nil, fmt.Errorf("scorecard %q: %w", c.label, err)
		}
		label := c.label
		parts = append(parts, idx.WithColumn(table.TextCol(IndexedOn), func(table.Row) table.Value {
			return table.Str(label)
		}))
	}
	stacked, err := table.Concat(parts...)
	if err != nil {
		return nil, fmt.Errorf("scorecard union: %w", err)
	}
	return e.finish(stacked), nil
}

// finish scrubs infinities and clips percent changes. It runs once per
// scorecard, at the output boundary, for every comparison alike.
func (e *Engine) finish(t *table.Table) *table.Table {
	out := temporal.ScrubNonFinite(t)
	if e.cfg.ClipBound > 0 {
		out = temporal.Clip(out, PercentColumns(out), e.cfg.ClipBound)
	}
	return out
}

// PercentColumns lists the percent-change columns of a scorecard
func PercentColumns(t *table.Table) []string {
	var out []string
	for _, n := range t.Names() {
		if strings.HasSuffix(n, temporal.PctChangeSuffix) {
			out = append(out, n)
		}
	}
	return out
}

// Combine left-joins a point-in-time scorecard onto the main one by keys and
// Indexed_on.
func Combine(main, pointInTime *table.Table, keys []string) (*table.Table, error) {
	on := append(append([]string(nil), keys...), IndexedOn)
	out, err := table.Join(main, pointInTime, table.JoinOptions{On: on, How: table.LeftJoin})
	if err != nil {
		return nil, fmt.Errorf("combine scorecards: %w", err)
	}
	return out, nil
}

// Humanize replaces underscores with spaces in every column name. Apply it
// only when writing output.
func Humanize(t *table.Table) *table.Table {
	return t.RenameFunc(HumanName)
}

// HumanName is the output name of a column
func HumanName(column string) string {
	return strings.ReplaceAll(column, "_", " ")
}
