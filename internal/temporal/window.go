// Package temporal aligns time series keyed by date: trailing-year joins,
// before/after window indices and as-of fills.
package temporal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/smukkama/demand-monitor/internal/table"
)

// ErrIncoherentWindow means no row carries every indicator needed to derive
// the latest comparison window.
var ErrIncoherentWindow = errors.New("latest window cannot be derived")

// DateRange is an inclusive range of calendar days
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewRange builds a range from two dates, truncated to days
func NewRange(start, end time.Time) DateRange {
	return DateRange{Start: truncate(start), End: truncate(end)}
}

// ParseRange parses two YYYY-MM-DD dates
func ParseRange(start, end string) (DateRange, error) {
	s, err := time.Parse(table.DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid range start %q: %w", start, err)
	}
	e, err := time.Parse(table.DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid range end %q: %w", end, err)
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("range end %s before start %s", end, start)
	}
	return NewRange(s, e), nil
}

func (r DateRange) Contains(t time.Time) bool {
	t = truncate(t)
	return !t.Before(r.Start) && !t.After(r.End)
}

// Shift moves both ends by the given number of days
func (r DateRange) Shift(days int) DateRange {
	return DateRange{Start: r.Start.AddDate(0, 0, days), End: r.End.AddDate(0, 0, days)}
}

func (r DateRange) String() string {
	return r.Start.Format(table.DateLayout) + ".." + r.End.Format(table.DateLayout)
}

// Point is a single-day range
func Point(t time.Time) DateRange {
	return NewRange(t, t)
}

func truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// InRange is a row predicate on a date column
func InRange(dateColumn string, r DateRange) func(table.Row) bool {
	return func(row table.Row) bool {
		d, ok := row.Get(dateColumn).AsTime()
		return ok && r.Contains(d)
	}
}

// Coverage returns the range spanned by a date column
func Coverage(t *table.Table, dateColumn string) (DateRange, bool) {
	lo, hi, ok := t.Bounds(dateColumn)
	if !ok {
		return DateRange{}, false
	}
	start, _ := lo.AsTime()
	end, _ := hi.AsTime()
	return NewRange(start, end), true
}

// LatestWindow finds the most recent date on which every indicator column is
// non-null and returns the window ending there, lookbackDays long before it.
func LatestWindow(t *table.Table, dateColumn string, indicators []string, lookbackDays int) (DateRange, error) {
	if err := t.Require(append([]string{dateColumn}, indicators...)...); err != nil {
		return DateRange{}, fmt.Errorf("latest window: %w", err)
	}
	var latest time.Time
	found := false
	t.Each(func(row table.Row) {
		d, ok := row.Get(dateColumn).AsTime()
		if !ok {
			return
		}
		for _, col := range indicators {
			if row.Get(col).IsNull() {
				return
			}
		}
		if !found || d.After(latest) {
			latest, found = d, true
		}
	})
	if !found {
		return DateRange{}, fmt.Errorf("%w: no row has %v all set", ErrIncoherentWindow, indicators)
	}
	return NewRange(latest.AddDate(0, 0, -lookbackDays), latest), nil
}

// ScrubNonFinite replaces infinities and NaN in every Number column with null
func ScrubNonFinite(t *table.Table) *table.Table {
	return t.Map(t.NumericColumns(), func(_ string, v table.Value) table.Value {
		f, ok := v.AsFloat()
		if !ok {
			return v
		}
		return table.NumOrNull(f)
	})
}

// Clip bounds the named Number columns to [-bound, bound]
func Clip(t *table.Table, columns []string, bound float64) *table.Table {
	return t.Map(columns, func(_ string, v table.Value) table.Value {
		f, ok := v.AsFloat()
		if !ok || math.IsNaN(f) {
			return v
		}
		return table.Num(math.Max(-bound, math.Min(bound, f)))
	})
}
