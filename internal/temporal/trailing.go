package temporal

import (
	"fmt"
	"time"

	"github.com/smukkama/demand-monitor/internal/table"
)

// PrevYearSuffix is appended to reference value columns by TrailingYearJoin
const PrevYearSuffix = "_Prev_Year"

// Offset is a calendar shift. Year and month steps clamp to the end of the
// month, so Feb 29 moves to Feb 28 rather than spilling into March.
type Offset struct {
	Years  int
	Months int
	Days   int
}

// OneYear is the default trailing-year offset
var OneYear = Offset{Years: 1}

// Apply shifts t by the offset
func (o Offset) Apply(t time.Time) time.Time {
	months := o.Years*12 + o.Months
	if months != 0 {
		y, m, d := t.Date()
		first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
		last := first.AddDate(0, 1, -1).Day()
		if d > last {
			d = last
		}
		t = time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}
	return t.AddDate(0, 0, o.Days)
}

// TrailingYearJoin aligns data with the same data one offset earlier.
//
// Reference dates are shifted forward by offset and outer-joined on
// keys+dateColumn; shifted rows past the last date in data are discarded.
// Prior-year columns carry PrevYearSuffix. Missing values become 0 only on
// dates within the coverage of the side they belong to, so no zeros are
// invented before a source starts. Rows that are zero or null on every value
// column of both sides are dropped.
func TrailingYearJoin(data, reference *table.Table, keys []string, dateColumn string, values []string, offset Offset) (*table.Table, error) {
	on := append(append([]string(nil), keys...), dateColumn)
	if err := data.Require(append(on, values...)...); err != nil {
		return nil, fmt.Errorf("trailing year join data: %w", err)
	}
	if err := reference.Require(append(on, values...)...); err != nil {
		return nil, fmt.Errorf("trailing year join reference: %w", err)
	}

	current, err := data.Select(append(on, values...)...)
	if err != nil {
		return nil, err
	}
	currentRange, hasCurrent := Coverage(current, dateColumn)

	renames := make(map[string]string, len(values))
	prevValues := make([]string, len(values))
	for i, v := range values {
		prevValues[i] = v + PrevYearSuffix
		renames[v] = prevValues[i]
	}

	prior, err := reference.Select(append(on, values...)...)
	if err != nil {
		return nil, err
	}
	prior = prior.WithColumn(table.DateCol(dateColumn), func(row table.Row) table.Value {
		d, ok := row.Get(dateColumn).AsTime()
		if !ok {
			return table.Null(table.Date)
		}
		return table.Day(offset.Apply(d))
	})
	// Without data there is no last date, so no shifted row is kept.
	prior = prior.Filter(func(row table.Row) bool {
		d, ok := row.Get(dateColumn).AsTime()
		return ok && hasCurrent && !d.After(currentRange.End)
	})
	// Calendar clamping can fold two reference days onto one.
	prior, err = prior.Rename(renames).GroupBy(on, table.SumOf(prevValues...))
	if err != nil {
		return nil, fmt.Errorf("trailing year join: %w", err)
	}
	priorRange, hasPrior := Coverage(prior, dateColumn)

	merged, err := table.Join(current, prior, table.JoinOptions{On: on, How: table.OuterJoin})
	if err != nil {
		return nil, fmt.Errorf("trailing year join: %w", err)
	}

	merged = fillWithin(merged, dateColumn, values, currentRange, hasCurrent)
	merged = fillWithin(merged, dateColumn, prevValues, priorRange, hasPrior)

	all := append(append([]string(nil), values...), prevValues...)
	return merged.Filter(func(row table.Row) bool {
		for _, c := range all {
			if !row.Get(c).IsZero() {
				return true
			}
		}
		return false
	}), nil
}

func fillWithin(t *table.Table, dateColumn string, columns []string, r DateRange, ok bool) *table.Table {
	if !ok {
		return t
	}
	covered := InRange(dateColumn, r)
	out := t
	for _, c := range columns {
		col := c
		out = out.WithColumn(table.NumberCol(col), func(row table.Row) table.Value {
			v := row.Get(col)
			if v.IsNull() && covered(row) {
				return table.Num(0)
			}
			return v
		})
	}
	return out
}

// FillForward carries the last non-null value of each column forward within
// each group, in date order. The result is sorted by group then date.
func FillForward(t *table.Table, groups []string, dateColumn string, columns []string) (*table.Table, error) {
	if err := t.Require(append(append(append([]string(nil), groups...), dateColumn), columns...)...); err != nil {
		return nil, fmt.Errorf("fill forward: %w", err)
	}
	sorted := t.Sort(append(append([]string(nil), groups...), dateColumn)...)

	groupKey := func(row table.Row) string {
		var k string
		for _, g := range groups {
			k += row.Get(g).String() + "\x1f"
		}
		return k
	}

	out := sorted
	for _, c := range columns {
		col := c
		kind, _ := sorted.Kind(col)
		last := make(map[string]table.Value)
		out = out.WithColumn(table.Column{Name: col, Kind: kind}, func(row table.Row) table.Value {
			k := groupKey(row)
			v := row.Get(col)
			if v.IsNull() {
				if prev, ok := last[k]; ok {
					return prev
				}
				return v
			}
			last[k] = v
			return v
		})
	}
	return out, nil
}
