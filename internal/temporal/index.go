package temporal

import (
	"fmt"
	"math"

	"github.com/smukkama/demand-monitor/internal/table"
)

// Column suffixes produced by BeforeAfterIndex
const (
	PctChangeSuffix = "_Pct_Change"
	PrevSuffix      = "_Prev"
	DeltaSuffix     = "_Delta"
)

// PercentChange compares after with before. The sign flips when the value is
// negative and still falling, so -10 to -20 reads as -300 rather than +100.
// A zero before yields an infinity or NaN for the caller to scrub.
func PercentChange(before, after float64) float64 {
	sign := 1.0
	if after < 0 && after-before < 0 {
		sign = -1
	}
	return 100 * (math.Abs(after/before)*sign - 1)
}

// BeforeAfterIndex aggregates columns over two date windows per key and
// compares them. Number columns aggregate by mean, all other kinds by max.
// Keys present in only one window keep nulls on the other side.
//
// For every Number column c the output carries c_Pct_Change, c (after),
// c_Prev (before) and c_Delta; categorical columns carry only c and c_Prev.
func BeforeAfterIndex(data *table.Table, dateColumn string, before, after DateRange, keys, columns []string) (*table.Table, error) {
	if err := data.Require(append(append([]string{dateColumn}, keys...), columns...)...); err != nil {
		return nil, fmt.Errorf("before/after index: %w", err)
	}
	aggs := table.ByKind(data, columns...)

	afterAgg, err := data.Filter(InRange(dateColumn, after)).GroupBy(keys, aggs)
	if err != nil {
		return nil, fmt.Errorf("before/after index after window: %w", err)
	}
	beforeAgg, err := data.Filter(InRange(dateColumn, before)).GroupBy(keys, aggs)
	if err != nil {
		return nil, fmt.Errorf("before/after index before window: %w", err)
	}
	beforeAgg = beforeAgg.RenameFunc(func(n string) string {
		for _, k := range keys {
			if n == k {
				return n
			}
		}
		return n + PrevSuffix
	})

	aligned, err := table.Join(afterAgg, beforeAgg, table.JoinOptions{On: keys, How: table.OuterJoin})
	if err != nil {
		return nil, fmt.Errorf("before/after index align: %w", err)
	}

	var numeric []string
	for _, c := range columns {
		if k, _ := data.Kind(c); !k.Categorical() {
			numeric = append(numeric, c)
		}
	}
	for _, c := range numeric {
		col := c
		aligned = aligned.WithColumn(table.NumberCol(col+PctChangeSuffix), func(row table.Row) table.Value {
			a, okA := row.Float(col)
			b, okB := row.Float(col + PrevSuffix)
			if !okA || !okB {
				return table.Null(table.Number)
			}
			return table.Num(PercentChange(b, a))
		})
		aligned = aligned.WithColumn(table.NumberCol(col+DeltaSuffix), func(row table.Row) table.Value {
			a, okA := row.Float(col)
			b, okB := row.Float(col + PrevSuffix)
			if !okA || !okB {
				return table.Null(table.Number)
			}
			return table.Num(a - b)
		})
	}

	order := append([]string(nil), keys...)
	for _, c := range numeric {
		order = append(order, c+PctChangeSuffix)
	}
	order = append(order, columns...)
	for _, c := range columns {
		order = append(order, c+PrevSuffix)
	}
	for _, c := range numeric {
		order = append(order, c+DeltaSuffix)
	}
	out, err := aligned.Select(order...)
	if err != nil {
		return nil, err
	}
	return out.Sort(keys...), nil
}
