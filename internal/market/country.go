package market

import (
	"fmt"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// TravelTypes in pivot column order
var TravelTypes = []string{geo.Domestic, geo.Continental, geo.Intercontinental}

// PivotByTravelType folds a directional series into a country series keyed
// by (country_code, date), with one summed column per travel type named
// prefix_<TravelType> and a prefix total. The country is taken from codeCol.
// Rows without a code or travel type are left out.
func PivotByTravelType(t *table.Table, codeCol, value, prefix string) (*table.Table, error) {
	if err := t.Require(codeCol, DateColumn, TravelType, value); err != nil {
		return nil, fmt.Errorf("pivot %s: %w", prefix, err)
	}
	known := t.Filter(func(row table.Row) bool {
		return !row.Get(codeCol).IsNull() && !row.Get(DateColumn).IsNull() && !row.Get(TravelType).IsNull()
	})
	grouped, err := known.GroupBy([]string{codeCol, DateColumn, TravelType}, table.SumOf(value))
	if err != nil {
		return nil, fmt.Errorf("pivot %s: %w", prefix, err)
	}

	cols := []table.Column{table.TextCol(geo.CodeColumn), table.DateCol(DateColumn)}
	slot := make(map[string]int, len(TravelTypes))
	for i, tt := range TravelTypes {
		cols = append(cols, table.NumberCol(prefix+"_"+tt))
		slot[tt] = i
	}
	cols = append(cols, table.NumberCol(prefix))
	out := table.New(cols...)

	type cell struct {
		code, date table.Value
		sums       []table.Value
	}
	cells := make(map[string]*cell)
	var order []string
	grouped.Each(func(row table.Row) {
		code, date := row.Get(codeCol), row.Get(DateColumn)
		k := code.String() + "|" + date.String()
		c, ok := cells[k]
		if !ok {
			c = &cell{code: code, date: date, sums: make([]table.Value, len(TravelTypes))}
			for i := range c.sums {
				c.sums[i] = table.Null(table.Number)
			}
			cells[k] = c
			order = append(order, k)
		}
		tt, _ := row.Get(TravelType).AsString()
		if i, ok := slot[tt]; ok {
			c.sums[i] = row.Get(value)
		}
	})
	for _, k := range order {
		c := cells[k]
		vals := append([]table.Value{c.code, c.date}, c.sums...)
		total, seen := 0.0, false
		for _, v := range c.sums {
			if f, ok := v.AsFloat(); ok {
				total, seen = total+f, true
			}
		}
		if seen {
			vals = append(vals, table.Num(total))
		} else {
			vals = append(vals, table.Null(table.Number))
		}
		if err := out.Append(vals...); err != nil {
			return nil, err
		}
	}
	return out.Sort(geo.CodeColumn, DateColumn), nil
}

// Consolidate outer-joins country series on (country_code, date)
func Consolidate(series ...*table.Table) (*table.Table, error) {
	var out *table.Table
	for i, s := range series {
		if s == nil {
			continue
		}
		if out == nil {
			out = s
			continue
		}
		var err error
		out, err = table.Join(out, s, table.JoinOptions{On: []string{geo.CodeColumn, DateColumn}, How: table.OuterJoin})
		if err != nil {
			return nil, fmt.Errorf("consolidate country series %d: %w", i, err)
		}
	}
	if out == nil {
		return nil, fmt.Errorf("consolidate country series: no input")
	}
	return out.Sort(geo.CodeColumn, DateColumn), nil
}

// Directional is a directional source pivoted into the country series
type Directional struct {
	Table  *table.Table
	Value  string
	Prefix string
}

// CountryInput gathers the sources of the country series. Keyed holds
// tables already keyed by (country_code, date): COVID, search interest,
// government response, flight schedules.
type CountryInput struct {
	Keyed     []*table.Table
	Searches  *Directional
	Purchases *Directional
	// Trips is cut at the last purchase date.
	Trips *Directional
}

// CountrySeries consolidates country-level sources into one series.
// Directional sources are attributed to their origin country.
func CountrySeries(in CountryInput) (*table.Table, error) {
	parts := append([]*table.Table(nil), in.Keyed...)

	var purchaseEnd *temporal.DateRange
	if in.Purchases != nil && in.Purchases.Table != nil {
		if r, ok := temporal.Coverage(in.Purchases.Table, DateColumn); ok {
			purchaseEnd = &r
		}
	}
	for _, d := range []*Directional{in.Searches, in.Purchases, in.Trips} {
		if d == nil || d.Table == nil {
			continue
		}
		src := d.Table
		if d == in.Trips && purchaseEnd != nil {
			end := purchaseEnd.End
			src = src.Filter(func(row table.Row) bool {
				t, ok := row.Get(DateColumn).AsTime()
				return ok && !t.After(end)
			})
		}
		pivot, err := PivotByTravelType(src, geo.CodeOrigin, d.Value, d.Prefix)
		if err != nil {
			return nil, err
		}
		parts = append(parts, pivot)
	}
	return Consolidate(parts...)
}
