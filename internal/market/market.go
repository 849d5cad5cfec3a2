// Package market folds directional origin-destination series into undirected
// market series and merges market and country level sources onto one index.
package market

import (
	"fmt"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
)

// Index columns of a market series
const (
	DateColumn = "date"
	Market     = "Market"
	MarketName = "Market_Name"
	TravelType = geo.TravelTypeColumn
	Code1      = "country_code_1"
	Region1    = "region_1"
	Code2      = "country_code_2"
	Region2    = "region_2"
)

// IndexColumns identify one market on one day
var IndexColumns = []string{DateColumn, Market, MarketName, TravelType, Code1, Region1, Code2, Region2}

// Canonicalize returns the market key for a country pair, smaller code first
func Canonicalize(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// Canonical adds the market key and name and reorders the paired attributes
// so that _1 always belongs to the smaller country code.
// The input needs the origin/destination columns written by geo.AttachGeography.
func Canonical(t *table.Table) (*table.Table, error) {
	if err := t.Require(geo.CodeOrigin, geo.CodeDestination, geo.CountryOrigin, geo.CountryDestination,
		geo.RegionOrigin, geo.RegionDestination); err != nil {
		return nil, fmt.Errorf("canonical market: %w", err)
	}

	// originFirst reports whether the origin side maps to _1.
	originFirst := func(row table.Row) bool {
		a, _ := row.Get(geo.CodeOrigin).AsString()
		b, _ := row.Get(geo.CodeDestination).AsString()
		return a < b
	}
	pick := func(first bool, origin, destination string) func(table.Row) table.Value {
		return func(row table.Row) table.Value {
			if originFirst(row) == first {
				return row.Get(origin)
			}
			return row.Get(destination)
		}
	}

	out := t.WithColumn(table.TextCol(Market), func(row table.Row) table.Value {
		a, okA := row.Get(geo.CodeOrigin).AsString()
		b, okB := row.Get(geo.CodeDestination).AsString()
		if !okA || !okB {
			return table.Null(table.Text)
		}
		return table.Str(Canonicalize(a, b))
	})
	out = out.WithColumn(table.TextCol(MarketName), func(row table.Row) table.Value {
		first := pick(true, geo.CountryOrigin, geo.CountryDestination)(row)
		second := pick(false, geo.CountryOrigin, geo.CountryDestination)(row)
		a, okA := first.AsString()
		b, okB := second.AsString()
		if !okA || !okB {
			return table.Null(table.Text)
		}
		return table.Str(a + "-" + b)
	})
	out = out.WithColumn(table.TextCol(Code1), pick(true, geo.CodeOrigin, geo.CodeDestination))
	out = out.WithColumn(table.TextCol(Region1), pick(true, geo.RegionOrigin, geo.RegionDestination))
	out = out.WithColumn(table.TextCol(Code2), pick(false, geo.CodeOrigin, geo.CodeDestination))
	return out.WithColumn(table.TextCol(Region2), pick(false, geo.RegionOrigin, geo.RegionDestination)), nil
}

// Build turns a directional series into a market series. Rows with an
// unresolved code on either side are dropped (the count is returned), the
// rest are canonicalized and value columns are summed per index key.
func Build(t *table.Table, values []string) (*table.Table, int, error) {
	if err := t.Require(append([]string{DateColumn}, values...)...); err != nil {
		return nil, 0, fmt.Errorf("build market series: %w", err)
	}
	resolved, dropped := geo.DropUnresolved(t, geo.CodeOrigin, geo.CodeDestination)
	canonical, err := Canonical(resolved)
	if err != nil {
		return nil, 0, err
	}
	grouped, err := canonical.GroupBy(IndexColumns, table.SumOf(values...))
	if err != nil {
		return nil, 0, fmt.Errorf("build market series: %w", err)
	}
	return grouped.Sort(IndexColumns...), dropped, nil
}
