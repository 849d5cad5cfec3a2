package market

import (
	"fmt"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// MergeInput lists the sources merged onto the demand series.
//
// Markets are market-level series on IndexColumns (trips, flight schedules).
// Countries are keyed by (country_code, date) and are attached once per
// market endpoint, with columns suffixed _1 and _2.
type MergeInput struct {
	Demand    *table.Table
	Markets   []*table.Table
	Countries []*table.Table
}

// Merge builds the wide market series. Secondary market sources are cut to
// the demand series' date range before joining. Value column names must be
// unique across sources.
func Merge(in MergeInput) (*table.Table, error) {
	if in.Demand == nil {
		return nil, fmt.Errorf("merge markets: demand series is required")
	}
	if err := in.Demand.Require(IndexColumns...); err != nil {
		return nil, fmt.Errorf("merge markets demand: %w", err)
	}
	span, ok := temporal.Coverage(in.Demand, DateColumn)
	if !ok {
		return nil, fmt.Errorf("merge markets: demand series has no dates")
	}

	data := in.Demand
	for i, src := range in.Markets {
		if src == nil {
			continue
		}
		bounded := src.Filter(temporal.InRange(DateColumn, span))
		var err error
		data, err = table.Join(data, bounded, table.JoinOptions{On: IndexColumns, How: table.OuterJoin})
		if err != nil {
			return nil, fmt.Errorf("merge market source %d: %w", i, err)
		}
	}

	for i, src := range in.Countries {
		if src == nil {
			continue
		}
		for _, end := range []struct{ code, suffix string }{{Code1, "_1"}, {Code2, "_2"}} {
			side, err := Endpoint(src, end.code, end.suffix)
			if err != nil {
				return nil, fmt.Errorf("merge country source %d: %w", i, err)
			}
			data, err = table.Join(data, side, table.JoinOptions{On: []string{end.code, DateColumn}, How: table.LeftJoin})
			if err != nil {
				return nil, fmt.Errorf("merge country source %d%s: %w", i, end.suffix, err)
			}
		}
	}
	return data.Sort(IndexColumns...), nil
}

// Endpoint prepares a country-level table for joining on one market endpoint:
// country_code becomes codeColumn and every value column gets suffix.
func Endpoint(t *table.Table, codeColumn, suffix string) (*table.Table, error) {
	if err := t.Require(geo.CodeColumn, DateColumn); err != nil {
		return nil, err
	}
	return t.RenameFunc(func(n string) string {
		switch n {
		case geo.CodeColumn:
			return codeColumn
		case DateColumn:
			return n
		}
		return n + suffix
	}), nil
}
