package scorecard

import (
	"fmt"

	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// Country scorecard extra columns
const (
	NewCasesAvgSuffix  = "_(last_week_avg)"
	NewCasesWoWSuffix  = "_WoW_change"
	DefaultNewCasesCol = "covid_new_cases"
)

// MarketScorecard computes the market scorecard: window comparisons for the
// value columns and point-in-time comparisons for the pointInTime columns,
// joined on keys and Indexed_on.
func (e *Engine) MarketScorecard(data *table.Table, keys, values, pointInTime []string) (*table.Table, Windows, error) {
	w, err := e.Windows(data)
	if err != nil {
		return nil, Windows{}, fmt.Errorf("market scorecard: %w", err)
	}
	main, err := e.Compute(data, w, keys, values)
	if err != nil {
		return nil, w, err
	}
	if len(pointInTime) == 0 {
		return main, w, nil
	}
	pit, err := e.ComputePointInTime(data, w, keys, pointInTime)
	if err != nil {
		return nil, w, err
	}
	out, err := Combine(main, pit, keys)
	return out, w, err
}

// CountryInput carries the optional inputs of the country scorecard
type CountryInput struct {
	// NewCases is the column summarized as last-week average and
	// week-over-week change; empty skips both.
	NewCases string
	// Closures is keyed by the first scorecard key and holds border_closures.
	Closures *table.Table
}

// CountryScorecard computes the country scorecard and attaches the weekly
// new-case summary and the number of closed borders per country.
func (e *Engine) CountryScorecard(data *table.Table, keys, values []string, in CountryInput) (*table.Table, Windows, error) {
	w, err := e.Windows(data)
	if err != nil {
		return nil, Windows{}, fmt.Errorf("country scorecard: %w", err)
	}
	out, err := e.Compute(data, w, keys, values)
	if err != nil {
		return nil, w, err
	}

	if in.NewCases != "" {
		extras, err := e.newCases(data, w, keys, in.NewCases)
		if err != nil {
			return nil, w, err
		}
		if out, err = table.Join(out, extras, table.JoinOptions{On: keys, How: table.LeftJoin}); err != nil {
			return nil, w, fmt.Errorf("country scorecard new cases: %w", err)
		}
	}
	if in.Closures != nil && len(keys) > 0 {
		closures, err := in.Closures.Select(keys[0], restrictions.ClosuresColumn)
		if err != nil {
			return nil, w, fmt.Errorf("country scorecard closures: %w", err)
		}
		if out, err = table.Join(out, closures, table.JoinOptions{On: keys[:1], How: table.LeftJoin}); err != nil {
			return nil, w, fmt.Errorf("country scorecard closures: %w", err)
		}
	}
	return out, w, nil
}

func (e *Engine) newCases(data *table.Table, w Windows, keys []string, col string) (*table.Table, error) {
	avg, err := data.Filter(temporal.InRange(e.cfg.DateColumn, w.Latest)).
		GroupBy(keys, []table.Agg{{Column: col, Func: table.Mean, As: col + NewCasesAvgSuffix}})
	if err != nil {
		return nil, fmt.Errorf("new cases average: %w", err)
	}
	wow, err := temporal.BeforeAfterIndex(data, e.cfg.DateColumn, w.PreviousWeek, w.Latest, keys, []string{col})
	if err != nil {
		return nil, fmt.Errorf("new cases week over week: %w", err)
	}
	wow, err = wow.Select(append(append([]string(nil), keys...), col+temporal.PctChangeSuffix)...)
	if err != nil {
		return nil, err
	}
	wow = e.finish(wow).Rename(map[string]string{col + temporal.PctChangeSuffix: col + NewCasesWoWSuffix})

	out, err := table.Join(avg, wow, table.JoinOptions{On: keys, How: table.OuterJoin})
	if err != nil {
		return nil, fmt.Errorf("new cases: %w", err)
	}
	return out, nil
}
