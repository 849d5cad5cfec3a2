package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/smukkama/demand-monitor/internal/changepoint"
	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/market"
	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/scorecard"
	"github.com/smukkama/demand-monitor/internal/sources"
	"github.com/smukkama/demand-monitor/internal/table"
)

// Scorecard keys
var (
	CountryKeys = []string{geo.CodeColumn, geo.CountryColumn, geo.RegionColumn}
	MarketKeys  = []string{market.Market, market.MarketName, market.TravelType, market.Code1, market.Code2}
)

// Scorecard names in the store
const (
	CountryScorecardName = "country"
	MarketScorecardName  = "market"
)

func (r *Runner) engine(indicators []string) *scorecard.Engine {
	cfg := scorecard.DefaultConfig()
	cfg.DateColumn = market.DateColumn
	cfg.PreCrisis = r.preCrisis
	cfg.Indicators = indicators
	cfg.LookbackDays = r.cfg.LookbackDays
	cfg.ClipBound = r.cfg.ClipBound
	return scorecard.NewEngine(cfg)
}

// hasIndicators warns and reports false when an indicator column is absent
func hasIndicators(res *Result, name string, data *table.Table, indicators []string) bool {
	for _, c := range indicators {
		if !data.Has(c) {
			res.warn("Scorecard indicator missing, scorecard skipped", fmt.Sprintf("%s needs %s", name, c))
			return false
		}
	}
	return true
}

func (r *Runner) scorecards(ctx context.Context, res *Result) error {
	if err := r.countryScorecard(ctx, res); err != nil {
		return err
	}
	return r.marketScorecard(ctx, res)
}

func (r *Runner) countryScorecard(ctx context.Context, res *Result) error {
	data := res.Countries
	if data == nil || !hasIndicators(res, CountryScorecardName, data, r.cfg.ScorecardIndicators) {
		return nil
	}
	var values []string
	for _, c := range data.NumericColumns(CountryKeys...) {
		if !strings.HasSuffix(c, changepoint.Suffix) {
			values = append(values, c)
		}
	}

	var extra scorecard.CountryInput
	if data.Has(sources.CovidNewCases) {
		extra.NewCases = sources.CovidNewCases
	}
	if res.Matrix != nil {
		closures, err := restrictions.BorderClosures(res.Matrix)
		if err != nil {
			return err
		}
		extra.Closures = closures
	}

	card, w, err := r.engine(r.cfg.ScorecardIndicators).CountryScorecard(data, CountryKeys, values, extra)
	if err != nil {
		return err
	}
	res.CountryScorecard, res.CountryWindows, res.countryColumns = card, w, values
	res.Counts["country_scorecard_rows"] = card.Len()
	return nil
}

func (r *Runner) marketScorecard(ctx context.Context, res *Result) error {
	data := res.Markets
	if data == nil || !hasIndicators(res, MarketScorecardName, data, r.cfg.MarketIndicators) {
		return nil
	}
	var pointInTime []string
	for _, c := range r.cfg.OrdinalColumns {
		for _, col := range []string{c + "_1", c + "_2", c + restrictions.LabelSuffix + "_1", c + restrictions.LabelSuffix + "_2"} {
			if data.Has(col) {
				pointInTime = append(pointInTime, col)
			}
		}
	}
	values := data.NumericColumns(append(append([]string(nil), MarketKeys...), pointInTime...)...)

	card, w, err := r.engine(r.cfg.MarketIndicators).MarketScorecard(data, MarketKeys, values, pointInTime)
	if err != nil {
		return err
	}
	res.MarketScorecard, res.MarketWindows = card, w
	res.marketColumns = append(values, pointInTime...)
	res.Counts["market_scorecard_rows"] = card.Len()
	return nil
}
