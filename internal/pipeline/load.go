package pipeline

import (
	"context"
	"fmt"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/sources"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/pkg/config"
)

// inputs are the normalized sources of one run; unconfigured ones are nil
type inputs struct {
	covid      *table.Table
	government *table.Table
	trends     *table.Table
	indicators *table.Table
	bookings   *sources.Bookings
	searches   *table.Table
	schedules  *table.Table
}

// keyed lists the country-level sources in merge order
func (in *inputs) keyed() []*table.Table {
	var out []*table.Table
	for _, t := range []*table.Table{in.covid, in.government, in.trends, in.indicators} {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (r *Runner) mapping(ctx context.Context) (*geo.Mapping, error) {
	if r.cfg.CountriesPath == "" {
		return nil, fmt.Errorf("country reference: %w: no path configured", sources.ErrIncompleteTable)
	}
	build := func() (geo.Reference, error) {
		return sources.LoadReference(sources.ReferencePaths{
			Countries: r.cfg.CountriesPath,
			Names:     r.cfg.NamesPath,
			Airports:  r.cfg.AirportsPath,
			Cities:    r.cfg.CitiesPath,
		})
	}
	if r.opts.Cache != nil {
		return r.opts.Cache.Load(ctx, r.opts.CacheVersion, build)
	}
	ref, err := build()
	if err != nil {
		return nil, err
	}
	return geo.NewMapping(ref), nil
}

func (r *Runner) government() sources.GovernmentResponse {
	return sources.GovernmentResponse{Ordinal: r.cfg.OrdinalColumns, Indices: r.cfg.IndexColumns}
}

func (r *Runner) load(ctx context.Context, m *geo.Mapping, res *Result) (*inputs, error) {
	in := &inputs{}
	var err error

	if r.cfg.CovidCasesPath != "" && r.cfg.CovidDeathsPath != "" {
		raw, err := sources.LoadCovid(sources.CovidPaths{
			Cases:      r.cfg.CovidCasesPath,
			Deaths:     r.cfg.CovidDeathsPath,
			Recoveries: r.cfg.CovidRecoveriesPath,
		})
		if err != nil {
			return nil, err
		}
		if in.covid, err = sources.NormalizeCovid(raw, m); err != nil {
			return nil, err
		}
	}

	if r.cfg.BookingsPath != "" {
		raw, err := sources.LoadFile(r.cfg.BookingsPath, sources.BookingSchema)
		if err != nil {
			return nil, err
		}
		var history *table.Table
		if r.cfg.BookingHistoryPath != "" {
			rawHistory, err := sources.LoadFile(r.cfg.BookingHistoryPath, sources.BookingSchema)
			if err != nil {
				return nil, err
			}
			if history, err = sources.BookingHistory(rawHistory, m); err != nil {
				return nil, err
			}
		}
		bookings, err := sources.PrepareBookings(raw, history, m)
		if err != nil {
			return nil, err
		}
		in.bookings = &bookings
	}

	if r.cfg.SearchesPath != "" {
		raw, err := sources.LoadFile(r.cfg.SearchesPath, sources.SearchSchema)
		if err != nil {
			return nil, err
		}
		if in.searches, err = sources.PrepareSearches(raw, m); err != nil {
			return nil, err
		}
	}

	if r.cfg.SchedulesPath != "" {
		raw, err := sources.LoadFile(r.cfg.SchedulesPath, sources.ScheduleSchema)
		if err != nil {
			return nil, err
		}
		if in.schedules, err = sources.PrepareSchedules(raw, m); err != nil {
			return nil, err
		}
	}

	if r.cfg.GovernmentResponsePath != "" {
		if in.government, err = r.government().Load(r.cfg.GovernmentResponsePath, m, r.opts.Labels); err != nil {
			return nil, err
		}
	}

	if len(r.cfg.TrendTerms) > 0 {
		pairs, err := config.Pairs(r.cfg.TrendTerms)
		if err != nil {
			return nil, fmt.Errorf("trend terms: %w", err)
		}
		terms := make([]sources.TrendTerm, len(pairs))
		for i, p := range pairs {
			terms[i] = sources.TrendTerm{Name: p[0], Path: p[1]}
		}
		if in.trends, err = sources.LoadTrends(terms, m); err != nil {
			return nil, err
		}
	}

	if r.cfg.IndicatorsPath != "" {
		pairs, err := config.Pairs(r.cfg.IndicatorValues)
		if err != nil {
			return nil, fmt.Errorf("indicator values: %w", err)
		}
		spec := sources.KeyedSpec{
			Name:       "indicators",
			CodeSource: r.cfg.IndicatorCodeColumn,
			Path:       geo.ByISO3,
			DateSource: r.cfg.IndicatorDateColumn,
			Values:     make(map[string]string, len(pairs)),
		}
		for _, p := range pairs {
			spec.Values[p[0]] = p[1]
			spec.Order = append(spec.Order, p[0])
		}
		if in.indicators, err = sources.LoadKeyed(r.cfg.IndicatorsPath, spec, m); err != nil {
			return nil, err
		}
	}

	for name, t := range map[string]*table.Table{
		"covid_rows":      in.covid,
		"government_rows": in.government,
		"trend_rows":      in.trends,
		"indicator_rows":  in.indicators,
		"search_rows":     in.searches,
		"schedule_rows":   in.schedules,
	} {
		if t != nil {
			res.Counts[name] = t.Len()
		}
	}
	if in.bookings != nil {
		res.Counts["purchase_rows"] = in.bookings.Purchases.Len()
		res.Counts["trip_rows"] = in.bookings.Trips.Len()
	}
	fmt.Printf("Inputs loaded (%d keyed source(s))\n", len(in.keyed()))
	return in, nil
}
