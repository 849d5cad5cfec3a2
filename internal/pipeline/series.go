package pipeline

import (
	"context"
	"fmt"

	"github.com/smukkama/demand-monitor/internal/changepoint"
	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/market"
	"github.com/smukkama/demand-monitor/internal/sources"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// Country series prefixes of the directional sources
const (
	SearchesPrefix  = "Searches"
	PurchasesPrefix = sources.Pax
	TripsPrefix     = "Trips"
)

var (
	tripsColumn     = TripsPrefix
	tripsPrevColumn = TripsPrefix + temporal.PrevYearSuffix
)

func (r *Runner) countrySeries(ctx context.Context, in *inputs, m *geo.Mapping, res *Result) (*table.Table, error) {
	ci := market.CountryInput{Keyed: in.keyed()}
	if in.searches != nil {
		ci.Searches = &market.Directional{Table: in.searches, Value: sources.Requests, Prefix: SearchesPrefix}
	}
	if in.bookings != nil {
		ci.Purchases = &market.Directional{Table: in.bookings.Purchases, Value: sources.Pax, Prefix: PurchasesPrefix}
		ci.Trips = &market.Directional{Table: in.bookings.Trips, Value: sources.Pax, Prefix: TripsPrefix}
	}
	if len(ci.Keyed) == 0 && ci.Searches == nil && ci.Purchases == nil {
		return nil, fmt.Errorf("country series: no input configured")
	}

	series, err := market.CountrySeries(ci)
	if err != nil {
		return nil, err
	}
	if series, err = m.AttachCountry(series, geo.CodeColumn); err != nil {
		return nil, err
	}

	var columns []string
	for _, c := range r.cfg.ChangePointColumns {
		if series.Has(c) {
			columns = append(columns, c)
		} else {
			fmt.Printf("Note: change point column %s not in country series\n", c)
		}
	}
	if len(columns) > 0 {
		annotated, err := changepoint.Annotate(ctx, series, r.opts.Detector, changepoint.Options{
			CountryColumn: geo.CodeColumn,
			DateColumn:    market.DateColumn,
			Columns:       columns,
			Limit:         r.cfg.ChangePointLimit,
		})
		if annotated == nil {
			return nil, fmt.Errorf("change points: %w", err)
		}
		if err != nil {
			res.warn("Some change point series failed", err.Error())
		}
		series = annotated
	}

	res.Counts["countries"] = len(series.Unique(geo.CodeColumn))
	res.Counts["country_rows"] = series.Len()
	fmt.Printf("Country series built: %d countries, %d rows, %d change point column(s)\n",
		res.Counts["countries"], series.Len(), len(columns))
	return series, nil
}

// marketSeries returns nil when no booking extract is configured
func (r *Runner) marketSeries(ctx context.Context, in *inputs, res *Result) (*table.Table, error) {
	if in.bookings == nil {
		fmt.Println("No bookings configured, skipping market series")
		return nil, nil
	}

	demand, dropped, err := market.Build(in.bookings.Purchases, []string{sources.Pax, sources.PaxPrevYear})
	if err != nil {
		return nil, fmt.Errorf("purchases: %w", err)
	}
	unresolved := dropped

	trips := in.bookings.Trips.Rename(map[string]string{sources.Pax: tripsColumn, sources.PaxPrevYear: tripsPrevColumn})
	var secondary []*table.Table
	for _, src := range []struct {
		name   string
		t      *table.Table
		values []string
	}{
		{"trips", trips, []string{tripsColumn, tripsPrevColumn}},
		{"searches", in.searches, []string{sources.Requests}},
		{"schedules", in.schedules, []string{sources.SchedFlights, sources.Cancellations, sources.SchedFlightsPrev, sources.CancelPrev}},
	} {
		if src.t == nil {
			continue
		}
		built, dropped, err := market.Build(src.t, src.values)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.name, err)
		}
		unresolved += dropped
		secondary = append(secondary, built)
	}

	merged, err := market.Merge(market.MergeInput{
		Demand:    demand,
		Markets:   secondary,
		Countries: in.keyed(),
	})
	if err != nil {
		return nil, err
	}
	if unresolved > 0 {
		res.warn("Directional rows without a resolved country were dropped", fmt.Sprintf("%d rows", unresolved))
	}
	res.Counts["markets"] = len(merged.Unique(market.Market))
	res.Counts["market_rows"] = merged.Len()
	fmt.Printf("Market series built: %d markets, %d rows\n", res.Counts["markets"], merged.Len())
	return merged, nil
}
