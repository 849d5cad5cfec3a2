package sources

import (
	"fmt"
	"strings"
	"time"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// Directional series columns
const (
	CountryOfSale    = "country_of_sale"
	Pax              = "Pax"
	PaxPrevYear      = "Pax" + temporal.PrevYearSuffix
	Requests         = "number_of_requests"
	SchedFlights     = "sched_flight_count"
	Cancellations    = "cancellation_count"
	SchedFlightsPrev = SchedFlights + temporal.PrevYearSuffix
	CancelPrev       = Cancellations + temporal.PrevYearSuffix
)

const (
	purchaseDate = "purchase_date"
	travelDate   = "travel_date"
	origin       = "origin"
	destination  = "destination"
	outbound     = "outbound_date"
)

// latestTravelDate bounds plausible travel dates in booking extracts
var latestTravelDate = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// BookingSchema reads ticketing extracts. Headers use spaces or underscores.
var BookingSchema = Schema{
	Name: "bookings",
	Fields: []Field{
		Date(purchaseDate, "Purchase Date"),
		Date(travelDate, "Travel Date"),
		Text(CountryOfSale, "Country of Sale"),
		Text(origin, "Orig Country"),
		Text(destination, "Dest Country"),
		Number(Pax, "Pax"),
	},
	Header: func(h string) string { return strings.ReplaceAll(h, "_", " ") },
}

// SearchSchema reads flight search logs keyed by airport or city codes
var SearchSchema = Schema{
	Name: "searches",
	Fields: []Field{
		Text(CountryOfSale, "pos"),
		Date(DateColumn, "date_request"),
		Text(origin, "request_origin"),
		Text(destination, "request_destination"),
		Date(outbound, "request_outbound_date"),
		{Name: Requests, Aliases: []string{"number_of_request"}, Kind: table.Number},
	},
}

// ScheduleSchema reads flight schedule extracts keyed by country code
var ScheduleSchema = Schema{
	Name: "schedules",
	Fields: []Field{
		Date(DateColumn, "DepLocalDate"),
		Text(origin, "DepCountryCode"),
		Text(destination, "ArrCountryCode"),
		Number(SchedFlights, "SchedFlightCount"),
		{Name: Cancellations, Source: "CancellationCount", Kind: table.Number, Optional: true},
	},
}

// Bookings holds ticketing aggregated two ways
type Bookings struct {
	// Purchases are keyed by purchase date.
	Purchases *table.Table
	// Trips are keyed by travel date.
	Trips *table.Table
}

// PrepareBookings filters implausible travel dates, resolves country names,
// aggregates by purchase date and by travel date, adds prior-year Pax and
// attaches geography. Purchases take prior-year values from history when
// given; otherwise each series is its own reference.
func PrepareBookings(raw, history *table.Table, m *geo.Mapping) (Bookings, error) {
	valid := raw.Filter(func(row table.Row) bool {
		p, okP := row.Get(purchaseDate).AsTime()
		tr, okT := row.Get(travelDate).AsTime()
		if !okP || !okT || !tr.Before(latestTravelDate) {
			return false
		}
		return !tr.Before(p) && !tr.After(temporal.OneYear.Apply(p))
	})
	resolved, err := resolvePair(valid, m, geo.ByName)
	if err != nil {
		return Bookings{}, fmt.Errorf("bookings: %w", err)
	}

	var out Bookings
	for _, v := range []struct {
		dateCol string
		history *table.Table
		dst     **table.Table
	}{
		{purchaseDate, history, &out.Purchases},
		{travelDate, nil, &out.Trips},
	} {
		other := travelDate
		if v.dateCol == travelDate {
			other = purchaseDate
		}
		series := resolved.Drop(other).Rename(map[string]string{v.dateCol: DateColumn})
		reference := v.history
		if reference == nil {
			reference = series
		}
		if *v.dst, err = directional(series, reference, []string{CountryOfSale}, []string{Pax}, m); err != nil {
			return Bookings{}, fmt.Errorf("bookings by %s: %w", v.dateCol, err)
		}
	}
	return out, nil
}

// PrepareSearches resolves airport and city codes, keeps searches for
// travel from the request month up to a year ahead, and aggregates by
// request date.
func PrepareSearches(raw *table.Table, m *geo.Mapping) (*table.Table, error) {
	valid := raw.Filter(func(row table.Row) bool {
		req, okR := row.Get(DateColumn).AsTime()
		out, okO := row.Get(outbound).AsTime()
		if !okR || !okO {
			return false
		}
		travelMonth := time.Date(out.Year(), out.Month(), 1, 0, 0, 0, 0, time.UTC)
		requestMonth := time.Date(req.Year(), req.Month(), 1, 0, 0, 0, 0, time.UTC)
		return !travelMonth.Before(requestMonth) && !travelMonth.After(temporal.OneYear.Apply(req))
	})
	resolved, err := resolvePair(valid, m, geo.ByAirport)
	if err != nil {
		return nil, fmt.Errorf("searches: %w", err)
	}
	out, err := directional(resolved, nil, []string{CountryOfSale}, []string{Requests}, m)
	if err != nil {
		return nil, fmt.Errorf("searches: %w", err)
	}
	return out, nil
}

// PrepareSchedules validates country codes and adds prior-year counts from
// the schedules themselves
func PrepareSchedules(raw *table.Table, m *geo.Mapping) (*table.Table, error) {
	resolved, err := resolvePair(raw, m, geo.ByISO2)
	if err != nil {
		return nil, fmt.Errorf("schedules: %w", err)
	}
	out, err := directional(resolved, resolved, nil, []string{SchedFlights, Cancellations}, m)
	if err != nil {
		return nil, fmt.Errorf("schedules: %w", err)
	}
	return out, nil
}

// resolvePair maps origin and destination identifiers to ISO2 codes and
// drops rows unresolved on either side
func resolvePair(t *table.Table, m *geo.Mapping, p geo.Path) (*table.Table, error) {
	out := t
	for _, side := range []struct{ source, target string }{
		{origin, geo.CodeOrigin},
		{destination, geo.CodeDestination},
	} {
		var (
			missing []string
			err     error
		)
		if p == geo.ByAirport {
			out, missing, err = m.ResolveAirports(out, side.source, side.target)
		} else {
			out, missing, err = m.Resolve(out, side.source, side.target, p)
		}
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			fmt.Printf("Warning: %d %s identifier(s) in %s without a country mapping\n", len(missing), side.source, p)
		}
	}
	out, dropped := geo.DropUnresolved(out, geo.CodeOrigin, geo.CodeDestination)
	if dropped > 0 {
		fmt.Printf("Dropped %d unresolved pair row(s)\n", dropped)
	}
	return out, nil
}

// directional aggregates a resolved series by (date, extra keys, origin,
// destination), optionally adds prior-year values and attaches geography.
// history is the prior-year reference: nil skips it, t itself uses the
// series, anything else is extended with the rows of t newer than it.
func directional(t, history *table.Table, extra, values []string, m *geo.Mapping) (*table.Table, error) {
	keys := append(append([]string{DateColumn}, extra...), geo.CodeOrigin, geo.CodeDestination)
	agg, err := t.GroupBy(keys, table.SumOf(values...))
	if err != nil {
		return nil, err
	}
	if history != nil {
		reference := agg
		if history != t {
			if reference, err = extendHistory(history, agg, keys, values); err != nil {
				return nil, err
			}
		}
		if agg, err = temporal.TrailingYearJoin(agg, reference, keys[1:], DateColumn, values, temporal.OneYear); err != nil {
			return nil, err
		}
	}
	out, err := m.AttachGeography(agg, geo.CodeOrigin, geo.CodeDestination)
	if err != nil {
		return nil, err
	}
	return out.Sort(keys...), nil
}

// extendHistory appends the rows of current dated after the history
func extendHistory(history, current *table.Table, keys, values []string) (*table.Table, error) {
	hist, err := history.Select(append(append([]string(nil), keys...), values...)...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	r, ok := temporal.Coverage(hist, DateColumn)
	if !ok {
		return current, nil
	}
	newer := current.Filter(func(row table.Row) bool {
		d, ok := row.Get(DateColumn).AsTime()
		return ok && d.After(r.End)
	})
	return table.Concat(hist, newer)
}

// BookingHistory aggregates a raw prior-year extract so it can serve as the
// history of PrepareBookings
func BookingHistory(raw *table.Table, m *geo.Mapping) (*table.Table, error) {
	resolved, err := resolvePair(raw, m, geo.ByName)
	if err != nil {
		return nil, fmt.Errorf("booking history: %w", err)
	}
	series := resolved.Drop(travelDate).Rename(map[string]string{purchaseDate: DateColumn})
	return series.GroupBy([]string{DateColumn, CountryOfSale, geo.CodeOrigin, geo.CodeDestination}, table.SumOf(Pax))
}
