package geo

import (
	"fmt"
	"sort"

	"github.com/smukkama/demand-monitor/internal/table"
)

// Path selects how a raw identifier is resolved
type Path uint8

const (
	ByName Path = iota
	ByISO2
	ByISO3
	ByAirport
)

func (p Path) String() string {
	return [...]string{"name", "iso2", "iso3", "airport"}[p]
}

// Travel types
const (
	Domestic         = "Domestic"
	Continental      = "Continental"
	Intercontinental = "Intercontinental"
)

// Column names written by the normalizer
const (
	CodeOrigin           = "country_code_origin"
	CodeDestination      = "country_code_destination"
	CountryOrigin        = "country_origin"
	CountryDestination   = "country_destination"
	RegionOrigin         = "region_origin"
	RegionDestination    = "region_destination"
	ContinentOrigin      = "continent_origin"
	ContinentDestination = "continent_destination"
	TravelTypeColumn     = "travel_type"

	CodeColumn      = "country_code"
	CountryColumn   = "country"
	RegionColumn    = "region"
	ContinentColumn = "continent"
)

func (m *Mapping) lookup(p Path) func(string) (string, bool) {
	switch p {
	case ByISO2:
		return m.CodeForISO2
	case ByISO3:
		return m.CodeForISO3
	case ByAirport:
		return m.CodeForAirport
	default:
		return m.CodeForName
	}
}

// Resolve adds (or replaces) target with the ISO2 code for the identifier in
// source. Identifiers without a mapping produce a null code; they are
// returned sorted and deduplicated so the caller can report them.
func (m *Mapping) Resolve(t *table.Table, source, target string, p Path) (*table.Table, []string, error) {
	if err := t.Require(source); err != nil {
		return nil, nil, fmt.Errorf("resolve %s by %s: %w", source, p, err)
	}
	find := m.lookup(p)
	missing := make(map[string]bool)
	out := t.WithColumn(table.TextCol(target), func(row table.Row) table.Value {
		raw, ok := row.Get(source).AsString()
		if !ok || raw == "" {
			return table.Null(table.Text)
		}
		code, ok := find(raw)
		if !ok {
			missing[raw] = true
			return table.Null(table.Text)
		}
		return table.Str(code)
	})
	return out, sortedKeys(missing), nil
}

// FillFromCities fills null codes in target from the multi-airport city
// table, looked up by the identifier in source. Resolved codes are never
// overridden.
func (m *Mapping) FillFromCities(t *table.Table, source, target string) (*table.Table, error) {
	if err := t.Require(source, target); err != nil {
		return nil, fmt.Errorf("city fallback: %w", err)
	}
	return t.WithColumn(table.TextCol(target), func(row table.Row) table.Value {
		if v := row.Get(target); !v.IsNull() {
			return v
		}
		raw, ok := row.Get(source).AsString()
		if !ok {
			return table.Null(table.Text)
		}
		if code, ok := m.CodeForCity(raw); ok {
			return table.Str(code)
		}
		return table.Null(table.Text)
	}), nil
}

// ResolveAirports resolves IATA codes through the airport table and fills
// the remaining nulls from the city table.
func (m *Mapping) ResolveAirports(t *table.Table, source, target string) (*table.Table, []string, error) {
	out, missing, err := m.Resolve(t, source, target, ByAirport)
	if err != nil {
		return nil, nil, err
	}
	if out, err = m.FillFromCities(out, source, target); err != nil {
		return nil, nil, err
	}
	var still []string
	for _, id := range missing {
		if _, ok := m.CodeForCity(id); !ok {
			still = append(still, id)
		}
	}
	return out, still, nil
}

// TravelType classifies a pair of countries. ok is false when either code is
// empty, or when the codes differ and a region is unknown.
func TravelType(codeA, codeB, regionA, regionB string) (string, bool) {
	switch {
	case codeA == "" || codeB == "":
		return "", false
	case codeA == codeB:
		return Domestic, true
	case regionA == "" || regionB == "":
		return "", false
	case regionA == regionB:
		return Continental, true
	default:
		return Intercontinental, true
	}
}

// AttachGeography adds country name, region and continent for both ends of a
// directional pair, then travel_type. Rows with a null code on either side
// get a null travel_type.
func (m *Mapping) AttachGeography(t *table.Table, originCol, destinationCol string) (*table.Table, error) {
	if err := t.Require(originCol, destinationCol); err != nil {
		return nil, fmt.Errorf("attach geography: %w", err)
	}
	out := t
	for _, side := range []struct {
		code                       string
		country, region, continent string
	}{
		{originCol, CountryOrigin, RegionOrigin, ContinentOrigin},
		{destinationCol, CountryDestination, RegionDestination, ContinentDestination},
	} {
		out = m.attach(out, side.code, side.country, side.region, side.continent)
	}
	return out.WithColumn(table.TextCol(TravelTypeColumn), func(row table.Row) table.Value {
		a, _ := row.Get(originCol).AsString()
		b, _ := row.Get(destinationCol).AsString()
		ra, _ := row.Get(RegionOrigin).AsString()
		rb, _ := row.Get(RegionDestination).AsString()
		if tt, ok := TravelType(a, b, ra, rb); ok {
			return table.Str(tt)
		}
		return table.Null(table.Text)
	}), nil
}

// AttachCountry adds country, region and continent for a single code column
func (m *Mapping) AttachCountry(t *table.Table, codeCol string) (*table.Table, error) {
	if err := t.Require(codeCol); err != nil {
		return nil, fmt.Errorf("attach country: %w", err)
	}
	return m.attach(t, codeCol, CountryColumn, RegionColumn, ContinentColumn), nil
}

func (m *Mapping) attach(t *table.Table, codeCol, countryCol, regionCol, continentCol string) *table.Table {
	field := func(get func(Country) string) func(table.Row) table.Value {
		return func(row table.Row) table.Value {
			code, ok := row.Get(codeCol).AsString()
			if !ok {
				return table.Null(table.Text)
			}
			c, ok := m.Country(code)
			if !ok {
				return table.Null(table.Text)
			}
			return table.StrOrNull(get(c))
		}
	}
	out := t.WithColumn(table.TextCol(countryCol), field(func(c Country) string { return c.Name }))
	out = out.WithColumn(table.TextCol(regionCol), field(func(c Country) string { return c.Region }))
	return out.WithColumn(table.TextCol(continentCol), field(func(c Country) string { return c.Continent }))
}

// DropUnresolved removes rows with a null value in any of the given columns
// and reports how many were dropped.
func DropUnresolved(t *table.Table, cols ...string) (*table.Table, int) {
	out := t.Filter(func(row table.Row) bool {
		for _, c := range cols {
			if row.Get(c).IsNull() {
				return false
			}
		}
		return true
	})
	return out, t.Len() - out.Len()
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
