// Package geo resolves country names, ISO codes and airport codes onto ISO2
// country codes and classifies origin-destination pairs.
package geo

import (
	"errors"
	"sort"
	"strings"
)

// ErrMissingMapping marks identifiers that resolved to no country code
var ErrMissingMapping = errors.New("missing geographic mapping")

// Country is one row of the reference country table
type Country struct {
	Code       string  `json:"code"`
	Code3      string  `json:"code3"`
	Name       string  `json:"name"`
	Region     string  `json:"region"`
	Continent  string  `json:"continent"`
	Population float64 `json:"population,omitempty"`
}

// Reference is the raw material of a Mapping, in a form that can be cached
type Reference struct {
	Countries []Country `json:"countries"`
	// Names maps source-specific country names to ISO2 codes.
	Names map[string]string `json:"names"`
	// Airports maps IATA airport codes to ISO2 codes.
	Airports map[string]string `json:"airports"`
	// Cities maps IATA metropolitan codes (LON, PAR, ...) to ISO2 codes.
	Cities map[string]string `json:"cities"`
}

// Mapping is a read-only lookup built once per run
type Mapping struct {
	ref       Reference
	countries map[string]Country
	byName    map[string]string
	byCode3   map[string]string
	airports  map[string]string
	cities    map[string]string
}

// NewMapping indexes a reference. Names are matched case-insensitively;
// canonical country names are indexed alongside the explicit aliases.
func NewMapping(ref Reference) *Mapping {
	m := &Mapping{
		ref:       ref,
		countries: make(map[string]Country, len(ref.Countries)),
		byName:    make(map[string]string),
		byCode3:   make(map[string]string, len(ref.Countries)),
		airports:  make(map[string]string, len(ref.Airports)),
		cities:    make(map[string]string, len(ref.Cities)),
	}
	for _, c := range ref.Countries {
		code := normCode(c.Code)
		if code == "" {
			continue
		}
		m.countries[code] = c
		if c.Code3 != "" {
			m.byCode3[normCode(c.Code3)] = code
		}
		if c.Name != "" {
			m.byName[normName(c.Name)] = code
		}
	}
	for name, code := range ref.Names {
		if code = normCode(code); code != "" {
			m.byName[normName(name)] = code
		}
	}
	for iata, code := range ref.Airports {
		if code = normCode(code); code != "" {
			m.airports[normCode(iata)] = code
		}
	}
	for city, code := range ref.Cities {
		if code = normCode(code); code != "" {
			m.cities[normCode(city)] = code
		}
	}
	return m
}

// Reference returns the data the mapping was built from
func (m *Mapping) Reference() Reference { return m.ref }

// Country looks up an ISO2 code
func (m *Mapping) Country(code string) (Country, bool) {
	c, ok := m.countries[normCode(code)]
	return c, ok
}

// CodeForName resolves a country name; unmatched names never guess
func (m *Mapping) CodeForName(name string) (string, bool) {
	code, ok := m.byName[normName(name)]
	return code, ok
}

// CodeForISO3 resolves an ISO3 code
func (m *Mapping) CodeForISO3(code3 string) (string, bool) {
	code, ok := m.byCode3[normCode(code3)]
	return code, ok
}

// CodeForISO2 validates an ISO2 code against the country table
func (m *Mapping) CodeForISO2(code string) (string, bool) {
	code = normCode(code)
	_, ok := m.countries[code]
	return code, ok
}

// CodeForAirport resolves an IATA airport code
func (m *Mapping) CodeForAirport(iata string) (string, bool) {
	code, ok := m.airports[normCode(iata)]
	return code, ok
}

// CodeForCity resolves a multi-airport city code such as LON or PAR
func (m *Mapping) CodeForCity(city string) (string, bool) {
	code, ok := m.cities[normCode(city)]
	return code, ok
}

// Codes returns every known ISO2 code, sorted
func (m *Mapping) Codes() []string {
	out := make([]string, 0, len(m.countries))
	for c := range m.countries {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func normCode(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
