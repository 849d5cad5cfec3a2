package geo

import (
	"fmt"

	"github.com/smukkama/demand-monitor/internal/table"
)

// Reference table columns
const (
	RefCode2      = "code_2"
	RefCode3      = "code_3"
	RefCountry    = "country"
	RefRegion     = "region"
	RefContinent  = "continent"
	RefPopulation = "population"
	RefName       = "name"
	RefIATA       = "iata"
	RefCity       = "city"
	RefCode       = "country_code"
)

// Tables holds the raw reference tables a Reference is assembled from.
// Names, Airports and Cities are optional.
type Tables struct {
	Countries *table.Table
	Names     *table.Table
	Airports  *table.Table
	Cities    *table.Table
}

// BuildReference assembles a Reference from reference tables
func BuildReference(tables Tables) (Reference, error) {
	var ref Reference
	if tables.Countries == nil {
		return ref, fmt.Errorf("country table: %w", ErrMissingMapping)
	}
	if err := tables.Countries.Require(RefCode2, RefCode3, RefCountry, RefRegion, RefContinent); err != nil {
		return ref, fmt.Errorf("country table: %w", err)
	}
	tables.Countries.Each(func(row table.Row) {
		code, ok := row.Get(RefCode2).AsString()
		if !ok {
			return
		}
		c := Country{Code: code}
		c.Code3, _ = row.Get(RefCode3).AsString()
		c.Name, _ = row.Get(RefCountry).AsString()
		c.Region, _ = row.Get(RefRegion).AsString()
		c.Continent, _ = row.Get(RefContinent).AsString()
		c.Population, _ = row.Float(RefPopulation)
		ref.Countries = append(ref.Countries, c)
	})

	var err error
	if ref.Names, err = pairs(tables.Names, RefName); err != nil {
		return ref, fmt.Errorf("name table: %w", err)
	}
	if ref.Airports, err = pairs(tables.Airports, RefIATA); err != nil {
		return ref, fmt.Errorf("airport table: %w", err)
	}
	if ref.Cities, err = pairs(tables.Cities, RefCity); err != nil {
		return ref, fmt.Errorf("city table: %w", err)
	}
	return ref, nil
}

func pairs(t *table.Table, keyCol string) (map[string]string, error) {
	out := make(map[string]string)
	if t == nil {
		return out, nil
	}
	if err := t.Require(keyCol, RefCode); err != nil {
		return nil, err
	}
	t.Each(func(row table.Row) {
		k, okK := row.Get(keyCol).AsString()
		v, okV := row.Get(RefCode).AsString()
		if okK && okV {
			out[k] = v
		}
	})
	return out, nil
}
