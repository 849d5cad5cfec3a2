package sources

import (
	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
)

// Reference table schemas
var (
	CountrySchema = Schema{Name: "countries", Fields: []Field{
		Text(geo.RefCode2, ""),
		Text(geo.RefCode3, ""),
		Text(geo.RefCountry, ""),
		Text(geo.RefRegion, ""),
		Text(geo.RefContinent, ""),
		{Name: geo.RefPopulation, Aliases: []string{"Population (2020)"}, Kind: table.Number, Optional: true},
	}}
	NameSchema = Schema{Name: "country names", Fields: []Field{
		{Name: geo.RefName, Source: "country_name", Aliases: []string{"COVID_country", "name"}, Kind: table.Text},
		Text(geo.RefCode, ""),
	}}
	AirportSchema = Schema{Name: "airports", Fields: []Field{
		{Name: geo.RefIATA, Source: "iata_code", Aliases: []string{"iata"}, Kind: table.Text},
		{Name: geo.RefCode, Source: "iso_country", Aliases: []string{"country_code"}, Kind: table.Text},
	}}
	CitySchema = Schema{Name: "multi-airport cities", Fields: []Field{
		Text(geo.RefCity, ""),
		{Name: geo.RefCode, Source: "country", Aliases: []string{"country_code"}, Kind: table.Text},
	}}
)

// ReferencePaths locates the reference tables. Only Countries is required.
type ReferencePaths struct {
	Countries string
	Names     string
	Airports  string
	Cities    string
}

// LoadReference reads the reference tables and assembles a geo.Reference
func LoadReference(paths ReferencePaths) (geo.Reference, error) {
	var tables geo.Tables
	var err error
	if tables.Countries, err = LoadFile(paths.Countries, CountrySchema); err != nil {
		return geo.Reference{}, err
	}
	optional := []struct {
		path   string
		schema Schema
		dst    **table.Table
	}{
		{paths.Names, NameSchema, &tables.Names},
		{paths.Airports, AirportSchema, &tables.Airports},
		{paths.Cities, CitySchema, &tables.Cities},
	}
	for _, o := range optional {
		if o.path == "" {
			continue
		}
		if *o.dst, err = LoadFile(o.path, o.schema); err != nil {
			return geo.Reference{}, err
		}
	}
	return geo.BuildReference(tables)
}
