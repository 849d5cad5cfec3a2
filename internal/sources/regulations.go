package sources

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
)

// Travel regulation columns
const (
	DetailsHTML        = "details_html"
	Details            = "details"
	RestrictionLevel   = "restriction_integer"
	RestrictionLabel   = "restriction_label"
	RegulationsUpdated = "updated"
)

// Timatic restriction levels by label
var TimaticLevels = map[string]float64{
	"Partially Restrictive": 1,
	"Totally Restrictive":   2,
	"Not Restrictive":       3,
}

// TimaticSchema reads the travel regulation flat file exports
var TimaticSchema = Schema{
	Name: "travel regulations",
	Fields: []Field{
		Text(rawCode, "Country Code"),
		Text(DetailsHTML, "Latest Regulations"),
		Text(RestrictionLabel, "Country Restriction Level"),
		Date(RegulationsUpdated, "Updated"),
	},
}

// LoadTimatic reads every workbook in dir and prepares the latest
// regulations
func LoadTimatic(dir string, m *geo.Mapping) (*table.Table, error) {
	raw, err := LoadDir(dir, "*.xlsx", TimaticSchema)
	if err != nil {
		return nil, err
	}
	return PrepareTimatic(raw, m)
}

// PrepareTimatic keeps the rows with regulations updated on the most recent
// day, strips markup from the regulation text, maps the restriction label
// to its level and validates the ISO2 country codes.
func PrepareTimatic(raw *table.Table, m *geo.Mapping) (*table.Table, error) {
	withText := raw.Filter(func(row table.Row) bool {
		s, ok := row.Get(DetailsHTML).AsString()
		return ok && strings.TrimSpace(s) != ""
	})
	var latest time.Time
	withText.Each(func(row table.Row) {
		if d, ok := row.Get(RegulationsUpdated).AsTime(); ok && d.After(latest) {
			latest = d
		}
	})
	if latest.IsZero() {
		return nil, fmt.Errorf("%s: %w: no dated regulations", TimaticSchema.Name, ErrIncompleteTable)
	}
	current := withText.Filter(func(row table.Row) bool {
		d, ok := row.Get(RegulationsUpdated).AsTime()
		return ok && d.Equal(latest)
	})

	resolved, missing, err := m.Resolve(current, rawCode, geo.CodeColumn, geo.ByISO2)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", TimaticSchema.Name, err)
	}
	if len(missing) > 0 {
		fmt.Printf("Warning: %d regulation countries without a mapping: %v\n", len(missing), missing)
	}
	resolved, _ = geo.DropUnresolved(resolved, geo.CodeColumn)

	out := resolved.WithColumn(table.TextCol(Details), func(row table.Row) table.Value {
		s, _ := row.Get(DetailsHTML).AsString()
		return table.Str(CleanRegulation(s))
	}).WithColumn(table.NumberCol(RestrictionLevel), func(row table.Row) table.Value {
		label, _ := row.Get(RestrictionLabel).AsString()
		if level, ok := TimaticLevels[strings.TrimSpace(label)]; ok {
			return table.Num(level)
		}
		return table.Null(table.Number)
	})
	out, err = out.Select(geo.CodeColumn, DetailsHTML, Details, RestrictionLevel, RestrictionLabel, RegulationsUpdated)
	if err != nil {
		return nil, err
	}
	return out.Sort(geo.CodeColumn), nil
}

var linkText = regexp.MustCompile(`(?s)>.*</a>`)

// CleanRegulation turns regulation markup into plain text: line breaks
// become newlines and links are reduced to their target
func CleanRegulation(s string) string {
	s = strings.NewReplacer("<br/>", "\n", "&#32;", " ", "<a href=", " ").Replace(s)
	return linkText.ReplaceAllString(s, "")
}

// Airport restriction columns
const (
	AirportCode    = "airport_code"
	AirportName    = "airport_name"
	AirportCity    = "city_name"
	AirportCountry = "country_name"
	Latitude       = "latitude"
	Longitude      = "longitude"
	NoTraffic      = "no_traffic"
	Closed         = "closed"
	NoticeMessage  = "message"
)

// AirportRestrictionSchema reads airport operating restrictions keyed by
// ISO3 country codes
var AirportRestrictionSchema = Schema{
	Name: "airport restrictions",
	Fields: []Field{
		Text(AirportCode, "airportCode"),
		Text(AirportName, "airportName"),
		Text(AirportCity, "cityName"),
		Text(rawCode, "countryCode"),
		Text(AirportCountry, "countryName"),
		Number(Latitude, "latitude"),
		Number(Longitude, "longitude"),
		Text(NoTraffic, "NoTraffic"),
		Text(Closed, "Closed"),
		{Name: NoticeMessage, Source: "message", Kind: table.Text, Optional: true},
	},
}

// LoadAirportRestrictions reads and prepares an airport restriction extract
func LoadAirportRestrictions(path string, m *geo.Mapping) (*table.Table, error) {
	raw, err := LoadFile(path, AirportRestrictionSchema)
	if err != nil {
		return nil, err
	}
	return PrepareAirportRestrictions(raw, m)
}

// PrepareAirportRestrictions adds the ISO2 country code next to the ISO3
// code. Airports in unmapped countries are kept with a null code.
func PrepareAirportRestrictions(raw *table.Table, m *geo.Mapping) (*table.Table, error) {
	out, missing, err := m.Resolve(raw, rawCode, geo.CodeColumn, geo.ByISO3)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AirportRestrictionSchema.Name, err)
	}
	if len(missing) > 0 {
		fmt.Printf("Warning: %d airport countries without a mapping: %v\n", len(missing), missing)
	}
	out = out.Rename(map[string]string{rawCode: geo.CodeColumn + "_3"})
	return out.Sort(geo.CodeColumn, AirportCode), nil
}
