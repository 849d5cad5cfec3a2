package restrictions

import (
	"fmt"
	"sort"
	"time"

	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// Change types
const (
	MoreRestrictive = "More restrictive"
	LessRestrictive = "Less restrictive"
)

// ChangeEvent is one ordinal change of a policy column in one country
type ChangeEvent struct {
	Country   string    `json:"country_code"`
	Date      time.Time `json:"date"`
	Column    string    `json:"column"`
	Previous  string    `json:"previous_value"`
	Current   string    `json:"current_value"`
	Type      string    `json:"change_type"`
	Magnitude float64   `json:"change_ordinal_magnitude"`
}

// ScanOptions configures DetectChanges
type ScanOptions struct {
	CountryColumn string
	DateColumn    string
	// Columns are ordinal Number columns, each paired with <column>_Label.
	Columns []string
	// Window limits the scan to observations inside it; zero scans all.
	Window temporal.DateRange
}

// DetectChanges walks each country's observations in date order and emits
// an event whenever a column's level differs from the last level seen.
// Observations with a null level or a null label are skipped. A higher
// level is more restrictive; Magnitude is the signed level difference.
// Events are ordered by country, date, then column order.
func DetectChanges(t *table.Table, opts ScanOptions) ([]ChangeEvent, error) {
	need := []string{opts.CountryColumn, opts.DateColumn}
	for _, c := range opts.Columns {
		need = append(need, c, c+LabelSuffix)
	}
	if err := t.Require(need...); err != nil {
		return nil, fmt.Errorf("detect changes: %w", err)
	}

	data := t
	if !opts.Window.Start.IsZero() || !opts.Window.End.IsZero() {
		data = t.Filter(temporal.InRange(opts.DateColumn, opts.Window))
	}
	data = data.Filter(func(row table.Row) bool {
		return !row.Get(opts.CountryColumn).IsNull() && !row.Get(opts.DateColumn).IsNull()
	}).Sort(opts.CountryColumn, opts.DateColumn)

	type seen struct {
		level float64
		label string
	}
	var (
		events  []ChangeEvent
		country string
		last    map[string]seen
	)
	data.Each(func(row table.Row) {
		code, _ := row.Get(opts.CountryColumn).AsString()
		if last == nil || code != country {
			country, last = code, make(map[string]seen, len(opts.Columns))
		}
		date, _ := row.Get(opts.DateColumn).AsTime()
		for _, col := range opts.Columns {
			level, ok := row.Float(col)
			if !ok {
				continue
			}
			label, ok := row.Get(col + LabelSuffix).AsString()
			if !ok {
				continue
			}
			prev, ok := last[col]
			if ok && level != prev.level {
				kind := MoreRestrictive
				if level < prev.level {
					kind = LessRestrictive
				}
				events = append(events, ChangeEvent{
					Country:   code,
					Date:      date,
					Column:    col,
					Previous:  prev.label,
					Current:   label,
					Type:      kind,
					Magnitude: level - prev.level,
				})
			}
			if !ok || level != prev.level {
				last[col] = seen{level: level, label: label}
			}
		}
	})
	return events, nil
}

// Event log columns
const (
	EventCountry   = "country_code"
	EventDate      = "date"
	EventName      = "Name"
	EventPrevious  = "Previous_Value"
	EventCurrent   = "Current_Value"
	EventType      = "Change_Type"
	EventMagnitude = "Change_Ordinal_Magnitude"
)

// EventsTable renders change events as a table
func EventsTable(events []ChangeEvent) *table.Table {
	out := table.New(
		table.TextCol(EventCountry), table.DateCol(EventDate), table.TextCol(EventName),
		table.TextCol(EventPrevious), table.TextCol(EventCurrent), table.TextCol(EventType),
		table.NumberCol(EventMagnitude),
	)
	for _, e := range events {
		// Values match the declared kinds, so Append cannot fail.
		_ = out.Append(table.Str(e.Country), table.Day(e.Date), table.Str(e.Column),
			table.Str(e.Previous), table.Str(e.Current), table.Str(e.Type), table.Num(e.Magnitude))
	}
	return out
}

// GroupByCountry splits events per country, countries sorted
func GroupByCountry(events []ChangeEvent) ([]string, map[string][]ChangeEvent) {
	byCountry := make(map[string][]ChangeEvent)
	for _, e := range events {
		byCountry[e.Country] = append(byCountry[e.Country], e)
	}
	countries := make([]string, 0, len(byCountry))
	for c := range byCountry {
		countries = append(countries, c)
	}
	sort.Strings(countries)
	return countries, byCountry
}
