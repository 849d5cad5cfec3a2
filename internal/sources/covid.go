package sources

import (
	"fmt"
	"os"
	"strings"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
)

// COVID series columns
const (
	CovidCountry    = "covid_country"
	CovidCases      = "covid_cases"
	CovidDeaths     = "covid_deaths"
	CovidRecoveries = "covid_recoveries"
	CovidNewCases   = "covid_new_cases"
	CovidNewDeaths  = "covid_new_deaths"

	CasesPer10k     = "covid_cases_per_10k_people"
	NewCasesPer100k = "covid_new_cases_per_100k_people"
	NewDeathsPer1mm = "covid_new_deaths_per_1mm_people"
)

// covidCountryHeader is the country column of the wide COVID files
const covidCountryHeader = "Country/Region"

// MeltCovid turns a wide cumulative series, one row per province and one
// column per date, into a long (country, date) series summed over
// provinces. Header columns that are not dates are ignored.
func MeltCovid(header []string, rows [][]string, value string) (*table.Table, error) {
	country := -1
	type dateCol struct {
		i    int
		date table.Value
	}
	var dates []dateCol
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == covidCountryHeader {
			country = i
			continue
		}
		if d, ok := ParseDate(h); ok {
			dates = append(dates, dateCol{i: i, date: table.Day(d)})
		}
	}
	if country < 0 || len(dates) == 0 {
		return nil, fmt.Errorf("%s: %w: expected %q and date columns", value, ErrIncompleteTable, covidCountryHeader)
	}

	long := table.New(table.TextCol(CovidCountry), table.DateCol(DateColumn), table.NumberCol(value))
	for _, rec := range rows {
		if country >= len(rec) {
			continue
		}
		name := table.StrOrNull(rec[country])
		if name.IsNull() {
			continue
		}
		for _, d := range dates {
			v := table.Null(table.Number)
			if d.i < len(rec) {
				v, _ = Parse(rec[d.i], table.Number)
			}
			if err := long.Append(name, d.date, v); err != nil {
				return nil, err
			}
		}
	}
	out, err := long.GroupBy([]string{CovidCountry, DateColumn}, table.SumOf(value))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", value, err)
	}
	return out.Sort(CovidCountry, DateColumn), nil
}

// DailyChange adds newCol as the day-over-day difference of col within each
// group, in date order. The first observation and negative differences are
// null.
func DailyChange(t *table.Table, group, dateCol, col, newCol string) (*table.Table, error) {
	if err := t.Require(group, dateCol, col); err != nil {
		return nil, fmt.Errorf("daily change: %w", err)
	}
	sorted := t.Sort(group, dateCol)
	var (
		prevGroup table.Value
		prev      table.Value
		started   bool
	)
	return sorted.WithColumn(table.NumberCol(newCol), func(row table.Row) table.Value {
		g, cur := row.Get(group), row.Get(col)
		defer func() { prevGroup, prev, started = g, cur, true }()
		if !started || !g.Equal(prevGroup) {
			return table.Null(table.Number)
		}
		a, okA := prev.AsFloat()
		b, okB := cur.AsFloat()
		if !okA || !okB || b-a < 0 {
			return table.Null(table.Number)
		}
		return table.Num(b - a)
	}), nil
}

// CombineCovid joins cumulative cases, deaths and recoveries and derives
// new cases and new deaths. Recoveries may be nil.
func CombineCovid(cases, deaths, recoveries *table.Table) (*table.Table, error) {
	on := []string{CovidCountry, DateColumn}
	newCases, err := DailyChange(cases, CovidCountry, DateColumn, CovidCases, CovidNewCases)
	if err != nil {
		return nil, err
	}
	newDeaths, err := DailyChange(deaths, CovidCountry, DateColumn, CovidDeaths, CovidNewDeaths)
	if err != nil {
		return nil, err
	}
	out, err := table.Join(newCases, newDeaths, table.JoinOptions{On: on, How: table.OuterJoin})
	if err != nil {
		return nil, fmt.Errorf("combine covid: %w", err)
	}
	if recoveries != nil {
		if out, err = table.Join(out, recoveries, table.JoinOptions{On: on, How: table.OuterJoin}); err != nil {
			return nil, fmt.Errorf("combine covid: %w", err)
		}
	}
	return out.Sort(on...), nil
}

// CovidPaths locates the wide COVID files; Recoveries is optional
type CovidPaths struct {
	Cases      string
	Deaths     string
	Recoveries string
}

// LoadCovid reads and combines the wide COVID files
func LoadCovid(paths CovidPaths) (*table.Table, error) {
	read := func(path, value string) (*table.Table, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		header, rows, err := ReadCSV(f, ',')
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return MeltCovid(header, rows, value)
	}
	cases, err := read(paths.Cases, CovidCases)
	if err != nil {
		return nil, err
	}
	deaths, err := read(paths.Deaths, CovidDeaths)
	if err != nil {
		return nil, err
	}
	var recoveries *table.Table
	if paths.Recoveries != "" {
		if recoveries, err = read(paths.Recoveries, CovidRecoveries); err != nil {
			return nil, err
		}
	}
	return CombineCovid(cases, deaths, recoveries)
}

// NormalizeCovid maps country names to ISO2 codes, sums names sharing a
// code, and adds per-capita rates. Unmapped names are dropped and logged.
// Rates are null for countries without a population.
func NormalizeCovid(t *table.Table, m *geo.Mapping) (*table.Table, error) {
	resolved, missing, err := m.Resolve(t, CovidCountry, geo.CodeColumn, geo.ByName)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		fmt.Printf("Warning: %d COVID countries without a mapping: %v\n", len(missing), missing)
	}
	resolved, _ = geo.DropUnresolved(resolved, geo.CodeColumn)

	var values []string
	for _, c := range []string{CovidCases, CovidNewCases, CovidDeaths, CovidNewDeaths, CovidRecoveries} {
		if resolved.Has(c) {
			values = append(values, c)
		}
	}
	out, err := resolved.GroupBy([]string{geo.CodeColumn, DateColumn}, table.SumOf(values...))
	if err != nil {
		return nil, fmt.Errorf("normalize covid: %w", err)
	}

	rate := func(col string, per float64) func(table.Row) table.Value {
		return func(row table.Row) table.Value {
			code, _ := row.Get(geo.CodeColumn).AsString()
			c, ok := m.Country(code)
			v, okV := row.Float(col)
			if !ok || !okV || c.Population <= 0 {
				return table.Null(table.Number)
			}
			return table.NumOrNull(per * v / c.Population)
		}
	}
	out = out.WithColumn(table.NumberCol(CasesPer10k), rate(CovidCases, 1e4)).
		WithColumn(table.NumberCol(NewCasesPer100k), rate(CovidNewCases, 1e5)).
		WithColumn(table.NumberCol(NewDeathsPer1mm), rate(CovidNewDeaths, 1e6))
	return out.Sort(geo.CodeColumn, DateColumn), nil
}
