package sources

import (
	"fmt"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

const rawCode = "raw_country_code"

// KeyedSpec declares a country-level series: one identifier column, one
// date column and numeric value columns, keyed by (country_code, date)
// after resolution.
type KeyedSpec struct {
	Name       string
	CodeSource string
	Path       geo.Path
	DateSource string
	// Values maps output column names to raw headers.
	Values map[string]string
	// Order fixes the output column order of Values.
	Order []string
}

func (k KeyedSpec) schema() Schema {
	s := Schema{Name: k.Name, Fields: []Field{
		Text(rawCode, k.CodeSource),
		Date(DateColumn, k.DateSource),
	}}
	for _, name := range k.Order {
		s.Fields = append(s.Fields, Number(name, k.Values[name]))
	}
	return s
}

// LoadKeyed reads a country-level series from path
func LoadKeyed(path string, spec KeyedSpec, m *geo.Mapping) (*table.Table, error) {
	raw, err := LoadFile(path, spec.schema())
	if err != nil {
		return nil, err
	}
	return PrepareKeyed(raw, spec, m)
}

// PrepareKeyed resolves identifiers to ISO2 codes and averages duplicate
// (country_code, date) rows
func PrepareKeyed(raw *table.Table, spec KeyedSpec, m *geo.Mapping) (*table.Table, error) {
	resolved, missing, err := m.Resolve(raw, rawCode, geo.CodeColumn, spec.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	if len(missing) > 0 {
		fmt.Printf("Warning: %d %s identifier(s) without a country mapping\n", len(missing), spec.Name)
	}
	resolved, _ = geo.DropUnresolved(resolved, geo.CodeColumn, DateColumn)
	aggs := make([]table.Agg, len(spec.Order))
	for i, name := range spec.Order {
		aggs[i] = table.Agg{Column: name, Func: table.Mean}
	}
	out, err := resolved.GroupBy([]string{geo.CodeColumn, DateColumn}, aggs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	return out.Sort(geo.CodeColumn, DateColumn), nil
}

// TrendTerm is one search-interest extract
type TrendTerm struct {
	// Name becomes the column Google_<Name>_Interest.
	Name string
	Path string
	// Column is the value header in the extract; defaults to Name.
	Column string
}

// TrendColumn names the interest column of a term
func TrendColumn(name string) string { return "Google_" + name + "_Interest" }

// LoadTrends reads search-interest extracts keyed by geoCode and merges the
// terms on (country_code, date). Sub-national geo codes do not resolve and
// are dropped.
func LoadTrends(terms []TrendTerm, m *geo.Mapping) (*table.Table, error) {
	var parts []*table.Table
	for _, term := range terms {
		col := term.Column
		if col == "" {
			col = term.Name
		}
		spec := KeyedSpec{
			Name:       "trends " + term.Name,
			CodeSource: "geoCode",
			Path:       geo.ByISO2,
			DateSource: DateColumn,
			Values:     map[string]string{TrendColumn(term.Name): col},
			Order:      []string{TrendColumn(term.Name)},
		}
		t, err := LoadKeyed(term.Path, spec, m)
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}
	return mergeKeyed(parts)
}

func mergeKeyed(parts []*table.Table) (*table.Table, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("merge: %w: no series", ErrIncompleteTable)
	}
	out := parts[0]
	for _, p := range parts[1:] {
		var err error
		if out, err = table.Join(out, p, table.JoinOptions{On: []string{geo.CodeColumn, DateColumn}, How: table.OuterJoin}); err != nil {
			return nil, fmt.Errorf("merge keyed series: %w", err)
		}
	}
	return out.Sort(geo.CodeColumn, DateColumn), nil
}

// GovernmentResponse declares the policy tracker columns to keep
type GovernmentResponse struct {
	// Ordinal columns are labelled and scanned for changes.
	Ordinal []string
	// Indices are continuous columns such as containment indices.
	Indices []string
}

const regionName = "region_name"

// Schema reads the tracker extract: ISO3 CountryCode, integer Date and an
// optional RegionName set on sub-national rows
func (g GovernmentResponse) Schema() Schema {
	s := Schema{Name: "government response", Fields: []Field{
		Text(rawCode, "CountryCode"),
		Date(DateColumn, "Date"),
		{Name: regionName, Source: "RegionName", Kind: table.Text, Optional: true},
	}}
	for _, c := range g.values() {
		s.Fields = append(s.Fields, Number(c, c))
	}
	return s
}

func (g GovernmentResponse) values() []string {
	return append(append([]string(nil), g.Ordinal...), g.Indices...)
}

// FillColumns are the columns carried forward per country
func (g GovernmentResponse) FillColumns() []string {
	return g.values()
}

// Columns are the policy columns of a prepared table, labels included
func (g GovernmentResponse) Columns() []string {
	var cols []string
	for _, c := range g.Ordinal {
		cols = append(cols, c, c+restrictions.LabelSuffix)
	}
	return append(cols, g.Indices...)
}

// Load reads and prepares the tracker extract
func (g GovernmentResponse) Load(path string, m *geo.Mapping, labels *restrictions.Labels) (*table.Table, error) {
	raw, err := LoadFile(path, g.Schema())
	if err != nil {
		return nil, err
	}
	return g.Prepare(raw, m, labels)
}

// Prepare maps ISO3 to ISO2 codes, reduces each (country_code, date) to one
// row, forward fills the levels and indices per country in date order and
// derives the ordinal labels from the filled levels.
//
// A national row wins over sub-national rows of the same key. Keys with only
// sub-national rows take the highest level and the mean index.
func (g GovernmentResponse) Prepare(raw *table.Table, m *geo.Mapping, labels *restrictions.Labels) (*table.Table, error) {
	resolved, missing, err := m.Resolve(raw, rawCode, geo.CodeColumn, geo.ByISO3)
	if err != nil {
		return nil, fmt.Errorf("government response: %w", err)
	}
	if len(missing) > 0 {
		fmt.Printf("Warning: %d tracker countries without a mapping: %v\n", len(missing), missing)
	}
	resolved, _ = geo.DropUnresolved(resolved, geo.CodeColumn, DateColumn)

	reduced, err := g.reduce(resolved)
	if err != nil {
		return nil, fmt.Errorf("government response: %w", err)
	}
	filled, err := temporal.FillForward(reduced, []string{geo.CodeColumn}, DateColumn, g.FillColumns())
	if err != nil {
		return nil, fmt.Errorf("government response: %w", err)
	}
	labelled := labels.Apply(filled)
	for _, c := range g.Ordinal {
		if !labelled.Has(c + restrictions.LabelSuffix) {
			labelled = labelled.WithColumn(table.TextCol(c+restrictions.LabelSuffix), func(table.Row) table.Value {
				return table.Null(table.Text)
			})
		}
	}
	out, err := labelled.Select(append([]string{geo.CodeColumn, DateColumn}, g.Columns()...)...)
	if err != nil {
		return nil, fmt.Errorf("government response: %w", err)
	}
	return out, nil
}

// reduce keeps one row per (country_code, date)
func (g GovernmentResponse) reduce(t *table.Table) (*table.Table, error) {
	subNational := func(row table.Row) bool {
		name, ok := row.Get(regionName).AsString()
		return ok && name != ""
	}
	key := func(row table.Row) string {
		return row.Get(geo.CodeColumn).String() + "|" + row.Get(DateColumn).String()
	}
	national := make(map[string]bool)
	t.Each(func(row table.Row) {
		if !subNational(row) {
			national[key(row)] = true
		}
	})
	kept := t.Filter(func(row table.Row) bool {
		return !subNational(row) || !national[key(row)]
	})
	if dropped := t.Len() - kept.Len(); dropped > 0 {
		fmt.Printf("Dropped %d sub-national tracker row(s) shadowed by national rows\n", dropped)
	}

	aggs := make([]table.Agg, 0, len(g.Ordinal)+len(g.Indices))
	for _, c := range g.Ordinal {
		aggs = append(aggs, table.Agg{Column: c, Func: table.Max})
	}
	for _, c := range g.Indices {
		aggs = append(aggs, table.Agg{Column: c, Func: table.Mean})
	}
	return kept.GroupBy([]string{geo.CodeColumn, DateColumn}, aggs)
}
