// Package sources reads raw dataset files into typed tables through
// declared schemas.
package sources

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/demand-monitor/internal/table"
)

// DateColumn is the date column of every loaded series
const DateColumn = "date"

// ErrIncompleteTable is returned when an input lacks required columns or rows
var ErrIncompleteTable = errors.New("incomplete table")

// DateLayouts are tried in order when parsing a date field
var DateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"20060102",
	"1/2/06",
	"1/2/06 15:04",
	"1/2/2006",
	"1/2/2006 15:04:05",
	"Jan 2006",
}

// Field declares one column of a dataset
type Field struct {
	// Name is the column name in the resulting table.
	Name string
	// Source is the header in the raw file; empty means Name.
	Source string
	// Aliases are alternative headers tried after Source.
	Aliases []string
	Kind    table.Kind
	// Optional fields become all-null columns when absent.
	Optional bool
}

func (f Field) header() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Name
}

// Schema declares the typed columns read from a dataset
type Schema struct {
	Name   string
	Fields []Field
	// Header normalizes raw headers before matching, if set.
	Header func(string) string
}

// Text, Number and Date build required fields
func Text(name, source string) Field   { return Field{Name: name, Source: source, Kind: table.Text} }
func Number(name, source string) Field { return Field{Name: name, Source: source, Kind: table.Number} }
func Date(name, source string) Field   { return Field{Name: name, Source: source, Kind: table.Date} }

// Apply types raw records. Columns not declared are ignored. Unparsable
// cells become null and are counted in a warning.
func (s Schema) Apply(header []string, rows [][]string) (*table.Table, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if s.Header != nil {
			h = s.Header(h)
		}
		pos[h] = i
	}

	cols := make([]table.Column, len(s.Fields))
	idx := make([]int, len(s.Fields))
	var missing []string
	for i, f := range s.Fields {
		cols[i] = table.Column{Name: f.Name, Kind: f.Kind}
		j, ok := pos[f.header()]
		for _, alias := range f.Aliases {
			if ok {
				break
			}
			j, ok = pos[alias]
		}
		if !ok {
			if !f.Optional {
				missing = append(missing, f.header())
			}
			j = -1
		}
		idx[i] = j
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w: missing columns %s", s.Name, ErrIncompleteTable, strings.Join(missing, ", "))
	}

	out := table.New(cols...)
	bad := 0
	vals := make([]table.Value, len(s.Fields))
	for _, rec := range rows {
		for i, f := range s.Fields {
			raw := ""
			if j := idx[i]; j >= 0 && j < len(rec) {
				raw = rec[j]
			}
			v, ok := Parse(raw, f.Kind)
			if !ok {
				bad++
			}
			vals[i] = v
		}
		if err := out.Append(vals...); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	if bad > 0 {
		fmt.Printf("Warning: %d unparsable cell(s) in %s set to null\n", bad, s.Name)
	}
	return out, nil
}

// Parse converts one raw cell. Blank and NaN cells are null and count as
// parsed; ok is false only for cells that could not be read.
func Parse(raw string, kind table.Kind) (table.Value, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "NaN" {
		return table.Null(kind), true
	}
	switch kind {
	case table.Number:
		f, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			return table.Null(kind), false
		}
		return table.NumOrNull(f), true
	case table.Date:
		t, ok := ParseDate(raw)
		if !ok {
			return table.Null(kind), false
		}
		return table.Day(t), true
	default:
		return table.Str(raw), true
	}
}

// ParseDate tries each of DateLayouts
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	// Integer dates such as 20200315 sometimes arrive as floats.
	raw = strings.TrimSuffix(raw, ".0")
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
