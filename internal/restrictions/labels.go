package restrictions

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/smukkama/demand-monitor/internal/table"
)

// LabelSuffix marks the label column paired with an ordinal column
const LabelSuffix = "_Label"

// Labels maps source codes to human-readable labels. Label sets vary by
// source, so they are loaded from configuration.
type Labels struct {
	// Reasons maps restriction-matrix reason codes to labels.
	Reasons map[string]string `yaml:"reasons"`
	// Columns maps an ordinal policy column to its level labels.
	Columns map[string]map[int]string `yaml:"columns"`
}

// LoadLabels reads a YAML label mapping
func LoadLabels(path string) (*Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label mapping: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels decodes a YAML label mapping
func ParseLabels(data []byte) (*Labels, error) {
	var l Labels
	if err := yaml.UnmarshalStrict(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse label mapping: %w", err)
	}
	if l.Reasons == nil {
		l.Reasons = map[string]string{}
	}
	if l.Columns == nil {
		l.Columns = map[string]map[int]string{}
	}
	return &l, nil
}

// Label returns the label of an ordinal level
func (l *Labels) Label(column string, level float64) (string, bool) {
	levels, ok := l.Columns[column]
	if !ok || level != math.Trunc(level) {
		return "", false
	}
	label, ok := levels[int(level)]
	return label, ok
}

// Apply adds <column>_Label for every configured column present in t.
// Levels without a label stay null.
func (l *Labels) Apply(t *table.Table) *table.Table {
	out := t
	for _, col := range t.Names() {
		if _, ok := l.Columns[col]; !ok {
			continue
		}
		if k, _ := t.Kind(col); k != table.Number {
			continue
		}
		column := col
		out = out.WithColumn(table.TextCol(column+LabelSuffix), func(row table.Row) table.Value {
			level, ok := row.Float(column)
			if !ok {
				return table.Null(table.Text)
			}
			label, ok := l.Label(column, level)
			if !ok {
				return table.Null(table.Text)
			}
			return table.Str(label)
		})
	}
	return out
}
