package scorecard

import (
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// Entry is one scorecard comparison in long format. Numeric columns fill
// the float fields; categorical columns fill the labels.
type Entry struct {
	Entity        string
	Attributes    map[string]string
	IndexedOn     string
	Column        string
	Before        *float64
	After         *float64
	Delta         *float64
	PercentChange *float64
	BeforeLabel   string
	AfterLabel    string
}

// Entries unpivots a wide scorecard. Entity is the value of the first key;
// the remaining keys go to Attributes. Column names are humanized.
func Entries(wide *table.Table, keys, columns []string) []Entry {
	var out []Entry
	wide.Each(func(row table.Row) {
		var entity string
		attrs := make(map[string]string, len(keys))
		for i, k := range keys {
			if i == 0 {
				entity = row.Get(k).String()
				continue
			}
			attrs[k] = row.Get(k).String()
		}
		indexedOn := row.Get(IndexedOn).String()

		for _, c := range columns {
			if !wide.Has(c) {
				continue
			}
			e := Entry{
				Entity:     entity,
				Attributes: attrs,
				IndexedOn:  indexedOn,
				Column:     HumanName(c),
			}
			if kind, _ := wide.Kind(c); kind.Categorical() {
				e.AfterLabel = row.Get(c).String()
				e.BeforeLabel = row.Get(c + temporal.PrevSuffix).String()
			} else {
				e.After = floatPtr(row.Get(c))
				e.Before = floatPtr(row.Get(c + temporal.PrevSuffix))
				e.Delta = floatPtr(row.Get(c + temporal.DeltaSuffix))
				e.PercentChange = floatPtr(row.Get(c + temporal.PctChangeSuffix))
			}
			out = append(out, e)
		}
	})
	return out
}

func floatPtr(v table.Value) *float64 {
	f, ok := v.AsFloat()
	if !ok {
		return nil
	}
	return &f
}
