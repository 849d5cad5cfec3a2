package table

import "fmt"

// AggFunc folds the non-null values of a group into one value
type AggFunc uint8

const (
	Sum AggFunc = iota
	Mean
	Max
	Min
	Count
	First
	Last
)

func (f AggFunc) String() string {
	return [...]string{"sum", "mean", "max", "min", "count", "first", "last"}[f]
}

// Agg names one aggregated output column
type Agg struct {
	Column string
	Func   AggFunc
	As     string
}

func (a Agg) name() string {
	if a.As != "" {
		return a.As
	}
	return a.Column
}

// SumOf builds Sum aggregations keeping the column names
func SumOf(cols ...string) []Agg {
	aggs := make([]Agg, len(cols))
	for i, c := range cols {
		aggs[i] = Agg{Column: c, Func: Sum}
	}
	return aggs
}

// ByKind aggregates Number columns by mean and every other kind by max
func ByKind(t *Table, cols ...string) []Agg {
	aggs := make([]Agg, len(cols))
	for i, c := range cols {
		f := Mean
		if k, ok := t.Kind(c); ok && k.Categorical() {
			f = Max
		}
		aggs[i] = Agg{Column: c, Func: f}
	}
	return aggs
}

type accumulator struct {
	fn    AggFunc
	kind  Kind
	n     int
	sum   float64
	value Value
}

func (a *accumulator) add(v Value) {
	if v.IsNull() {
		return
	}
	a.n++
	switch a.fn {
	case Sum, Mean:
		f, _ := v.AsFloat()
		a.sum += f
	case Max:
		if a.n == 1 || v.Compare(a.value) > 0 {
			a.value = v
		}
	case Min:
		if a.n == 1 || v.Compare(a.value) < 0 {
			a.value = v
		}
	case First:
		if a.n == 1 {
			a.value = v
		}
	case Last:
		a.value = v
	}
}

func (a *accumulator) result() Value {
	switch a.fn {
	case Count:
		return Num(float64(a.n))
	}
	if a.n == 0 {
		return Null(a.outKind())
	}
	switch a.fn {
	case Sum:
		return Num(a.sum)
	case Mean:
		return Num(a.sum / float64(a.n))
	default:
		return a.value
	}
}

func (a *accumulator) outKind() Kind {
	switch a.fn {
	case Sum, Mean, Count:
		return Number
	}
	return a.kind
}

// GroupBy groups rows by the key columns and aggregates each group. Groups
// appear in first-seen order. Sum and Mean require Number columns.
func (t *Table) GroupBy(keys []string, aggs []Agg) (*Table, error) {
	keyIdx, err := t.indexes(keys)
	if err != nil {
		return nil, fmt.Errorf("group by: %w", err)
	}
	aggIdx := make([]int, len(aggs))
	cols := make([]Column, 0, len(keys)+len(aggs))
	for _, j := range keyIdx {
		cols = append(cols, t.cols[j])
	}
	for k, a := range aggs {
		j, ok := t.index[a.Column]
		if !ok {
			return nil, fmt.Errorf("group by: %w: %s", ErrUnknownColumn, a.Column)
		}
		kind := t.cols[j].Kind
		if (a.Func == Sum || a.Func == Mean) && kind != Number {
			return nil, fmt.Errorf("group by %s(%s): %w", a.Func, a.Column, ErrKindMismatch)
		}
		aggIdx[k] = j
		acc := accumulator{fn: a.Func, kind: kind}
		cols = append(cols, Column{Name: a.name(), Kind: acc.outKind()})
	}
	out := New(cols...)

	type group struct {
		key  []Value
		accs []accumulator
	}
	groups := make(map[string]*group)
	var order []string
	for _, r := range t.rows {
		k := t.keyOf(r, keyIdx)
		g, ok := groups[k]
		if !ok {
			g = &group{key: make([]Value, len(keyIdx)), accs: make([]accumulator, len(aggs))}
			for i, j := range keyIdx {
				g.key[i] = r[j]
			}
			for i, a := range aggs {
				g.accs[i] = accumulator{fn: a.Func, kind: t.cols[aggIdx[i]].Kind}
			}
			groups[k] = g
			order = append(order, k)
		}
		for i, j := range aggIdx {
			g.accs[i].add(r[j])
		}
	}
	for _, k := range order {
		g := groups[k]
		row := append([]Value(nil), g.key...)
		for i := range g.accs {
			row = append(row, g.accs[i].result())
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}
