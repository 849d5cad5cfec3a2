// Package table provides the in-memory typed tables every pipeline stage
// consumes and produces. Operations never modify their receiver.
package table

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrKindMismatch    = errors.New("column kind mismatch")
	ErrColumnCollision = errors.New("column collision")
)

// Column describes a named, typed column
type Column struct {
	Name string
	Kind Kind
}

func NumberCol(name string) Column { return Column{Name: name, Kind: Number} }
func TextCol(name string) Column   { return Column{Name: name, Kind: Text} }
func DateCol(name string) Column   { return Column{Name: name, Kind: Date} }

// Table is an ordered set of rows over a fixed list of columns
type Table struct {
	cols  []Column
	index map[string]int
	rows  [][]Value
}

// New creates an empty table. Duplicate column names panic since they are
// always a programming error.
func New(cols ...Column) *Table {
	t := &Table{
		cols:  append([]Column(nil), cols...),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if _, dup := t.index[c.Name]; dup {
			panic(fmt.Sprintf("table: duplicate column %q", c.Name))
		}
		t.index[c.Name] = i
	}
	return t
}

// Row is a read-only view of one row
type Row struct {
	t *Table
	i int
}

// Get returns the named cell, or a null number when the column is absent
func (r Row) Get(name string) Value {
	j, ok := r.t.index[name]
	if !ok {
		return Null(Number)
	}
	return r.t.rows[r.i][j]
}

// Float is a shorthand for Get(name).AsFloat()
func (r Row) Float(name string) (float64, bool) { return r.Get(name).AsFloat() }

// Index is the position of the row in its table
func (r Row) Index() int { return r.i }

func (t *Table) Columns() []Column { return append([]Column(nil), t.cols...) }
func (t *Table) Len() int          { return len(t.rows) }

func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Kind returns the kind of the named column
func (t *Table) Kind(name string) (Kind, bool) {
	j, ok := t.index[name]
	if !ok {
		return 0, false
	}
	return t.cols[j].Kind, true
}

// Require returns an error naming the first missing column
func (t *Table) Require(names ...string) error {
	for _, n := range names {
		if !t.Has(n) {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, n)
		}
	}
	return nil
}

func (t *Table) Row(i int) Row { return Row{t: t, i: i} }

func (t *Table) Get(i int, name string) Value { return t.Row(i).Get(name) }

// Each calls fn for every row in order
func (t *Table) Each(fn func(Row)) {
	for i := range t.rows {
		fn(Row{t: t, i: i})
	}
}

// Values returns a copy of the named column
func (t *Table) Values(name string) []Value {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]Value, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[j]
	}
	return out
}

// Append adds a row given in column order. Nulls of any kind are accepted.
func (t *Table) Append(vals ...Value) error {
	if len(vals) != len(t.cols) {
		return fmt.Errorf("append: got %d values for %d columns", len(vals), len(t.cols))
	}
	row := make([]Value, len(vals))
	for j, v := range vals {
		if v.IsNull() {
			row[j] = Null(t.cols[j].Kind)
			continue
		}
		if v.Kind() != t.cols[j].Kind {
			return fmt.Errorf("append %s: %w (want %s, got %s)", t.cols[j].Name, ErrKindMismatch, t.cols[j].Kind, v.Kind())
		}
		row[j] = v
	}
	t.rows = append(t.rows, row)
	return nil
}

// AppendMap adds a row from named values; missing columns are null
func (t *Table) AppendMap(vals map[string]Value) error {
	row := make([]Value, len(t.cols))
	for j, c := range t.cols {
		row[j] = Null(c.Kind)
	}
	for name, v := range vals {
		j, ok := t.index[name]
		if !ok {
			return fmt.Errorf("append: %w: %s", ErrUnknownColumn, name)
		}
		row[j] = v
	}
	return t.Append(row...)
}

func (t *Table) empty() *Table {
	return New(t.cols...)
}

// Clone returns a copy sharing no row storage
func (t *Table) Clone() *Table {
	out := t.empty()
	out.rows = make([][]Value, len(t.rows))
	for i, r := range t.rows {
		out.rows[i] = append([]Value(nil), r...)
	}
	return out
}

// Filter keeps rows for which keep returns true
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := t.empty()
	for i, r := range t.rows {
		if keep(Row{t: t, i: i}) {
			out.rows = append(out.rows, append([]Value(nil), r...))
		}
	}
	return out
}

// Select projects the named columns in the given order
func (t *Table) Select(names ...string) (*Table, error) {
	if err := t.Require(names...); err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	cols := make([]Column, len(names))
	idx := make([]int, len(names))
	for k, n := range names {
		idx[k] = t.index[n]
		cols[k] = t.cols[idx[k]]
	}
	out := New(cols...)
	out.rows = make([][]Value, len(t.rows))
	for i, r := range t.rows {
		row := make([]Value, len(idx))
		for k, j := range idx {
			row[k] = r[j]
		}
		out.rows[i] = row
	}
	return out, nil
}

// Drop removes the named columns; absent names are ignored
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []string
	for _, c := range t.cols {
		if !drop[c.Name] {
			keep = append(keep, c.Name)
		}
	}
	out, _ := t.Select(keep...)
	return out
}

// Rename renames columns; names absent from the table are ignored
func (t *Table) Rename(names map[string]string) *Table {
	return t.RenameFunc(func(n string) string {
		if to, ok := names[n]; ok {
			return to
		}
		return n
	})
}

// RenameFunc renames every column through fn
func (t *Table) RenameFunc(fn func(string) string) *Table {
	cols := make([]Column, len(t.cols))
	for j, c := range t.cols {
		cols[j] = Column{Name: fn(c.Name), Kind: c.Kind}
	}
	out := New(cols...)
	out.rows = t.Clone().rows
	return out
}

// WithColumn adds (or replaces) a column computed per row
func (t *Table) WithColumn(col Column, fn func(Row) Value) *Table {
	cols := t.Columns()
	j, exists := t.index[col.Name]
	if exists {
		cols[j] = col
	} else {
		j = len(cols)
		cols = append(cols, col)
	}
	out := New(cols...)
	out.rows = make([][]Value, len(t.rows))
	for i, r := range t.rows {
		v := fn(Row{t: t, i: i})
		if v.IsNull() || v.Kind() != col.Kind {
			v = Null(col.Kind)
		}
		row := append([]Value(nil), r...)
		if exists {
			row[j] = v
		} else {
			row = append(row, v)
		}
		out.rows[i] = row
	}
	return out
}

// Map rewrites the named existing columns cell by cell
func (t *Table) Map(names []string, fn func(name string, v Value) Value) *Table {
	out := t.Clone()
	for _, n := range names {
		j, ok := t.index[n]
		if !ok {
			continue
		}
		kind := t.cols[j].Kind
		for _, r := range out.rows {
			v := fn(n, r[j])
			if v.IsNull() || v.Kind() != kind {
				v = Null(kind)
			}
			r[j] = v
		}
	}
	return out
}

// Sort orders rows by the named columns, ascending, nulls first. The sort is
// stable so equal keys keep their input order.
func (t *Table) Sort(by ...string) *Table {
	out := t.Clone()
	idx := make([]int, 0, len(by))
	for _, n := range by {
		if j, ok := t.index[n]; ok {
			idx = append(idx, j)
		}
	}
	sort.SliceStable(out.rows, func(a, b int) bool {
		for _, j := range idx {
			if c := out.rows[a][j].Compare(out.rows[b][j]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out
}

// Unique returns the distinct values of a column in first-seen order
func (t *Table) Unique(name string) []Value {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []Value
	for _, r := range t.rows {
		k := r[j].key()
		if !seen[k] {
			seen[k] = true
			out = append(out, r[j])
		}
	}
	return out
}

// Bounds returns the smallest and largest non-null values of a column
func (t *Table) Bounds(name string) (lo, hi Value, ok bool) {
	j, exists := t.index[name]
	if !exists {
		return lo, hi, false
	}
	for _, r := range t.rows {
		v := r[j]
		if v.IsNull() {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		if v.Compare(lo) < 0 {
			lo = v
		}
		if v.Compare(hi) > 0 {
			hi = v
		}
	}
	return lo, hi, ok
}

// NumericColumns lists the names of Number columns, excluding the given ones
func (t *Table) NumericColumns(exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		skip[n] = true
	}
	var out []string
	for _, c := range t.cols {
		if c.Kind == Number && !skip[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

func (t *Table) keyOf(row []Value, idx []int) string {
	var b strings.Builder
	for k, j := range idx {
		if k > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(row[j].key())
	}
	return b.String()
}

func (t *Table) indexes(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for k, n := range names {
		j, ok := t.index[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, n)
		}
		idx[k] = j
	}
	return idx, nil
}

// Concat stacks tables vertically. The result has the union of all columns in
// first-seen order; cells missing from a table are null.
func Concat(tables ...*Table) (*Table, error) {
	var cols []Column
	seen := make(map[string]Kind)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.cols {
			if k, ok := seen[c.Name]; ok {
				if k != c.Kind {
					return nil, fmt.Errorf("concat %s: %w", c.Name, ErrKindMismatch)
				}
				continue
			}
			seen[c.Name] = c.Kind
			cols = append(cols, c)
		}
	}
	out := New(cols...)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, r := range t.rows {
			row := make([]Value, len(cols))
			for j, c := range cols {
				if src, ok := t.index[c.Name]; ok {
					row[j] = r[src]
				} else {
					row[j] = Null(c.Kind)
				}
			}
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}
