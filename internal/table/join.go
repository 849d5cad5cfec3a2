package table

import "fmt"

// JoinKind selects which unmatched rows survive a join
type JoinKind uint8

const (
	InnerJoin JoinKind = iota
	LeftJoin
	OuterJoin
)

// JoinOptions configures Join. Suffixes are appended to non-key columns that
// exist on both sides; equal suffixes make such a collision an error.
type JoinOptions struct {
	On       []string
	How      JoinKind
	Suffixes [2]string
}

// Join combines two tables on equal key columns. Output rows follow the left
// table's order, followed by unmatched right rows for outer joins. Key
// columns are taken from whichever side has the row.
func Join(left, right *Table, opts JoinOptions) (*Table, error) {
	lk, err := left.indexes(opts.On)
	if err != nil {
		return nil, fmt.Errorf("join left: %w", err)
	}
	rk, err := right.indexes(opts.On)
	if err != nil {
		return nil, fmt.Errorf("join right: %w", err)
	}
	for k := range opts.On {
		if left.cols[lk[k]].Kind != right.cols[rk[k]].Kind {
			return nil, fmt.Errorf("join on %s: %w", opts.On[k], ErrKindMismatch)
		}
	}

	isKey := make(map[string]bool, len(opts.On))
	for _, n := range opts.On {
		isKey[n] = true
	}

	// Output layout: all left columns, then right non-key columns.
	var cols []Column
	leftSrc := make([]int, 0, len(left.cols))
	for j, c := range left.cols {
		name := c.Name
		if !isKey[name] && right.Has(name) {
			if opts.Suffixes[0] == opts.Suffixes[1] {
				return nil, fmt.Errorf("join: %w: %s", ErrColumnCollision, name)
			}
			name += opts.Suffixes[0]
		}
		cols = append(cols, Column{Name: name, Kind: c.Kind})
		leftSrc = append(leftSrc, j)
	}
	var rightSrc []int
	for j, c := range right.cols {
		if isKey[c.Name] {
			continue
		}
		name := c.Name
		if left.Has(name) {
			name += opts.Suffixes[1]
		}
		cols = append(cols, Column{Name: name, Kind: c.Kind})
		rightSrc = append(rightSrc, j)
	}
	out := New(cols...)

	// Key positions inside the output row, used to fill right-only rows.
	outKey := make([]int, len(opts.On))
	for k := range opts.On {
		outKey[k] = lk[k]
	}

	byKey := make(map[string][]int)
	for i, r := range right.rows {
		k := right.keyOf(r, rk)
		byKey[k] = append(byKey[k], i)
	}
	matched := make([]bool, len(right.rows))

	build := func(l, r []Value) []Value {
		row := make([]Value, 0, len(cols))
		for _, j := range leftSrc {
			if l == nil {
				row = append(row, Null(left.cols[j].Kind))
			} else {
				row = append(row, l[j])
			}
		}
		for _, j := range rightSrc {
			if r == nil {
				row = append(row, Null(right.cols[j].Kind))
			} else {
				row = append(row, r[j])
			}
		}
		if l == nil {
			for k, j := range outKey {
				row[j] = r[rk[k]]
			}
		}
		return row
	}

	for _, l := range left.rows {
		hits := byKey[left.keyOf(l, lk)]
		if len(hits) == 0 {
			if opts.How != InnerJoin {
				out.rows = append(out.rows, build(l, nil))
			}
			continue
		}
		for _, i := range hits {
			matched[i] = true
			out.rows = append(out.rows, build(l, right.rows[i]))
		}
	}
	if opts.How == OuterJoin {
		for i, r := range right.rows {
			if !matched[i] {
				out.rows = append(out.rows, build(nil, r))
			}
		}
	}
	return out, nil
}
