package restrictions

import (
	"time"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
)

// Entry is one bilateral cell of a restriction snapshot
type Entry struct {
	Origin      string
	Destination string
	Date        time.Time
	Border      string
	Reasons     string
}

// Snapshot is a full restriction matrix at one date
type Snapshot struct {
	Date    time.Time
	Entries []Entry
}

// NewSnapshot extracts the persisted fields of a normalized matrix
func NewSnapshot(matrix *table.Table, date time.Time) (*Snapshot, error) {
	if err := matrix.Require(geo.CodeOrigin, geo.CodeDestination, BorderColumn); err != nil {
		return nil, err
	}
	s := &Snapshot{Date: date}
	matrix.Each(func(row table.Row) {
		var e Entry
		e.Origin, _ = row.Get(geo.CodeOrigin).AsString()
		e.Destination, _ = row.Get(geo.CodeDestination).AsString()
		e.Border, _ = row.Get(BorderColumn).AsString()
		e.Reasons, _ = row.Get(ReasonsColumn).AsString()
		e.Date = date
		if d, ok := row.Get(DateColumn).AsTime(); ok {
			e.Date = d
		}
		s.Entries = append(s.Entries, e)
	})
	return s, nil
}

// Table renders the snapshot in the shape Diff expects
func (s *Snapshot) Table() *table.Table {
	out := table.New(
		table.DateCol(DateColumn), table.TextCol(geo.CodeOrigin), table.TextCol(geo.CodeDestination),
		table.TextCol(BorderColumn), table.TextCol(ReasonsColumn),
	)
	if s == nil {
		return out
	}
	for _, e := range s.Entries {
		_ = out.Append(table.Day(e.Date), table.StrOrNull(e.Origin), table.StrOrNull(e.Destination),
			table.StrOrNull(e.Border), table.StrOrNull(e.Reasons))
	}
	return out
}
