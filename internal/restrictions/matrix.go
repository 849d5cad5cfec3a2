// Package restrictions parses bilateral border-restriction matrices, diffs
// consecutive snapshots and turns policy trackers into change events.
package restrictions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
)

var (
	ErrMalformedMatrix = errors.New("malformed restriction matrix")
	ErrUnknownCode     = errors.New("unknown restriction code")
)

// Matrix columns
const (
	DateColumn           = "date"
	Code3Origin          = "code_3_origin"
	Code3Destination     = "code_3_destination"
	BorderColumn         = "Border"
	PreviousBorderColumn = "Border_Previous"
	ReasonsColumn        = "Restrictions"
	ClosuresColumn       = "border_closures"
)

// Border states
const (
	Open       = "Open"
	Restricted = "Restricted"
	Closed     = "Closed"
)

// originsKey lists the origin countries, in column order, in the payload
const originsKey = "ARRIVAL_ISO3"

// BorderState maps a matrix border code to its state
func BorderState(code string) (string, error) {
	switch strings.TrimSpace(code) {
	case "0", "3":
		return Open, nil
	case "1":
		return Restricted, nil
	case "2":
		return Closed, nil
	}
	return "", fmt.Errorf("%w: border %q", ErrUnknownCode, code)
}

// ParseMatrix turns a published restriction matrix into one row per
// (origin, destination) pair. The payload is a JavaScript assignment
// wrapping a JSON object: destination ISO3 code to a list of
// "<border>-<reason>,<reason>" cells aligned with ARRIVAL_ISO3.
//
// Every reason in the label mapping gets its own 0/1 column, in code order,
// and Restrictions joins the labels of the reasons that apply.
func ParseMatrix(payload []byte, reasons map[string]string, date time.Time) (*table.Table, error) {
	body := bytes.TrimSpace(payload)
	if i := bytes.IndexByte(body, '='); i >= 0 && bytes.HasPrefix(body, []byte("var ")) {
		body = body[i+1:]
	}
	body = bytes.TrimSuffix(bytes.TrimSpace(body), []byte(";"))

	var raw map[string][]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMatrix, err)
	}
	origins, ok := raw[originsKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedMatrix, originsKey)
	}
	delete(raw, originsKey)

	codes := make([]string, 0, len(reasons))
	for code := range reasons {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return lessCode(codes[i], codes[j]) })

	cols := []table.Column{
		table.DateCol(DateColumn), table.TextCol(Code3Origin), table.TextCol(Code3Destination),
		table.TextCol(BorderColumn), table.TextCol(ReasonsColumn),
	}
	seen := make(map[string]bool, len(codes))
	for _, c := range cols {
		seen[c.Name] = true
	}
	for _, code := range codes {
		if seen[reasons[code]] {
			return nil, fmt.Errorf("%w: reason label %q used twice", ErrMalformedMatrix, reasons[code])
		}
		seen[reasons[code]] = true
		cols = append(cols, table.NumberCol(reasons[code]))
	}
	out := table.New(cols...)

	destinations := make([]string, 0, len(raw))
	for d := range raw {
		destinations = append(destinations, d)
	}
	sort.Strings(destinations)

	day := table.Day(date)
	for _, dest := range destinations {
		cells := raw[dest]
		if len(cells) != len(origins) {
			return nil, fmt.Errorf("%w: %s has %d cells for %d origins", ErrMalformedMatrix, dest, len(cells), len(origins))
		}
		for i, cell := range cells {
			border, rest, found := strings.Cut(cell, "-")
			if !found {
				return nil, fmt.Errorf("%w: cell %q for %s-%s", ErrMalformedMatrix, cell, origins[i], dest)
			}
			state, err := BorderState(border)
			if err != nil {
				return nil, fmt.Errorf("%s-%s: %w", origins[i], dest, err)
			}

			row := map[string]table.Value{
				DateColumn:       day,
				Code3Origin:      table.Str(origins[i]),
				Code3Destination: table.Str(dest),
				BorderColumn:     table.Str(state),
			}
			for _, code := range codes {
				row[reasons[code]] = table.Num(0)
			}
			var labels []string
			for _, r := range strings.Split(rest, ",") {
				if r = strings.TrimSpace(r); r == "" {
					continue
				}
				label, ok := reasons[r]
				if !ok {
					return nil, fmt.Errorf("%s-%s: %w: reason %q", origins[i], dest, ErrUnknownCode, r)
				}
				labels = append(labels, label)
				row[label] = table.Num(1)
			}
			row[ReasonsColumn] = table.StrOrNull(strings.Join(labels, "\n\n"))
			if err := out.AppendMap(row); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// lessCode orders numeric codes numerically and everything else lexically
func lessCode(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// Normalize resolves the ISO3 codes of a parsed matrix to ISO2 and attaches
// geography. Pairs with an unresolved side are dropped; the unresolved ISO3
// codes are returned.
func Normalize(t *table.Table, m *geo.Mapping) (*table.Table, []string, error) {
	out, missOrigin, err := m.Resolve(t, Code3Origin, geo.CodeOrigin, geo.ByISO3)
	if err != nil {
		return nil, nil, err
	}
	out, missDest, err := m.Resolve(out, Code3Destination, geo.CodeDestination, geo.ByISO3)
	if err != nil {
		return nil, nil, err
	}
	out, _ = geo.DropUnresolved(out, geo.CodeOrigin, geo.CodeDestination)
	if out, err = m.AttachGeography(out, geo.CodeOrigin, geo.CodeDestination); err != nil {
		return nil, nil, err
	}
	return out.Drop(Code3Origin, Code3Destination), mergeSorted(missOrigin, missDest), nil
}

func mergeSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		set[s] = true
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Diff left-joins the previous snapshot's border state onto the current one
// as Border_Previous. Pairs absent from previous keep a null.
func Diff(current, previous *table.Table) (*table.Table, error) {
	on := []string{geo.CodeOrigin, geo.CodeDestination}
	if err := current.Require(append(on, BorderColumn)...); err != nil {
		return nil, fmt.Errorf("diff current: %w", err)
	}
	if previous == nil {
		return current.WithColumn(table.TextCol(PreviousBorderColumn), func(table.Row) table.Value {
			return table.Null(table.Text)
		}), nil
	}
	prev, err := previous.Select(append(on, BorderColumn)...)
	if err != nil {
		return nil, fmt.Errorf("diff previous: %w", err)
	}
	prev = prev.Rename(map[string]string{BorderColumn: PreviousBorderColumn})
	out, err := table.Join(current, prev, table.JoinOptions{On: on, How: table.LeftJoin})
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	return out, nil
}

// BorderClosures counts closed inbound borders per destination country.
// Destinations without a closure count zero.
func BorderClosures(matrix *table.Table) (*table.Table, error) {
	if err := matrix.Require(geo.CodeDestination, BorderColumn); err != nil {
		return nil, fmt.Errorf("border closures: %w", err)
	}
	closed := matrix.WithColumn(table.NumberCol("closed"), func(row table.Row) table.Value {
		if s, _ := row.Get(BorderColumn).AsString(); s == Closed {
			return table.Num(1)
		}
		return table.Num(0)
	})
	counts, err := closed.Filter(func(row table.Row) bool {
		return !row.Get(geo.CodeDestination).IsNull()
	}).GroupBy([]string{geo.CodeDestination}, []table.Agg{{Column: "closed", Func: table.Sum, As: ClosuresColumn}})
	if err != nil {
		return nil, fmt.Errorf("border closures: %w", err)
	}
	return counts.Rename(map[string]string{geo.CodeDestination: geo.CodeColumn}).Sort(geo.CodeColumn), nil
}
