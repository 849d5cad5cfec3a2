package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/protocol"
	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/sources"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

// restrictionStage diffs the restriction matrix against the previous
// snapshot, loads travel regulations and airport restrictions, rebuilds the
// policy change log and prepares the digests of changes not notified yet.
func (r *Runner) restrictionStage(ctx context.Context, m *geo.Mapping, government *table.Table, res *Result) error {
	if r.cfg.RestrictionMatrixPath != "" {
		if err := r.matrix(ctx, m, res); err != nil {
			return err
		}
	}
	if r.cfg.TimaticDir != "" {
		regulations, err := sources.LoadTimatic(r.cfg.TimaticDir, m)
		if err != nil {
			return err
		}
		res.Regulations = regulations
		res.Counts["regulation_countries"] = regulations.Len()
	}
	if r.cfg.AirportRestrictionsPath != "" {
		airports, err := sources.LoadAirportRestrictions(r.cfg.AirportRestrictionsPath, m)
		if err != nil {
			return err
		}
		res.Airports = airports
		res.Counts["airports"] = airports.Len()
		if _, unmapped := geo.DropUnresolved(airports, geo.CodeColumn); unmapped > 0 {
			res.warn("Airports without a country mapping", fmt.Sprintf("%d rows", unmapped))
		}
	}
	if government != nil {
		if err := r.changeLog(ctx, government, res); err != nil {
			return err
		}
	}
	return r.digests(ctx, m, res)
}

func (r *Runner) matrix(ctx context.Context, m *geo.Mapping, res *Result) error {
	payload, err := os.ReadFile(r.cfg.RestrictionMatrixPath)
	if err != nil {
		return fmt.Errorf("failed to read restriction matrix: %w", err)
	}
	parsed, err := restrictions.ParseMatrix(payload, r.opts.Labels.Reasons, res.Reference)
	if err != nil {
		return err
	}
	current, missing, err := restrictions.Normalize(parsed, m)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		res.warn("Restriction matrix codes without a country mapping", fmt.Sprint(missing))
	}

	previous, err := r.opts.Store.SnapshotBefore(ctx, res.Reference)
	if err != nil {
		return fmt.Errorf("failed to load previous snapshot: %w", err)
	}
	var prevTable *table.Table
	if previous != nil {
		prevTable = previous.Table()
	} else {
		fmt.Println("No previous restriction snapshot")
	}
	if res.Matrix, err = restrictions.Diff(current, prevTable); err != nil {
		return err
	}
	res.Borders = borderChanges(res.Matrix)
	if res.snapshot, err = restrictions.NewSnapshot(current, res.Reference); err != nil {
		return err
	}

	res.Counts["matrix_pairs"] = res.Matrix.Len()
	res.Counts["border_changes"] = len(res.Borders)
	fmt.Printf("Restriction matrix diffed: %d pairs, %d border change(s)\n", res.Matrix.Len(), len(res.Borders))
	return nil
}

// borderChanges lists the pairs whose border state differs from a known
// previous state, ordered as the matrix
func borderChanges(matrix *table.Table) []protocol.BorderChange {
	var out []protocol.BorderChange
	matrix.Each(func(row table.Row) {
		prev, ok := row.Get(restrictions.PreviousBorderColumn).AsString()
		if !ok {
			return
		}
		cur, _ := row.Get(restrictions.BorderColumn).AsString()
		if cur == prev {
			return
		}
		b := protocol.BorderChange{Previous: prev, Current: cur}
		b.Origin, _ = row.Get(geo.CodeOrigin).AsString()
		b.Destination, _ = row.Get(geo.CodeDestination).AsString()
		out = append(out, b)
	})
	return out
}

func (r *Runner) changeLog(ctx context.Context, government *table.Table, res *Result) error {
	var columns []string
	for _, c := range r.cfg.OrdinalColumns {
		if government.Has(c) && government.Has(c+restrictions.LabelSuffix) {
			columns = append(columns, c)
		}
	}
	if len(columns) == 0 {
		res.warn("No labelled policy columns, change log skipped", "no label columns in the government response")
		return nil
	}
	events, err := restrictions.DetectChanges(government, restrictions.ScanOptions{
		CountryColumn: geo.CodeColumn,
		DateColumn:    sources.DateColumn,
		Columns:       columns,
		Window:        temporal.NewRange(r.changeLogStart, res.Reference),
	})
	if err != nil {
		return err
	}
	res.Events = events
	res.Counts["change_events"] = len(events)
	fmt.Printf("Policy change log built: %d event(s) over %d column(s)\n", len(events), len(columns))
	return nil
}

func eventKey(e restrictions.ChangeEvent) string {
	return e.Country + "|" + e.Date.Format(table.DateLayout) + "|" + e.Column
}

// digests groups the recent events not yet in the store and the border
// changes into one digest per country
func (r *Runner) digests(ctx context.Context, m *geo.Mapping, res *Result) error {
	since := res.Reference.AddDate(0, 0, -r.cfg.DigestDays)
	var recent []restrictions.ChangeEvent
	for _, e := range res.Events {
		if e.Date.After(since) {
			recent = append(recent, e)
		}
	}

	if len(recent) > 0 {
		known, err := r.opts.Store.ChangeEventsSince(ctx, since)
		if err != nil {
			return fmt.Errorf("failed to load notified events: %w", err)
		}
		seen := make(map[string]bool, len(known))
		for _, e := range known {
			seen[eventKey(e)] = true
		}
		var fresh []restrictions.ChangeEvent
		for _, e := range recent {
			if !seen[eventKey(e)] {
				fresh = append(fresh, e)
			}
		}
		recent = fresh
	}

	res.Digests = protocol.NewDigests(res.RunID, res.Reference, recent, res.Borders)
	for _, d := range res.Digests {
		if c, ok := m.Country(d.Country); ok {
			d.CountryName = c.Name
		}
	}
	res.Counts["digests"] = len(res.Digests)
	return nil
}

// ReferenceDay parses a reference date; empty means the UTC day of now
func ReferenceDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return day(now), nil
	}
	t, err := time.Parse(table.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reference date %q: %w", s, err)
	}
	return t, nil
}
