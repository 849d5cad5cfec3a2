package changepoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smukkama/demand-monitor/internal/table"
)

// Suffix names the marker column added per annotated column
const Suffix = "_Change_Points"

// Marker values
const (
	Marked   = 100.0
	Unmarked = 0.0
)

// Options configures Annotate
type Options struct {
	CountryColumn string
	DateColumn    string
	Columns       []string
	// Limit caps concurrent detections; zero means no cap.
	Limit int
}

type task struct {
	column  string
	country string
	series  []Point
}

type result struct {
	changes map[time.Time]bool
	err     error
}

// Annotate runs det over every (country, column) series of t concurrently
// and adds <column>_Change_Points: 100 on change dates, 0 elsewhere. A
// failed series leaves its markers null; its error is joined into the
// returned error alongside the annotated table. Only cancellation of ctx
// aborts the whole run.
func Annotate(ctx context.Context, t *table.Table, det Detector, opts Options) (*table.Table, error) {
	if err := t.Require(append([]string{opts.CountryColumn, opts.DateColumn}, opts.Columns...)...); err != nil {
		return nil, fmt.Errorf("annotate change points: %w", err)
	}

	tasks := buildTasks(t.Sort(opts.CountryColumn, opts.DateColumn), opts)
	results := make([]result, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Limit > 0 {
		g.SetLimit(opts.Limit)
	}
	for i := range tasks {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			changes, err := det.Detect(tasks[i].series)
			if err != nil {
				results[i].err = fmt.Errorf("%s/%s: %w", tasks[i].country, tasks[i].column, err)
				return nil
			}
			results[i].changes = make(map[time.Time]bool, len(changes))
			for _, c := range changes {
				results[i].changes[c] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byKey := make(map[string]result, len(tasks))
	var errs []error
	for i, tk := range tasks {
		byKey[tk.column+"\x00"+tk.country] = results[i]
		if results[i].err != nil {
			fmt.Printf("Change-point detection failed for %s/%s: %v\n", tk.country, tk.column, results[i].err)
			errs = append(errs, results[i].err)
		}
	}

	out := t
	for _, col := range opts.Columns {
		column := col
		out = out.WithColumn(table.NumberCol(column+Suffix), func(row table.Row) table.Value {
			code, ok := row.Get(opts.CountryColumn).AsString()
			if !ok {
				return table.Null(table.Number)
			}
			res, ok := byKey[column+"\x00"+code]
			if !ok {
				return table.Num(Unmarked)
			}
			if res.err != nil {
				return table.Null(table.Number)
			}
			date, ok := row.Get(opts.DateColumn).AsTime()
			if ok && res.changes[date] {
				return table.Num(Marked)
			}
			return table.Num(Unmarked)
		})
	}
	return out, errors.Join(errs...)
}

// buildTasks collects one date-ordered series per column and country.
// Null values are left out so detected dates stay aligned.
func buildTasks(sorted *table.Table, opts Options) []task {
	index := make(map[string]int)
	var tasks []task
	sorted.Each(func(row table.Row) {
		code, ok := row.Get(opts.CountryColumn).AsString()
		if !ok {
			return
		}
		date, ok := row.Get(opts.DateColumn).AsTime()
		if !ok {
			return
		}
		for _, col := range opts.Columns {
			key := col + "\x00" + code
			i, seen := index[key]
			if !seen {
				i = len(tasks)
				index[key] = i
				tasks = append(tasks, task{column: col, country: code})
			}
			if v, ok := row.Float(col); ok {
				tasks[i].series = append(tasks[i].series, Point{Date: date, Value: v})
			}
		}
	})
	sort.SliceStable(tasks, func(a, b int) bool {
		if tasks[a].column != tasks[b].column {
			return tasks[a].column < tasks[b].column
		}
		return tasks[a].country < tasks[b].country
	})
	return tasks
}
