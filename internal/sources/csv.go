package sources

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/smukkama/demand-monitor/internal/table"
)

// rawOptions load every cell as untyped text; the schema does the typing
func rawOptions(delimiter rune) []dataframe.LoadOption {
	return []dataframe.LoadOption{
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(nil),
		dataframe.WithDelimiter(delimiter),
		dataframe.WithLazyQuotes(true),
	}
}

// ReadCSV reads delimited records. The first record is the header.
func ReadCSV(r io.Reader, delimiter rune) ([]string, [][]string, error) {
	df := dataframe.ReadCSV(r, rawOptions(delimiter)...)
	if df.Err != nil {
		return nil, nil, fmt.Errorf("read csv: %w: %w", ErrIncompleteTable, df.Err)
	}
	records := df.Records()
	return records[0], records[1:], nil
}

// LoadCSV reads a delimited file through a schema
func LoadCSV(path string, s Schema, delimiter rune) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header, rows, err := ReadCSV(f, delimiter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s.Apply(header, rows)
}

// LoadFile dispatches on the extension: .xlsx reads the first sheet, .tsv
// and .txt are tab separated, anything else is comma separated.
func LoadFile(path string, s Schema) (*table.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadExcel(path, "", s)
	case ".tsv", ".txt":
		return LoadCSV(path, s, '\t')
	default:
		return LoadCSV(path, s, ',')
	}
}

// LoadDir loads every matching file in dir and stacks the results. Files
// are read in name order.
func LoadDir(dir, pattern string, s Schema) (*table.Table, error) {
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w: no files match %s", dir, ErrIncompleteTable, pattern)
	}
	parts := make([]*table.Table, 0, len(paths))
	for _, p := range paths {
		t, err := LoadFile(p, s)
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}
	return table.Concat(parts...)
}

// Records renders a table as string records with a header row. Nulls
// render empty.
func Records(t *table.Table) [][]string {
	names := t.Names()
	records := make([][]string, 0, t.Len()+1)
	records = append(records, names)
	t.Each(func(row table.Row) {
		rec := make([]string, len(names))
		for j, n := range names {
			rec[j] = row.Get(n).String()
		}
		records = append(records, rec)
	})
	return records
}

// WriteCSV writes a table as comma separated text
func WriteCSV(w io.Writer, t *table.Table) error {
	records := Records(t)
	if len(records) == 1 {
		// gota refuses frames without rows
		cw := csv.NewWriter(w)
		if err := cw.Write(records[0]); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	}
	df := dataframe.LoadRecords(records, rawOptions(',')...)
	if df.Err != nil {
		return fmt.Errorf("write csv: %w", df.Err)
	}
	return df.WriteCSV(w)
}

// WriteCSVFile writes a table to path, creating parent directories
func WriteCSVFile(path string, t *table.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
