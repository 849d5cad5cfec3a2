package sources

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/smukkama/demand-monitor/internal/table"
)

// ReadSheet returns the header and rows of a worksheet. An empty sheet name
// reads the first sheet.
func ReadSheet(path, sheet string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, fmt.Errorf("%s: %w: no sheets", path, ErrIncompleteTable)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%s/%s: %w: empty sheet", path, sheet, ErrIncompleteTable)
	}
	return rows[0], rows[1:], nil
}

// LoadExcel reads a worksheet through a schema
func LoadExcel(path, sheet string, s Schema) (*table.Table, error) {
	header, rows, err := ReadSheet(path, sheet)
	if err != nil {
		return nil, err
	}
	return s.Apply(header, rows)
}

// Sheet is one named worksheet of an output workbook
type Sheet struct {
	Name  string
	Table *table.Table
}

// WriteExcel writes tables to a workbook, one sheet each. Numbers are
// written as numbers and nulls as blank cells.
func WriteExcel(path string, sheets []Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("write workbook: no sheets")
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.Name); err != nil {
				return fmt.Errorf("failed to name sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return fmt.Errorf("failed to add sheet %q: %w", s.Name, err)
		}
		if err := writeSheet(f, s); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, s Sheet) error {
	names := s.Table.Names()
	header := make([]interface{}, len(names))
	for j, n := range names {
		header[j] = n
	}
	if err := f.SetSheetRow(s.Name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header of %q: %w", s.Name, err)
	}

	var err error
	s.Table.Each(func(row table.Row) {
		if err != nil {
			return
		}
		cells := make([]interface{}, len(names))
		for j, n := range names {
			v := row.Get(n)
			switch {
			case v.IsNull():
				cells[j] = nil
			case v.Kind() == table.Number:
				cells[j], _ = v.AsFloat()
			default:
				cells[j] = v.String()
			}
		}
		var cell string
		if cell, err = excelize.CoordinatesToCellName(1, row.Index()+2); err != nil {
			return
		}
		err = f.SetSheetRow(s.Name, cell, &cells)
	})
	if err != nil {
		return fmt.Errorf("failed to write rows of %q: %w", s.Name, err)
	}
	return nil
}
