package changepoint

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/demand-monitor/internal/table"
)

var start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func step(n, at int, before, after float64) []Point {
	out := make([]Point, n)
	for i := range out {
		v := before
		if i >= at {
			v = after
		}
		out[i] = Point{Date: start.AddDate(0, 0, i), Value: v}
	}
	return out
}

func TestBinarySegmentationMarksEndOfSegmentBeforeShift(t *testing.T) {
	changes, err := BinarySegmentation{}.Detect(step(20, 10, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{start.AddDate(0, 0, 9)}, changes)
}

func TestBinarySegmentationTwoShifts(t *testing.T) {
	series := step(30, 10, 1, 5)
	for i := 20; i < 30; i++ {
		series[i].Value = 2
	}
	changes, err := BinarySegmentation{}.Detect(series)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{start.AddDate(0, 0, 9), start.AddDate(0, 0, 19)}, changes)

	capped, err := BinarySegmentation{MaxChanges: 1}.Detect(series)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}

func TestBinarySegmentationQuietSeries(t *testing.T) {
	changes, err := BinarySegmentation{}.Detect(step(20, 0, 3, 3))
	require.NoError(t, err)
	assert.Empty(t, changes)

	changes, err = BinarySegmentation{}.Detect(step(3, 1, 1, 9))
	require.NoError(t, err)
	assert.Empty(t, changes, "too short to split")

	bad := step(6, 3, 1, 2)
	bad[2].Value = math.NaN()
	_, err = BinarySegmentation{}.Detect(bad)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func frame(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New(table.TextCol("country_code"), table.DateCol("date"), table.NumberCol("pax"))
	add := func(code string, series []Point) {
		for _, p := range series {
			require.NoError(t, tbl.Append(table.Str(code), table.Day(p.Date), table.Num(p.Value)))
		}
	}
	add("US", step(20, 0, 2, 2))
	add("FR", step(20, 10, 1, 5))
	require.NoError(t, tbl.Append(table.Str("FR"), table.Day(start.AddDate(0, 0, 20)), table.Null(table.Number)))
	add("XX", step(4, 0, 42, 42))
	return tbl
}

var errBoom = errors.New("boom")

func TestAnnotate(t *testing.T) {
	det := DetectorFunc(func(series []Point) ([]time.Time, error) {
		if len(series) > 0 && series[0].Value == 42 {
			return nil, errBoom
		}
		return BinarySegmentation{}.Detect(series)
	})
	out, err := Annotate(context.Background(), frame(t), det, Options{
		CountryColumn: "country_code",
		DateColumn:    "date",
		Columns:       []string{"pax"},
		Limit:         2,
	})
	assert.ErrorIs(t, err, errBoom)
	require.NotNil(t, out)
	require.True(t, out.Has("pax"+Suffix))

	marked := 0
	out.Each(func(row table.Row) {
		code, _ := row.Get("country_code").AsString()
		date, _ := row.Get("date").AsTime()
		v := row.Get("pax" + Suffix)
		switch {
		case code == "XX":
			assert.True(t, v.IsNull(), "failed series stays null")
		case code == "FR" && date.Equal(start.AddDate(0, 0, 9)):
			f, _ := v.AsFloat()
			assert.Equal(t, Marked, f)
			marked++
		default:
			f, ok := v.AsFloat()
			assert.True(t, ok)
			assert.Equal(t, Unmarked, f, "%s %s", code, date.Format(table.DateLayout))
		}
	})
	assert.Equal(t, 1, marked)
}

func TestAnnotateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Annotate(ctx, frame(t), BinarySegmentation{}, Options{
		CountryColumn: "country_code", DateColumn: "date", Columns: []string{"pax"},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnnotateRequiresColumns(t *testing.T) {
	_, err := Annotate(context.Background(), frame(t), BinarySegmentation{}, Options{
		CountryColumn: "country_code", DateColumn: "date", Columns: []string{"missing"},
	})
	assert.Error(t, err)
}
