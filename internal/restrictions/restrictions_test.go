package restrictions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
)

func day(s string) time.Time {
	t, err := time.Parse(table.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

const payload = `var RestrictionMatrix = {
  "ARRIVAL_ISO3": ["FRA", "USA"],
  "FRA": ["0-", "2-1,2"],
  "USA": ["1-2", "3-"]
};`

var reasons = map[string]string{"1": "Medical certificate", "2": "Nationality ban", "10": "Visa suspension"}

func TestParseMatrix(t *testing.T) {
	out, err := ParseMatrix([]byte(payload), reasons, day("2020-06-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{DateColumn, Code3Origin, Code3Destination, BorderColumn, ReasonsColumn,
		"Medical certificate", "Nationality ban", "Visa suspension"}, out.Names())
	require.Equal(t, 4, out.Len())

	// FRA destination first; origins in ARRIVAL_ISO3 order.
	assert.Equal(t, "FRA", out.Get(0, Code3Origin).String())
	assert.Equal(t, Open, out.Get(0, BorderColumn).String())
	assert.True(t, out.Get(0, ReasonsColumn).IsNull())

	assert.Equal(t, "USA", out.Get(1, Code3Origin).String())
	assert.Equal(t, Closed, out.Get(1, BorderColumn).String())
	assert.Equal(t, "Medical certificate\n\nNationality ban", out.Get(1, ReasonsColumn).String())
	assert.Equal(t, "1", out.Get(1, "Nationality ban").String())
	assert.Equal(t, "0", out.Get(1, "Visa suspension").String())

	assert.Equal(t, Restricted, out.Get(2, BorderColumn).String())
	assert.Equal(t, Open, out.Get(3, BorderColumn).String(), "code 3 is open")
}

func TestParseMatrixRejectsUnknownCodes(t *testing.T) {
	_, err := ParseMatrix([]byte(`{"ARRIVAL_ISO3": ["FRA"], "USA": ["7-"]}`), reasons, day("2020-06-01"))
	assert.ErrorIs(t, err, ErrUnknownCode)
	_, err = ParseMatrix([]byte(`{"ARRIVAL_ISO3": ["FRA"], "USA": ["0-99"]}`), reasons, day("2020-06-01"))
	assert.ErrorIs(t, err, ErrUnknownCode)
	_, err = ParseMatrix([]byte(`{"USA": ["0-"]}`), reasons, day("2020-06-01"))
	assert.ErrorIs(t, err, ErrMalformedMatrix)
}

func testMapping() *geo.Mapping {
	return geo.NewMapping(geo.Reference{Countries: []geo.Country{
		{Code: "FR", Code3: "FRA", Name: "France", Region: "Europe", Continent: "Europe"},
		{Code: "US", Code3: "USA", Name: "United States", Region: "North America", Continent: "North America"},
	}})
}

func TestDiffAppendsPreviousBorder(t *testing.T) {
	current, err := ParseMatrix([]byte(payload), reasons, day("2020-06-02"))
	require.NoError(t, err)
	current, missing, err := Normalize(current, testMapping())
	require.NoError(t, err)
	assert.Empty(t, missing)

	prevSnap := &Snapshot{Date: day("2020-06-01"), Entries: []Entry{
		{Origin: "US", Destination: "FR", Date: day("2020-06-01"), Border: Restricted},
	}}
	out, err := Diff(current, prevSnap.Table())
	require.NoError(t, err)
	assert.Equal(t, PreviousBorderColumn, out.Names()[len(out.Names())-1])
	require.Equal(t, current.Len(), out.Len())

	out.Each(func(row table.Row) {
		o, _ := row.Get(geo.CodeOrigin).AsString()
		d, _ := row.Get(geo.CodeDestination).AsString()
		if o == "US" && d == "FR" {
			assert.Equal(t, Restricted, row.Get(PreviousBorderColumn).String())
			assert.Equal(t, Closed, row.Get(BorderColumn).String())
			return
		}
		assert.True(t, row.Get(PreviousBorderColumn).IsNull(), "%s-%s has no previous entry", o, d)
	})

	first, err := Diff(current, nil)
	require.NoError(t, err)
	assert.True(t, first.Get(0, PreviousBorderColumn).IsNull())
}

func TestBorderClosures(t *testing.T) {
	current, err := ParseMatrix([]byte(payload), reasons, day("2020-06-02"))
	require.NoError(t, err)
	current, _, err = Normalize(current, testMapping())
	require.NoError(t, err)

	out, err := BorderClosures(current)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "FR", out.Get(0, geo.CodeColumn).String())
	assert.Equal(t, "1", out.Get(0, ClosuresColumn).String())
	assert.Equal(t, "0", out.Get(1, ClosuresColumn).String())
}

func observations(t *testing.T, rows ...[]any) *table.Table {
	t.Helper()
	tbl := table.New(table.TextCol("country_code"), table.DateCol("date"), table.NumberCol("c8"), table.TextCol("c8_Label"))
	for _, r := range rows {
		level, label := table.Null(table.Number), table.Null(table.Text)
		if r[2] != nil {
			level = table.Num(r[2].(float64))
		}
		if r[3] != nil {
			label = table.Str(r[3].(string))
		}
		require.NoError(t, tbl.Append(table.Str(r[0].(string)), table.Day(day(r[1].(string))), level, label))
	}
	return tbl
}

func TestDetectChangesSingleTransition(t *testing.T) {
	obs := observations(t,
		[]any{"XX", "2020-03-01", 1.0, "Open"},
		[]any{"XX", "2020-03-02", 2.0, "Closed"},
	)
	events, err := DetectChanges(obs, ScanOptions{CountryColumn: "country_code", DateColumn: "date", Columns: []string{"c8"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ChangeEvent{
		Country: "XX", Date: day("2020-03-02"), Column: "c8",
		Previous: "Open", Current: "Closed", Type: MoreRestrictive, Magnitude: 1,
	}, events[0])
}

func TestDetectChangesSkipsNullsAndKeepsCountriesApart(t *testing.T) {
	obs := observations(t,
		[]any{"FR", "2020-03-04", 1.0, "Screening"},
		[]any{"FR", "2020-03-01", 4.0, "Total closure"},
		[]any{"FR", "2020-03-02", nil, nil},
		[]any{"FR", "2020-03-03", 0.0, nil},
		[]any{"US", "2020-03-01", 0.0, "No measures"},
		[]any{"US", "2020-03-05", 0.0, "No measures"},
		[]any{"FR", "2019-12-31", 0.0, "No measures"},
	)
	events, err := DetectChanges(obs, ScanOptions{
		CountryColumn: "country_code",
		DateColumn:    "date",
		Columns:       []string{"c8"},
		Window:        temporal.NewRange(day("2020-01-01"), day("2020-12-31")),
	})
	require.NoError(t, err)
	require.Len(t, events, 1, "null observations are not readings of zero")
	assert.Equal(t, LessRestrictive, events[0].Type)
	assert.Equal(t, -3.0, events[0].Magnitude)
	assert.Equal(t, "Total closure", events[0].Previous)
	assert.Equal(t, day("2020-03-04"), events[0].Date)

	tbl := EventsTable(events)
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, LessRestrictive, tbl.Get(0, EventType).String())
}

func TestLabels(t *testing.T) {
	labels, err := ParseLabels([]byte(`
reasons:
  "1": Medical certificate
columns:
  c8:
    0: No measures
    4: Total border closure
`))
	require.NoError(t, err)
	assert.Equal(t, "Medical certificate", labels.Reasons["1"])

	obs := observations(t,
		[]any{"FR", "2020-03-01", 4.0, nil},
		[]any{"FR", "2020-03-02", 2.0, nil},
		[]any{"FR", "2020-03-03", nil, nil},
	).Drop("c8_Label")
	out := labels.Apply(obs)
	assert.Equal(t, "Total border closure", out.Get(0, "c8_Label").String())
	assert.True(t, out.Get(1, "c8_Label").IsNull(), "level without a label")
	assert.True(t, out.Get(2, "c8_Label").IsNull())

	_, err = ParseLabels([]byte("unknown: 1"))
	assert.Error(t, err)
}
