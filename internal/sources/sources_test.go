package sources

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/table"
)

func day(s string) time.Time {
	t, err := time.Parse(table.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testMapping() *geo.Mapping {
	return geo.NewMapping(geo.Reference{
		Countries: []geo.Country{
			{Code: "FR", Code3: "FRA", Name: "France", Region: "Europe", Continent: "Europe", Population: 1e6},
			{Code: "US", Code3: "USA", Name: "United States", Region: "North America", Continent: "North America"},
		},
		Names:    map[string]string{"US": "US"},
		Airports: map[string]string{"CDG": "FR", "JFK": "US"},
		Cities:   map[string]string{"PAR": "FR", "NYC": "US"},
	})
}

func records(csv string) ([]string, [][]string) {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(csv), "\n") {
		rows = append(rows, strings.Split(line, ","))
	}
	return rows[0], rows[1:]
}

func TestSchemaApply(t *testing.T) {
	s := Schema{Name: "test", Fields: []Field{
		Text("code", "Code"),
		{Name: "n", Source: "count", Aliases: []string{"number"}, Kind: table.Number},
		Date("date", ""),
		{Name: "extra", Kind: table.Number, Optional: true},
	}}
	header, rows := records(`
Code,number,date,ignored
FR,1.5,2020-03-01,x
US,oops,20200302,y
,,,
`)
	out, err := s.Apply(header, rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"code", "n", "date", "extra"}, out.Names())
	require.Equal(t, 3, out.Len())
	assert.Equal(t, "1.5", out.Get(0, "n").String())
	assert.True(t, out.Get(1, "n").IsNull(), "unparsable number")
	assert.Equal(t, "2020-03-02", out.Get(1, "date").String())
	assert.True(t, out.Get(2, "code").IsNull())
	assert.True(t, out.Get(0, "extra").IsNull())

	_, err = Schema{Name: "strict", Fields: []Field{Text("missing", "")}}.Apply(header, rows)
	assert.ErrorIs(t, err, ErrIncompleteTable)
}

func TestReadCSVKeepsRawText(t *testing.T) {
	header, rows, err := ReadCSV(strings.NewReader("code,value\nNA,1\n"), ',')
	require.NoError(t, err)
	assert.Equal(t, []string{"code", "value"}, header)
	assert.Equal(t, [][]string{{"NA", "1"}}, rows, "NA is Namibia, not a missing value")

	_, _, err = ReadCSV(strings.NewReader("code,value\n"), ',')
	assert.ErrorIs(t, err, ErrIncompleteTable)
}

func TestWriteCSV(t *testing.T) {
	tbl := table.New(table.TextCol("country_code"), table.DateCol("date"), table.NumberCol("pax"))
	require.NoError(t, tbl.Append(table.Str("FR"), table.Day(day("2020-03-01")), table.Num(1.5)))
	require.NoError(t, tbl.Append(table.Str("US"), table.Day(day("2020-03-02")), table.Null(table.Number)))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	assert.Equal(t, "country_code,date,pax\nFR,2020-03-01,1.5\nUS,2020-03-02,\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteCSV(&buf, table.New(table.TextCol("a"), table.NumberCol("b"))))
	assert.Equal(t, "a,b\n", buf.String())
}

func TestExcelRoundTrip(t *testing.T) {
	tbl := table.New(table.TextCol("code"), table.NumberCol("value"))
	require.NoError(t, tbl.Append(table.Str("FR"), table.Num(2.5)))
	require.NoError(t, tbl.Append(table.Str("US"), table.Num(4)))

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteExcel(path, []Sheet{{Name: "Scorecard", Table: tbl}, {Name: "Other", Table: tbl}}))

	out, err := LoadExcel(path, "", Schema{Name: "xlsx", Fields: []Field{Text("code", ""), Number("value", "")}})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "FR", out.Get(0, "code").String())
	assert.Equal(t, "4", out.Get(1, "value").String())

	_, _, err = ReadSheet(path, "Missing")
	assert.Error(t, err)
}

const covidCases = `
Province/State,Country/Region,Lat,Long,1/22/20,1/23/20,1/24/20
,France,0,0,1,3,2
Corsica,France,0,0,1,1,1
,Atlantis,0,0,5,5,5
`

func TestCovid(t *testing.T) {
	header, rows := records(covidCases)
	cases, err := MeltCovid(header, rows, CovidCases)
	require.NoError(t, err)
	deaths, err := MeltCovid(header, rows, CovidDeaths)
	require.NoError(t, err)

	combined, err := CombineCovid(cases, deaths, nil)
	require.NoError(t, err)
	require.Equal(t, 6, combined.Len())

	out, err := NormalizeCovid(combined, testMapping())
	require.NoError(t, err)
	require.Equal(t, 3, out.Len(), "unmapped countries are dropped")

	assert.Equal(t, "FR", out.Get(0, geo.CodeColumn).String())
	assert.Equal(t, "2", out.Get(0, CovidCases).String(), "provinces are summed")
	assert.True(t, out.Get(0, CovidNewCases).IsNull(), "first day has no change")
	assert.Equal(t, "2", out.Get(1, CovidNewCases).String())
	assert.True(t, out.Get(2, CovidNewCases).IsNull(), "negative change")

	rate, ok := out.Get(1, CasesPer10k).AsFloat()
	require.True(t, ok)
	assert.InDelta(t, 0.04, rate, 1e-12)
	newRate, _ := out.Get(1, NewCasesPer100k).AsFloat()
	assert.InDelta(t, 0.2, newRate, 1e-12)
}

func TestMeltCovidRequiresCountryColumn(t *testing.T) {
	_, err := MeltCovid([]string{"Country", "1/22/20"}, nil, CovidCases)
	assert.ErrorIs(t, err, ErrIncompleteTable)
}

func TestPrepareBookings(t *testing.T) {
	header, rows := records(`
Purchase_Date,Travel_Date,Country_of_Sale,Orig_Country,Dest_Country,Pax
2020-03-01,2020-03-10,FR,France,United States,2
2020-03-01,2020-03-10,FR,France,US,3
2020-03-01,2020-02-01,FR,France,United States,7
2020-03-01,2022-03-10,FR,France,United States,9
2020-03-01,2020-03-10,FR,Atlantis,France,4
`)
	raw, err := BookingSchema.Apply(header, rows)
	require.NoError(t, err)

	b, err := PrepareBookings(raw, nil, testMapping())
	require.NoError(t, err)

	require.Equal(t, 1, b.Purchases.Len())
	assert.Equal(t, "2020-03-01", b.Purchases.Get(0, DateColumn).String())
	assert.Equal(t, "5", b.Purchases.Get(0, Pax).String())
	assert.True(t, b.Purchases.Has(PaxPrevYear))
	assert.Equal(t, geo.Intercontinental, b.Purchases.Get(0, geo.TravelTypeColumn).String())

	require.Equal(t, 1, b.Trips.Len())
	assert.Equal(t, "2020-03-10", b.Trips.Get(0, DateColumn).String())
	assert.Equal(t, "5", b.Trips.Get(0, Pax).String())
}

func TestPrepareSearches(t *testing.T) {
	header, rows := records(`
pos,date_request,request_origin,request_destination,request_outbound_date,number_of_request
FR,20200301,CDG,JFK,20200415,5
FR,20200301,PAR,NYC,20200415,2
FR,20200301,CDG,JFK,20200215,9
FR,20200301,CDG,JFK,20210415,9
FR,20200301,XXX,JFK,20200415,9
`)
	raw, err := SearchSchema.Apply(header, rows)
	require.NoError(t, err)

	out, err := PrepareSearches(raw, testMapping())
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "FR", out.Get(0, geo.CodeOrigin).String())
	assert.Equal(t, "US", out.Get(0, geo.CodeDestination).String())
	assert.Equal(t, "7", out.Get(0, Requests).String(), "cities fill what airports miss")
}

func TestGovernmentResponse(t *testing.T) {
	g := GovernmentResponse{Ordinal: []string{"C8"}, Indices: []string{"ContainmentIndex"}}
	header, rows := records(`
CountryCode,Date,C8,ContainmentIndex
FRA,20200303,3,30
FRA,20200301,1,10
FRA,20200302,,
XXX,20200301,1,1
`)
	raw, err := g.Schema().Apply(header, rows)
	require.NoError(t, err)
	labels, err := restrictions.ParseLabels([]byte("columns:\n  C8:\n    1: Screening\n    3: Ban\n"))
	require.NoError(t, err)

	out, err := g.Prepare(raw, testMapping(), labels)
	require.NoError(t, err)
	assert.Equal(t, []string{geo.CodeColumn, DateColumn, "C8", "C8_Label", "ContainmentIndex"}, out.Names())
	require.Equal(t, 3, out.Len())
	assert.Equal(t, "2020-03-02", out.Get(1, DateColumn).String())
	assert.Equal(t, "1", out.Get(1, "C8").String(), "forward filled")
	assert.Equal(t, "Screening", out.Get(1, "C8_Label").String())
	assert.Equal(t, "10", out.Get(1, "ContainmentIndex").String())
	assert.Equal(t, "Ban", out.Get(2, "C8_Label").String())
}

func TestGovernmentResponseOneRowPerKey(t *testing.T) {
	g := GovernmentResponse{Ordinal: []string{"C8"}, Indices: []string{"StringencyIndex"}}
	header, rows := records(`
CountryCode,RegionName,Date,C8,StringencyIndex
USA,,20200301,3,50
USA,Alabama,20200301,1,20
USA,,20200302,3,50
USA,Alabama,20200302,1,20
FRA,Corsica,20200301,1,10
FRA,Normandy,20200301,2,30
`)
	raw, err := g.Schema().Apply(header, rows)
	require.NoError(t, err)
	labels, err := restrictions.ParseLabels([]byte("columns:\n  C8:\n    1: Screening\n    2: Quarantine\n    3: Ban\n"))
	require.NoError(t, err)

	out, err := g.Prepare(raw, testMapping(), labels)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	assert.Len(t, out.Unique(geo.CodeColumn), 2)

	assert.Equal(t, "FR", out.Get(0, geo.CodeColumn).String())
	assert.Equal(t, "2", out.Get(0, "C8").String(), "highest sub-national level")
	assert.Equal(t, "Quarantine", out.Get(0, "C8_Label").String())
	assert.Equal(t, "20", out.Get(0, "StringencyIndex").String(), "mean sub-national index")

	for i := 1; i < 3; i++ {
		assert.Equal(t, "3", out.Get(i, "C8").String(), "national row wins")
		assert.Equal(t, "50", out.Get(i, "StringencyIndex").String())
	}

	events, err := restrictions.DetectChanges(out, restrictions.ScanOptions{
		CountryColumn: geo.CodeColumn, DateColumn: DateColumn, Columns: []string{"C8"},
	})
	require.NoError(t, err)
	assert.Empty(t, events, "constant national level")
}

func TestGovernmentResponseLabelFollowsFilledLevel(t *testing.T) {
	g := GovernmentResponse{Ordinal: []string{"C8"}}
	header, rows := records(`
CountryCode,Date,C8
FRA,20200301,1
FRA,20200302,2
FRA,20200303,
FRA,20200304,3
`)
	raw, err := g.Schema().Apply(header, rows)
	require.NoError(t, err)
	labels, err := restrictions.ParseLabels([]byte("columns:\n  C8:\n    1: Screening\n    3: Ban\n"))
	require.NoError(t, err)

	out, err := g.Prepare(raw, testMapping(), labels)
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())
	assert.Equal(t, "Screening", out.Get(0, "C8_Label").String())
	assert.Equal(t, "2", out.Get(1, "C8").String())
	assert.True(t, out.Get(1, "C8_Label").IsNull(), "level 2 has no label")
	assert.Equal(t, "2", out.Get(2, "C8").String(), "forward filled")
	assert.True(t, out.Get(2, "C8_Label").IsNull(), "label derived from the filled level")

	events, err := restrictions.DetectChanges(out, restrictions.ScanOptions{
		CountryColumn: geo.CodeColumn, DateColumn: DateColumn, Columns: []string{"C8"},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Screening", events[0].Previous)
	assert.Equal(t, "Ban", events[0].Current)
	assert.Equal(t, day("2020-03-04"), events[0].Date)
}

func TestPrepareKeyedAveragesDuplicates(t *testing.T) {
	spec := KeyedSpec{
		Name: "indicators", CodeSource: "LOCATION", Path: geo.ByISO3, DateSource: "TIME",
		Values: map[string]string{"cli": "Value"}, Order: []string{"cli"},
	}
	header, rows := records(`
LOCATION,TIME,Value
FRA,2020-03-01,98
FRA,2020-03-01,100
USA,2020-03-01,101
`)
	raw, err := spec.schema().Apply(header, rows)
	require.NoError(t, err)
	out, err := PrepareKeyed(raw, spec, testMapping())
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "99", out.Get(0, "cli").String())
	assert.Equal(t, "US", out.Get(1, geo.CodeColumn).String())
}

func regulationsWorkbook(t *testing.T, path string, rows [][4]string) {
	t.Helper()
	tbl := table.New(
		table.TextCol("Country Code"),
		table.TextCol("Latest Regulations"),
		table.TextCol("Country Restriction Level"),
		table.TextCol("Updated"),
	)
	for _, r := range rows {
		vals := make([]table.Value, len(r))
		for i, cell := range r {
			if cell == "" {
				vals[i] = table.Null(table.Text)
			} else {
				vals[i] = table.Str(cell)
			}
		}
		require.NoError(t, tbl.Append(vals...))
	}
	require.NoError(t, WriteExcel(path, []Sheet{{Name: "Regulations", Table: tbl}}))
}

func TestLoadTimaticKeepsLatestUpdate(t *testing.T) {
	dir := t.TempDir()
	regulationsWorkbook(t, filepath.Join(dir, "a.xlsx"), [][4]string{
		{"US", "Entry<br/>banned&#32;now", "Totally Restrictive", "2020-06-01"},
		{"FR", "Old rules", "Not Restrictive", "2020-05-30"},
	})
	regulationsWorkbook(t, filepath.Join(dir, "b.xlsx"), [][4]string{
		{"FR", `See <a href="http://example.com">the notice</a> today`, "Partially Restrictive", "2020-06-01"},
		{"XX", "Unknown country", "Not Restrictive", "2020-06-01"},
		{"US", "", "Not Restrictive", "2020-06-02"},
	})

	out, err := LoadTimatic(dir, testMapping())
	require.NoError(t, err)
	assert.Equal(t, []string{geo.CodeColumn, DetailsHTML, Details, RestrictionLevel, RestrictionLabel, RegulationsUpdated}, out.Names())
	require.Equal(t, 2, out.Len())

	assert.Equal(t, "FR", out.Get(0, geo.CodeColumn).String())
	assert.Equal(t, `See  "http://example.com" today`, out.Get(0, Details).String())
	assert.Equal(t, "1", out.Get(0, RestrictionLevel).String())
	assert.Equal(t, "2020-06-01", out.Get(0, RegulationsUpdated).String())

	assert.Equal(t, "US", out.Get(1, geo.CodeColumn).String())
	assert.Equal(t, "Entry\nbanned now", out.Get(1, Details).String())
	assert.Equal(t, "2", out.Get(1, RestrictionLevel).String())

	_, err = LoadTimatic(t.TempDir(), testMapping())
	assert.ErrorIs(t, err, ErrIncompleteTable)
}

func TestPrepareAirportRestrictions(t *testing.T) {
	header, rows := records(`
airportCode,airportName,cityName,countryCode,countryName,latitude,longitude,NoTraffic,Closed,message
JFK,John F Kennedy,New York,USA,United States,40.6,-73.8,false,false,Crew screening
CDG,Charles de Gaulle,Paris,FRA,France,49.0,2.5,true,false,
XYZ,Nowhere,Atlantis,ATL,Atlantis,0,0,false,true,Closed
`)
	raw, err := AirportRestrictionSchema.Apply(header, rows)
	require.NoError(t, err)

	out, err := PrepareAirportRestrictions(raw, testMapping())
	require.NoError(t, err)
	require.Equal(t, 3, out.Len(), "unmapped airports are kept")
	assert.True(t, out.Get(0, geo.CodeColumn).IsNull())
	assert.Equal(t, "ATL", out.Get(0, geo.CodeColumn+"_3").String())
	assert.Equal(t, "FR", out.Get(1, geo.CodeColumn).String())
	assert.Equal(t, "CDG", out.Get(1, AirportCode).String())
	assert.Equal(t, "true", out.Get(1, NoTraffic).String())
	assert.Equal(t, "US", out.Get(2, geo.CodeColumn).String())
	assert.Equal(t, "Crew screening", out.Get(2, NoticeMessage).String())
}

func TestCleanRegulation(t *testing.T) {
	assert.Equal(t, "a\nb c", CleanRegulation("a<br/>b&#32;c"))
	assert.Equal(t, `x  "u" y`, CleanRegulation(`x <a href="u">link</a> y`))
}
