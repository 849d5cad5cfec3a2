package table

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func sample(t *testing.T) *Table {
	t.Helper()
	tbl := New(DateCol("date"), TextCol("country_code"), NumberCol("pax"), TextCol("level"))
	require.NoError(t, tbl.Append(Day(day("2020-03-01")), Str("US"), Num(10), Str("b")))
	require.NoError(t, tbl.Append(Day(day("2020-03-01")), Str("US"), Num(20), Str("c")))
	require.NoError(t, tbl.Append(Day(day("2020-03-02")), Str("FR"), Null(Number), Str("a")))
	require.NoError(t, tbl.Append(Day(day("2020-03-02")), Str("US"), Num(5), Null(Text)))
	return tbl
}

func TestAppendRejectsWrongKind(t *testing.T) {
	tbl := New(NumberCol("pax"))
	err := tbl.Append(Str("x"))
	assert.ErrorIs(t, err, ErrKindMismatch)

	require.NoError(t, tbl.Append(Null(Text)))
	assert.True(t, tbl.Get(0, "pax").IsNull())
	assert.Equal(t, Number, tbl.Get(0, "pax").Kind())
}

func TestGroupBySumMeanMax(t *testing.T) {
	tbl := sample(t)
	out, err := tbl.GroupBy([]string{"country_code"}, []Agg{
		{Column: "pax", Func: Sum},
		{Column: "pax", Func: Mean, As: "pax_mean"},
		{Column: "level", Func: Max},
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	us := out.Row(0)
	assert.Equal(t, "US", us.Get("country_code").String())
	pax, _ := us.Float("pax")
	assert.Equal(t, 35.0, pax)
	mean, _ := us.Float("pax_mean")
	assert.InDelta(t, 35.0/3, mean, 1e-9)
	assert.Equal(t, "c", us.Get("level").String())

	fr := out.Row(1)
	assert.True(t, fr.Get("pax").IsNull(), "all-null group sums to null")
}

func TestGroupByRejectsSumOfText(t *testing.T) {
	_, err := sample(t).GroupBy([]string{"country_code"}, SumOf("level"))
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestJoinOuterKeepsBothSides(t *testing.T) {
	left := New(TextCol("k"), NumberCol("v"))
	require.NoError(t, left.Append(Str("a"), Num(1)))
	require.NoError(t, left.Append(Str("b"), Num(2)))
	right := New(TextCol("k"), NumberCol("v"))
	require.NoError(t, right.Append(Str("b"), Num(20)))
	require.NoError(t, right.Append(Str("c"), Num(30)))

	out, err := Join(left, right, JoinOptions{On: []string{"k"}, How: OuterJoin, Suffixes: [2]string{"", "_Prev"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "v", "v_Prev"}, out.Names())
	require.Equal(t, 3, out.Len())

	assert.True(t, out.Get(0, "v_Prev").IsNull())
	assert.Equal(t, "20", out.Get(1, "v_Prev").String())
	assert.Equal(t, "c", out.Get(2, "k").String(), "right-only row carries its key")
	assert.True(t, out.Get(2, "v").IsNull())
}

func TestJoinCollisionWithoutSuffixes(t *testing.T) {
	left := New(TextCol("k"), NumberCol("v"))
	right := New(TextCol("k"), NumberCol("v"))
	_, err := Join(left, right, JoinOptions{On: []string{"k"}, How: LeftJoin})
	assert.ErrorIs(t, err, ErrColumnCollision)
}

func TestJoinNullKeysMatchEachOther(t *testing.T) {
	left := New(TextCol("k"), NumberCol("a"))
	require.NoError(t, left.Append(Null(Text), Num(1)))
	right := New(TextCol("k"), NumberCol("b"))
	require.NoError(t, right.Append(Null(Text), Num(2)))

	out, err := Join(left, right, JoinOptions{On: []string{"k"}, How: InnerJoin})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestConcatUnionsColumns(t *testing.T) {
	a := New(TextCol("k"), NumberCol("x"))
	require.NoError(t, a.Append(Str("a"), Num(1)))
	b := New(TextCol("k"), TextCol("label"))
	require.NoError(t, b.Append(Str("b"), Str("Previous week")))

	out, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "x", "label"}, out.Names())
	assert.True(t, out.Get(0, "label").IsNull())
	assert.True(t, out.Get(1, "x").IsNull())
}

func TestSortNullsFirstAndStable(t *testing.T) {
	out := sample(t).Sort("level")
	assert.True(t, out.Get(0, "level").IsNull())
	assert.Equal(t, "a", out.Get(1, "level").String())
	assert.Equal(t, "c", out.Get(3, "level").String())
}

func TestOperationsDoNotMutateReceiver(t *testing.T) {
	tbl := sample(t)
	_ = tbl.Rename(map[string]string{"pax": "trips"})
	_ = tbl.WithColumn(NumberCol("pax"), func(Row) Value { return Num(0) })
	_ = tbl.Map([]string{"pax"}, func(string, Value) Value { return Num(-1) })
	_ = tbl.Sort("pax")

	assert.True(t, tbl.Has("pax"))
	assert.Equal(t, "10", tbl.Get(0, "pax").String())
}

func TestNumOrNull(t *testing.T) {
	assert.True(t, NumOrNull(math.Inf(1)).IsNull())
	assert.True(t, NumOrNull(math.NaN()).IsNull())
	assert.False(t, NumOrNull(3).IsNull())
}

func TestBounds(t *testing.T) {
	lo, hi, ok := sample(t).Bounds("date")
	require.True(t, ok)
	assert.Equal(t, "2020-03-01", lo.String())
	assert.Equal(t, "2020-03-02", hi.String())
}
