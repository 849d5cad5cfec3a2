// Package changepoint finds level shifts in daily series.
package changepoint

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrNonFinite is returned for series containing NaN or infinite values
var ErrNonFinite = errors.New("series contains non-finite values")

// Point is one observation of a series
type Point struct {
	Date  time.Time
	Value float64
}

// Detector finds change dates in an ordered series. Implementations must
// not keep state between calls; Annotate calls them concurrently.
type Detector interface {
	Detect(series []Point) ([]time.Time, error)
}

// DetectorFunc adapts a function to Detector
type DetectorFunc func(series []Point) ([]time.Time, error)

func (f DetectorFunc) Detect(series []Point) ([]time.Time, error) { return f(series) }

// BinarySegmentation detects shifts in mean by recursive binary
// segmentation. A change is reported on the last date of the segment
// before the shift.
type BinarySegmentation struct {
	// MinSegment is the shortest segment allowed; defaults to 2.
	MinSegment int
	// Penalty is the minimum cost reduction for a split. Zero derives a
	// BIC-style penalty, 2*sigma^2*ln(n), with sigma estimated robustly
	// from first differences.
	Penalty float64
	// MaxChanges caps the number of changes; zero means no cap.
	MaxChanges int
}

// Detect implements Detector
func (b BinarySegmentation) Detect(series []Point) ([]time.Time, error) {
	minSeg := b.MinSegment
	if minSeg < 1 {
		minSeg = 2
	}
	if len(series) < 2*minSeg {
		return nil, nil
	}
	x := make([]float64, len(series))
	for i, p := range series {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return nil, fmt.Errorf("%w at %s", ErrNonFinite, p.Date.Format("2006-01-02"))
		}
		x[i] = p.Value
	}
	s := newSums(x)

	penalty := b.Penalty
	if penalty <= 0 {
		sigma := noiseScale(x)
		penalty = 2 * sigma * sigma * math.Log(float64(len(x)))
		if penalty <= 0 {
			penalty = 1e-9 * (1 + s.cost(0, len(x)))
		}
	}

	var splits []int
	var segment func(lo, hi int)
	segment = func(lo, hi int) {
		if b.MaxChanges > 0 && len(splits) >= b.MaxChanges {
			return
		}
		if hi-lo < 2*minSeg {
			return
		}
		whole := s.cost(lo, hi)
		best, bestGain := -1, 0.0
		for k := lo + minSeg; k <= hi-minSeg; k++ {
			gain := whole - s.cost(lo, k) - s.cost(k, hi)
			if gain > bestGain {
				best, bestGain = k, gain
			}
		}
		if best < 0 || bestGain <= penalty {
			return
		}
		splits = append(splits, best)
		segment(lo, best)
		segment(best, hi)
	}
	segment(0, len(x))

	sort.Ints(splits)
	out := make([]time.Time, len(splits))
	for i, k := range splits {
		out[i] = series[k-1].Date
	}
	return out, nil
}

// sums holds prefix sums for O(1) segment costs
type sums struct {
	s, sq []float64
}

func newSums(x []float64) sums {
	s := sums{s: make([]float64, len(x)+1), sq: make([]float64, len(x)+1)}
	for i, v := range x {
		s.s[i+1] = s.s[i] + v
		s.sq[i+1] = s.sq[i] + v*v
	}
	return s
}

// cost is the sum of squared deviations from the mean over x[lo:hi]
func (s sums) cost(lo, hi int) float64 {
	n := float64(hi - lo)
	if n <= 0 {
		return 0
	}
	sum := s.s[hi] - s.s[lo]
	c := s.sq[hi] - s.sq[lo] - sum*sum/n
	if c < 0 {
		return 0
	}
	return c
}

// noiseScale estimates sigma from the median absolute first difference
func noiseScale(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	d := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		d[i-1] = math.Abs(x[i] - x[i-1])
	}
	sort.Float64s(d)
	var med float64
	if n := len(d); n%2 == 1 {
		med = d[n/2]
	} else {
		med = (d[n/2-1] + d[n/2]) / 2
	}
	// 0.6745 scales the MAD of a normal; sqrt(2) undoes differencing.
	return med / (0.6745 * math.Sqrt2)
}
