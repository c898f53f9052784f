package aggregate

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/eunmann/tabx/pkg/table"
)

// ValueCount is one distinct value and how many rows hold it.
type ValueCount struct {
	Value table.Value `json:"value"`
	Count int         `json:"count"`
}

// ValueCounts counts the distinct non-null values of a column, most
// frequent first with ties ordered by value. top <= 0 returns all values.
func ValueCounts(t *table.Table, column string, top int) ([]ValueCount, error) {
	col, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	ids, keys := groupIndex(col)
	counts := make([]ValueCount, len(keys))
	for i, k := range keys {
		counts[i].Value = k
	}
	for _, id := range ids {
		if id >= 0 {
			counts[id].Count++
		}
	}

	slices.SortStableFunc(counts, func(a, b ValueCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		c, _ := a.Value.Compare(b.Value)
		return c
	})
	if top > 0 && len(counts) > top {
		counts = counts[:top]
	}
	return counts, nil
}

// ColumnSummary holds descriptive statistics of one numeric column.
// Std is nil when fewer than two values are present.
type ColumnSummary struct {
	Column string   `json:"column"`
	Count  int      `json:"count"`
	Mean   float64  `json:"mean"`
	Std    *float64 `json:"std,omitempty"`
	Min    float64  `json:"min"`
	Q25    float64  `json:"p25"`
	Q50    float64  `json:"p50"`
	Q75    float64  `json:"p75"`
	Max    float64  `json:"max"`
}

// Describe summarizes every numeric column that has at least one value,
// in column order. Quantiles interpolate linearly between order statistics.
func Describe(t *table.Table) []ColumnSummary {
	var out []ColumnSummary
	for _, col := range t.Columns() {
		if !col.Kind().IsNumeric() {
			continue
		}
		vals := floats(col)
		if len(vals) == 0 {
			continue
		}

		var w Welford
		for _, v := range vals {
			w.Update(v)
		}
		slices.Sort(vals)
		mean, _ := w.Mean()
		s := ColumnSummary{
			Column: col.Name(),
			Count:  len(vals),
			Mean:   mean,
			Min:    vals[0],
			Q25:    Quantile(vals, 0.25),
			Q50:    Quantile(vals, 0.50),
			Q75:    Quantile(vals, 0.75),
			Max:    vals[len(vals)-1],
		}
		if std, ok := w.SampleStd(); ok {
			s.Std = &std
		}
		out = append(out, s)
	}
	return out
}

// Quantile returns the q-quantile of sorted values by linear
// interpolation. sorted must be non-empty and ascending.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Bin is one histogram bucket covering [Lo, Hi); the last bin also
// includes Hi.
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// Histogram is an equal-width binning of a numeric column.
type Histogram struct {
	Column string `json:"column"`
	Bins   []Bin  `json:"bins"`
}

// ErrInvalidBins indicates a non-positive bin count.
var ErrInvalidBins = errors.New("bin count must be positive")

// NewHistogram bins the finite non-null values of a numeric column into equal-width
// bins spanning its range. A column with a single distinct value spans
// [v-0.5, v+0.5]. A column with no values yields no bins.
func NewHistogram(t *table.Table, column string, bins int) (*Histogram, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBins, bins)
	}
	col, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	if !col.Kind().IsNumeric() {
		return nil, fmt.Errorf("%w: histogram of %q needs a numeric column, got %s", table.ErrTypeMismatch, column, col.Kind())
	}

	h := &Histogram{Column: column}
	vals := floats(col)
	if len(vals) == 0 {
		return h, nil
	}

	lo, hi := slices.Min(vals), slices.Max(vals)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	// hi-lo can overflow for values near ±MaxFloat64.
	width := hi/float64(bins) - lo/float64(bins)
	h.Bins = make([]Bin, bins)
	edge := func(i int) float64 {
		frac := float64(i) / float64(bins)
		return lo*(1-frac) + hi*frac
	}
	for i := range h.Bins {
		h.Bins[i].Lo = edge(i)
		h.Bins[i].Hi = edge(i + 1)
	}

	for _, v := range vals {
		pos := (v - lo) / width
		i := bins - 1
		switch {
		case math.IsNaN(pos) || pos < 0:
			i = 0
		case pos < float64(bins):
			i = int(pos)
		}
		h.Bins[i].Count++
	}
	return h, nil
}

func floats(col *table.Column) []float64 {
	vals := make([]float64, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		if f, ok := col.Finite(i); ok {
			vals = append(vals, f)
		}
	}
	return vals
}
