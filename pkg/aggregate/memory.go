package aggregate

import (
	"context"
	"math"
)

// Welford is a numerically stable running mean and variance.
type Welford struct {
	count int
	mean  float64
	m2    float64
}

// Update adds one observation.
func (w *Welford) Update(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

// Count returns the number of observations.
func (w *Welford) Count() int { return w.count }

// Mean returns the running mean; ok is false with no observations.
func (w *Welford) Mean() (mean float64, ok bool) {
	return w.mean, w.count > 0
}

// SampleStd returns the n-1 standard deviation; ok is false with fewer
// than two observations.
func (w *Welford) SampleStd() (std float64, ok bool) {
	if w.count < 2 {
		return 0, false
	}
	return math.Sqrt(w.m2 / float64(w.count-1)), true
}

// MemoryEngine aggregates with one accumulator set per group held in memory.
type MemoryEngine struct{}

func (MemoryEngine) Name() string { return "memory" }

type accumulator struct {
	rows   int
	counts []int
	means  []Welford
}

func (MemoryEngine) Aggregate(ctx context.Context, p *Plan) ([]Group, error) {
	ids, keys := groupIndex(p.Key)
	accs := make([]accumulator, len(keys))
	for i := range accs {
		accs[i].counts = make([]int, len(p.Requests))
		accs[i].means = make([]Welford, len(p.Requests))
	}

	for row, id := range ids {
		if row%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if id < 0 {
			continue
		}
		acc := &accs[id]
		acc.rows++
		for ri, r := range p.Requests {
			col := p.Targets[ri]
			if col == nil || col.IsMissing(row) {
				continue
			}
			switch r.Stat {
			case StatCount:
				acc.counts[ri]++
			case StatMean:
				if f, ok := col.Finite(row); ok {
					acc.means[ri].Update(f)
				}
			}
		}
	}

	groups := make([]Group, len(keys))
	for id, key := range keys {
		acc := &accs[id]
		stats := make(map[string]float64, len(p.Requests))
		for ri, r := range p.Requests {
			switch {
			case r.Stat == StatCount && r.Column == "":
				stats[r.Name()] = float64(acc.rows)
			case r.Stat == StatCount:
				stats[r.Name()] = float64(acc.counts[ri])
			case r.Stat == StatMean:
				if mean, ok := acc.means[ri].Mean(); ok {
					stats[r.Name()] = mean
				}
			}
		}
		groups[id] = Group{Key: key, Stats: stats}
	}
	return groups, nil
}
