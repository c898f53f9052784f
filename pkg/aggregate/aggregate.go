// Package aggregate computes grouped statistics and column summaries.
//
// GroupBy validates its requests against the table, then hands a Plan to an
// Engine. MemoryEngine accumulates in Go maps; SQLiteEngine loads the
// needed columns into an in-memory SQLite database and lets GROUP BY do the
// work. Both return groups ordered by key and must agree on every result.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/eunmann/tabx/pkg/table"
)

// ErrUnknownStat indicates a statistic other than count or mean.
var ErrUnknownStat = errors.New("unknown statistic")

// Stat names a per-group statistic.
type Stat string

const (
	// StatCount counts rows, or non-null cells when a column is named.
	StatCount Stat = "count"
	// StatMean averages the non-null cells of a numeric column.
	StatMean Stat = "mean"
)

// Request asks for one statistic of one column. Column is empty for a
// plain row count.
type Request struct {
	Stat   Stat
	Column string
}

// Name is the key of this statistic in Group.Stats: "count",
// "count(col)" or "mean(col)".
func (r Request) Name() string {
	if r.Column == "" {
		return string(r.Stat)
	}
	return string(r.Stat) + "(" + r.Column + ")"
}

// ParseRequest reads "count", "count:col" or "mean:col".
func ParseRequest(s string) (Request, error) {
	stat, col, _ := strings.Cut(strings.TrimSpace(s), ":")
	r := Request{Stat: Stat(strings.ToLower(strings.TrimSpace(stat))), Column: strings.TrimSpace(col)}
	switch {
	case r.Stat != StatCount && r.Stat != StatMean:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownStat, stat)
	case r.Stat == StatMean && r.Column == "":
		return Request{}, fmt.Errorf("%w: mean needs a column (mean:col)", ErrUnknownStat)
	}
	return r, nil
}

// Group is one distinct key value and its statistics. A mean over zero
// non-null cells is absent from Stats rather than reported as 0 or NaN.
type Group struct {
	Key   table.Value        `json:"key"`
	Stats map[string]float64 `json:"stats"`
}

// Result is the output of GroupBy.
type Result struct {
	Key      string    `json:"key"`
	Stats    []string  `json:"stats"`
	Engine   string    `json:"engine"`
	Groups   []Group   `json:"groups"`
	Requests []Request `json:"-"`
}

// Plan is a validated aggregation handed to an Engine. Targets is parallel
// to Requests and nil for plain row counts.
type Plan struct {
	Key      *table.Column
	Requests []Request
	Targets  []*table.Column
}

// Engine evaluates a plan. Groups may be returned in any order.
type Engine interface {
	Name() string
	Aggregate(ctx context.Context, p *Plan) ([]Group, error)
}

// GroupBy groups t by the key column and evaluates requests per group.
// Rows with a null key are skipped. Groups are ordered by key. A nil
// engine uses MemoryEngine.
func GroupBy(ctx context.Context, t *table.Table, key string, requests []Request, engine Engine) (*Result, error) {
	p, err := NewPlan(t, key, requests)
	if err != nil {
		return nil, err
	}
	if engine == nil {
		engine = MemoryEngine{}
	}

	groups, err := engine.Aggregate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", engine.Name(), err)
	}
	sortGroups(groups)

	names := make([]string, len(p.Requests))
	for i, r := range p.Requests {
		names[i] = r.Name()
	}
	return &Result{Key: key, Stats: names, Engine: engine.Name(), Groups: groups, Requests: p.Requests}, nil
}

// NewPlan validates requests against t. Unknown columns are
// ErrUnknownColumn and a mean of a non-numeric column is ErrTypeMismatch.
// No requests means a plain row count.
func NewPlan(t *table.Table, key string, requests []Request) (*Plan, error) {
	keyCol, err := t.Column(key)
	if err != nil {
		return nil, fmt.Errorf("group key: %w", err)
	}
	if len(requests) == 0 {
		requests = []Request{{Stat: StatCount}}
	}

	p := &Plan{Key: keyCol, Requests: requests, Targets: make([]*table.Column, len(requests))}
	seen := make(map[string]bool, len(requests))
	for i, r := range requests {
		if seen[r.Name()] {
			return nil, fmt.Errorf("duplicate statistic %s", r.Name())
		}
		seen[r.Name()] = true

		switch r.Stat {
		case StatCount:
		case StatMean:
			if r.Column == "" {
				return nil, fmt.Errorf("%w: mean needs a column", ErrUnknownStat)
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownStat, r.Stat)
		}
		if r.Column == "" {
			continue
		}
		col, err := t.Column(r.Column)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name(), err)
		}
		if r.Stat == StatMean && !col.Kind().IsNumeric() {
			return nil, fmt.Errorf("%w: %s: %q is %s, not numeric", table.ErrTypeMismatch, r.Name(), r.Column, col.Kind())
		}
		p.Targets[i] = col
	}
	return p, nil
}

func sortGroups(groups []Group) {
	slices.SortStableFunc(groups, func(a, b Group) int {
		c, _ := a.Key.Compare(b.Key)
		return c
	})
}

// groupKey is a hashable form of a non-null key value.
type groupKey struct {
	num   float64
	str   string
	nanos int64
}

func keyOf(v table.Value) groupKey {
	switch v.Kind {
	case table.KindInteger, table.KindFloat:
		if v.Num == 0 {
			// Fold -0 into 0.
			return groupKey{}
		}
		if math.IsNaN(v.Num) {
			return groupKey{str: "NaN"}
		}
		return groupKey{num: v.Num}
	case table.KindTimestamp:
		return groupKey{nanos: v.Time.UnixNano()}
	default:
		return groupKey{str: v.Str}
	}
}

// groupIndex assigns dense ids to distinct non-null keys in first-seen
// order. ids[i] is -1 for rows with a null key.
func groupIndex(key *table.Column) (ids []int, keys []table.Value) {
	ids = make([]int, key.Len())
	index := make(map[groupKey]int)
	for i := 0; i < key.Len(); i++ {
		if key.IsNull(i) {
			ids[i] = -1
			continue
		}
		v := key.Value(i)
		k := keyOf(v)
		id, ok := index[k]
		if !ok {
			id = len(keys)
			index[k] = id
			keys = append(keys, v)
		}
		ids[i] = id
	}
	return ids, keys
}
