// Package filter selects table rows by a predicate on one column.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eunmann/tabx/pkg/table"
)

// ErrInvalidExpr indicates a filter expression that does not parse.
var ErrInvalidExpr = errors.New("invalid filter expression")

// Matcher reports whether a non-null cell satisfies a bound predicate.
type Matcher func(v table.Value) bool

// Predicate is a condition on a single column's values.
type Predicate interface {
	// Bind coerces the predicate's operands to the column kind.
	Bind(kind table.Kind) (Matcher, error)
	String() string
}

// Range matches values in [Lo, Hi]. A nil bound is open.
type Range struct {
	Lo, Hi *table.Value
}

// Between returns the closed range [lo, hi].
func Between(lo, hi table.Value) Range {
	return Range{Lo: &lo, Hi: &hi}
}

func (r Range) Bind(kind table.Kind) (Matcher, error) {
	lo, err := bindBound(r.Lo, kind)
	if err != nil {
		return nil, err
	}
	hi, err := bindBound(r.Hi, kind)
	if err != nil {
		return nil, err
	}
	return func(v table.Value) bool {
		if lo != nil {
			if c, err := v.Compare(*lo); err != nil || c < 0 {
				return false
			}
		}
		if hi != nil {
			if c, err := v.Compare(*hi); err != nil || c > 0 {
				return false
			}
		}
		return true
	}, nil
}

func (r Range) String() string {
	var lo, hi string
	if r.Lo != nil {
		lo = r.Lo.String()
	}
	if r.Hi != nil {
		hi = r.Hi.String()
	}
	return lo + ":" + hi
}

// Equal matches values equal to Value.
type Equal struct {
	Value table.Value
}

func (e Equal) Bind(kind table.Kind) (Matcher, error) {
	want, err := bindValue(e.Value, kind)
	if err != nil {
		return nil, err
	}
	return func(v table.Value) bool { return v.Equal(want) }, nil
}

func (e Equal) String() string { return "=" + e.Value.String() }

func bindBound(b *table.Value, kind table.Kind) (*table.Value, error) {
	if b == nil {
		return nil, nil
	}
	v, err := bindValue(*b, kind)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// bindValue coerces an operand to kind. Numeric columns compare as floats
// so a fractional bound is valid against an integer column.
func bindValue(v table.Value, kind table.Kind) (table.Value, error) {
	if kind.IsNumeric() {
		kind = table.KindFloat
	}
	out, err := v.Coerce(kind)
	if err != nil {
		return table.Value{}, err
	}
	if out.Null {
		return table.Value{}, fmt.Errorf("%w: null operand", table.ErrTypeMismatch)
	}
	return out, nil
}

// Spec pairs a column with a predicate.
type Spec struct {
	Column    string
	Predicate Predicate
}

func (s Spec) String() string {
	return s.Column + "=" + s.Predicate.String()
}

// Apply returns the rows of t whose Column satisfies the predicate, in their
// original order. Null cells never match. No matches yields an empty table.
func Apply(t *table.Table, s Spec) (*table.Table, error) {
	col, err := t.Column(s.Column)
	if err != nil {
		return nil, err
	}
	match, err := s.Predicate.Bind(col.Kind())
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", s, err)
	}

	keep := make([]int, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		if match(col.Value(i)) {
			keep = append(keep, i)
		}
	}
	if len(keep) == t.NumRows() {
		return t, nil
	}
	return t.Take(keep), nil
}

// ApplyAll applies every spec in turn; a row survives only if it matches all.
func ApplyAll(t *table.Table, specs ...Spec) (*table.Table, error) {
	out := t
	for _, s := range specs {
		var err error
		if out, err = Apply(out, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Parse reads a command-line filter:
//
//	col=lo:hi   inclusive range
//	col=lo:     at least lo
//	col=:hi     at most hi
//	col==value  equality
//
// Operands stay text until Apply coerces them to the column kind, so range
// bounds cannot contain ':'.
func Parse(expr string) (Spec, error) {
	name, rest, ok := strings.Cut(expr, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Spec{}, fmt.Errorf("%w: %q: want col=lo:hi or col==value", ErrInvalidExpr, expr)
	}

	if value, isEq := strings.CutPrefix(rest, "="); isEq {
		return Spec{Column: name, Predicate: Equal{Value: table.TextValue(strings.TrimSpace(value))}}, nil
	}

	lo, hi, ok := strings.Cut(rest, ":")
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q: range needs ':'", ErrInvalidExpr, expr)
	}
	if strings.Contains(hi, ":") {
		return Spec{}, fmt.Errorf("%w: %q: range bounds cannot contain ':'", ErrInvalidExpr, expr)
	}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if lo == "" && hi == "" {
		return Spec{}, fmt.Errorf("%w: %q: range needs at least one bound", ErrInvalidExpr, expr)
	}

	var r Range
	if lo != "" {
		v := table.TextValue(lo)
		r.Lo = &v
	}
	if hi != "" {
		v := table.TextValue(hi)
		r.Hi = &v
	}
	return Spec{Column: name, Predicate: r}, nil
}
