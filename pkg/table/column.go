package table

import (
	"fmt"
	"math"
	"time"
)

// Column is an immutable named vector of cells of a single kind.
// Integer and float payloads share nums; missing cells have valid[i] == false.
type Column struct {
	name  string
	kind  Kind
	nums  []float64
	strs  []string
	times []time.Time
	valid []bool
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the column kind.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of cells.
func (c *Column) Len() int { return len(c.valid) }

// IsNull reports whether cell i is missing.
func (c *Column) IsNull(i int) bool { return !c.valid[i] }

// NullCount returns the number of missing cells.
func (c *Column) NullCount() int {
	n := 0
	for _, ok := range c.valid {
		if !ok {
			n++
		}
	}
	return n
}

// Value returns cell i.
func (c *Column) Value(i int) Value {
	if !c.valid[i] {
		return NullValue(c.kind)
	}
	switch c.kind {
	case KindInteger, KindFloat:
		return Value{Kind: c.kind, Num: c.nums[i]}
	case KindTimestamp:
		return TimeValue(c.times[i])
	default:
		return TextValue(c.strs[i])
	}
}

// Float returns cell i of a numeric column. ok is false for nulls and
// non-numeric columns.
func (c *Column) Float(i int) (f float64, ok bool) {
	if !c.kind.IsNumeric() || !c.valid[i] {
		return 0, false
	}
	return c.nums[i], true
}

// IsMissing reports whether cell i is null or a numeric NaN or ±Inf.
func (c *Column) IsMissing(i int) bool {
	if !c.valid[i] {
		return true
	}
	if c.kind.IsNumeric() {
		f := c.nums[i]
		return math.IsNaN(f) || math.IsInf(f, 0)
	}
	return false
}

// Finite returns cell i of a numeric column when it holds a finite number.
func (c *Column) Finite(i int) (f float64, ok bool) {
	if !c.kind.IsNumeric() || c.IsMissing(i) {
		return 0, false
	}
	return c.nums[i], true
}

// Text returns cell i of a text column.
func (c *Column) Text(i int) (s string, ok bool) {
	if c.kind != KindText || !c.valid[i] {
		return "", false
	}
	return c.strs[i], true
}

// Time returns cell i of a timestamp column.
func (c *Column) Time(i int) (t time.Time, ok bool) {
	if c.kind != KindTimestamp || !c.valid[i] {
		return time.Time{}, false
	}
	return c.times[i], true
}

// Rename returns a copy of the column under a new name. Storage is shared.
func (c *Column) Rename(name string) *Column {
	cp := *c
	cp.name = name
	return &cp
}

// take gathers the given row indices into a new column.
func (c *Column) take(indices []int) *Column {
	b := NewBuilder(c.name, c.kind, len(indices))
	for _, i := range indices {
		b.appendFrom(c, i)
	}
	return b.Build()
}

// Builder accumulates cells for a new Column.
type Builder struct {
	col Column
}

// NewBuilder starts a column of the given kind with room for capacity cells.
func NewBuilder(name string, kind Kind, capacity int) *Builder {
	b := &Builder{col: Column{name: name, kind: kind, valid: make([]bool, 0, capacity)}}
	switch kind {
	case KindInteger, KindFloat:
		b.col.nums = make([]float64, 0, capacity)
	case KindTimestamp:
		b.col.times = make([]time.Time, 0, capacity)
	default:
		b.col.strs = make([]string, 0, capacity)
	}
	return b
}

// Len returns the number of cells appended so far.
func (b *Builder) Len() int { return len(b.col.valid) }

// AppendNull appends a missing cell.
func (b *Builder) AppendNull() {
	switch b.col.kind {
	case KindInteger, KindFloat:
		b.col.nums = append(b.col.nums, 0)
	case KindTimestamp:
		b.col.times = append(b.col.times, time.Time{})
	default:
		b.col.strs = append(b.col.strs, "")
	}
	b.col.valid = append(b.col.valid, false)
}

// AppendFloat appends a numeric cell. Integer columns truncate.
func (b *Builder) AppendFloat(f float64) {
	if b.col.kind == KindInteger {
		f = float64(int64(f))
	}
	b.col.nums = append(b.col.nums, f)
	b.col.valid = append(b.col.valid, true)
}

// AppendInt appends an integer cell to a numeric column.
func (b *Builder) AppendInt(n int64) {
	b.col.nums = append(b.col.nums, float64(n))
	b.col.valid = append(b.col.valid, true)
}

// AppendText appends a text cell.
func (b *Builder) AppendText(s string) {
	b.col.strs = append(b.col.strs, s)
	b.col.valid = append(b.col.valid, true)
}

// AppendTime appends a timestamp cell.
func (b *Builder) AppendTime(t time.Time) {
	b.col.times = append(b.col.times, t)
	b.col.valid = append(b.col.valid, true)
}

// Append appends v after coercing it to the column kind.
func (b *Builder) Append(v Value) error {
	v, err := v.Coerce(b.col.kind)
	if err != nil {
		return fmt.Errorf("column %q: %w", b.col.name, err)
	}
	if v.Null {
		b.AppendNull()
		return nil
	}
	switch b.col.kind {
	case KindInteger, KindFloat:
		b.AppendFloat(v.Num)
	case KindTimestamp:
		b.AppendTime(v.Time)
	default:
		b.AppendText(v.Str)
	}
	return nil
}

func (b *Builder) appendFrom(c *Column, i int) {
	if !c.valid[i] {
		b.AppendNull()
		return
	}
	switch c.kind {
	case KindInteger, KindFloat:
		b.AppendFloat(c.nums[i])
	case KindTimestamp:
		b.AppendTime(c.times[i])
	default:
		b.AppendText(c.strs[i])
	}
}

// Build returns the finished column. The builder must not be reused.
func (b *Builder) Build() *Column {
	c := b.col
	b.col = Column{}
	return &c
}

// NewFloatColumn builds a float column without nulls.
func NewFloatColumn(name string, vals ...float64) *Column {
	b := NewBuilder(name, KindFloat, len(vals))
	for _, v := range vals {
		b.AppendFloat(v)
	}
	return b.Build()
}

// NewIntColumn builds an integer column without nulls.
func NewIntColumn(name string, vals ...int64) *Column {
	b := NewBuilder(name, KindInteger, len(vals))
	for _, v := range vals {
		b.AppendInt(v)
	}
	return b.Build()
}

// NewTextColumn builds a text column without nulls.
func NewTextColumn(name string, vals ...string) *Column {
	b := NewBuilder(name, KindText, len(vals))
	for _, v := range vals {
		b.AppendText(v)
	}
	return b.Build()
}

// NewTimeColumn builds a timestamp column without nulls.
func NewTimeColumn(name string, vals ...time.Time) *Column {
	b := NewBuilder(name, KindTimestamp, len(vals))
	for _, v := range vals {
		b.AppendTime(v)
	}
	return b.Build()
}

// FromValues builds a column of the given kind, coercing each value.
func FromValues(name string, kind Kind, vals []Value) (*Column, error) {
	b := NewBuilder(name, kind, len(vals))
	for _, v := range vals {
		if err := b.Append(v); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}
