// Package table provides the typed in-memory columnar table shared by every
// pipeline stage.
//
// Tables are immutable: operations that change rows or columns return a new
// Table, sharing column storage where possible.
package table

import (
	"fmt"
)

// Table is an ordered set of equally long, uniquely named columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New validates and assembles columns into a table.
func New(cols ...*Column) (*Table, error) {
	t := &Table{
		cols:  make([]*Column, 0, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if _, dup := t.index[c.Name()]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name())
		}
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrLengthMismatch, c.Name(), c.Len(), t.rows)
		}
		t.index[c.Name()] = i
		t.cols = append(t.cols, c)
	}
	return t, nil
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.cols) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name()
	}
	return names
}

// Columns returns the columns in order. The slice must not be modified.
func (t *Table) Columns() []*Column { return t.cols }

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return t.cols[i], nil
}

// Has reports whether the table has a column with the given name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Row returns a view of row i.
func (t *Table) Row(i int) Row {
	return Row{t: t, i: i}
}

// Take returns a table holding the given rows in the given order.
func (t *Table) Take(indices []int) *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.take(indices)
	}
	return &Table{cols: cols, index: t.index, rows: len(indices)}
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table {
	if n >= t.rows {
		return t
	}
	if n < 0 {
		n = 0
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return t.Take(indices)
}

// WithColumn returns a table with col replacing the same-named column, or
// appended when no such column exists.
func (t *Table) WithColumn(col *Column) (*Table, error) {
	if len(t.cols) > 0 && col.Len() != t.rows {
		return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrLengthMismatch, col.Name(), col.Len(), t.rows)
	}
	cols := make([]*Column, len(t.cols), len(t.cols)+1)
	copy(cols, t.cols)
	if i, ok := t.index[col.Name()]; ok {
		cols[i] = col
	} else {
		cols = append(cols, col)
	}
	return New(cols...)
}

// Select returns a table with only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	sel, err := New(cols...)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		sel.rows = t.rows
	}
	return sel, nil
}

// NullCounts returns the number of missing cells per column, in column order.
func (t *Table) NullCounts() []int {
	counts := make([]int, len(t.cols))
	for i, c := range t.cols {
		counts[i] = c.NullCount()
	}
	return counts
}

// Row is a view into one row of a table.
type Row struct {
	t *Table
	i int
}

// Index returns the row position in its table.
func (r Row) Index() int { return r.i }

// Get returns the named cell of this row.
func (r Row) Get(name string) (Value, error) {
	c, err := r.t.Column(name)
	if err != nil {
		return Value{}, err
	}
	return c.Value(r.i), nil
}

// Values returns every cell of the row in column order.
func (r Row) Values() []Value {
	vals := make([]Value, len(r.t.cols))
	for i, c := range r.t.cols {
		vals[i] = c.Value(r.i)
	}
	return vals
}
