// Package clean drops incomplete rows and derives new columns from
// existing ones.
package clean

import (
	"fmt"
	"strings"

	"github.com/eunmann/tabx/pkg/table"
	"golang.org/x/text/unicode/norm"
)

// DropMissing keeps the rows where every named column is non-null. With no
// names every column must be non-null.
func DropMissing(t *table.Table, required ...string) (*table.Table, error) {
	cols := t.Columns()
	if len(required) > 0 {
		cols = make([]*table.Column, len(required))
		for i, name := range required {
			c, err := t.Column(name)
			if err != nil {
				return nil, err
			}
			cols[i] = c
		}
	}

	keep := make([]int, 0, t.NumRows())
rows:
	for i := 0; i < t.NumRows(); i++ {
		for _, c := range cols {
			if c.IsNull(i) {
				continue rows
			}
		}
		keep = append(keep, i)
	}
	if len(keep) == t.NumRows() {
		return t, nil
	}
	return t.Take(keep), nil
}

// Derivation computes a new column from a table.
type Derivation interface {
	// Target is the name of the produced column.
	Target() string
	Derive(t *table.Table) (*table.Column, error)
}

// Apply adds the derived column to t, replacing any column of the same name.
func Apply(t *table.Table, d Derivation) (*table.Table, error) {
	col, err := d.Derive(t)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", d.Target(), err)
	}
	return t.WithColumn(col)
}

// WordCount counts whitespace-separated words of a text column after NFKC
// normalization. Missing text counts as zero words.
type WordCount struct {
	Source, Dest string
}

func (w WordCount) Target() string { return w.Dest }

func (w WordCount) Derive(t *table.Table) (*table.Column, error) {
	src, err := t.Column(w.Source)
	if err != nil {
		return nil, err
	}
	if src.Kind() != table.KindText {
		return nil, fmt.Errorf("%w: word count needs text, %q is %s", table.ErrTypeMismatch, w.Source, src.Kind())
	}
	b := table.NewBuilder(w.Dest, table.KindInteger, src.Len())
	for i := 0; i < src.Len(); i++ {
		s, _ := src.Text(i)
		b.AppendInt(int64(countWords(s)))
	}
	return b.Build(), nil
}

func countWords(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(norm.NFKC.String(s)))
}

// YearOf extracts the calendar year of a timestamp or date-like text
// column. Cells that are missing or do not parse become null.
type YearOf struct {
	Source, Dest string
}

func (y YearOf) Target() string { return y.Dest }

func (y YearOf) Derive(t *table.Table) (*table.Column, error) {
	src, err := t.Column(y.Source)
	if err != nil {
		return nil, err
	}
	b := table.NewBuilder(y.Dest, table.KindInteger, src.Len())
	switch src.Kind() {
	case table.KindTimestamp:
		for i := 0; i < src.Len(); i++ {
			if ts, ok := src.Time(i); ok {
				b.AppendInt(int64(ts.Year()))
			} else {
				b.AppendNull()
			}
		}
	case table.KindText:
		for i := 0; i < src.Len(); i++ {
			s, ok := src.Text(i)
			if !ok {
				b.AppendNull()
				continue
			}
			if ts, ok := table.ParseTime(s); ok {
				b.AppendInt(int64(ts.Year()))
			} else {
				b.AppendNull()
			}
		}
	case table.KindInteger:
		// Already a year column (for example "2020" inferred as Integer).
		for i := 0; i < src.Len(); i++ {
			if f, ok := src.Float(i); ok {
				b.AppendFloat(f)
			} else {
				b.AppendNull()
			}
		}
	default:
		return nil, fmt.Errorf("%w: year needs a timestamp or text, %q is %s", table.ErrTypeMismatch, y.Source, src.Kind())
	}
	return b.Build(), nil
}

// ParseTime converts a text column to timestamps. Cells that do not parse
// become null.
type ParseTime struct {
	Source, Dest string
}

func (p ParseTime) Target() string { return p.Dest }

func (p ParseTime) Derive(t *table.Table) (*table.Column, error) {
	src, err := t.Column(p.Source)
	if err != nil {
		return nil, err
	}
	if src.Kind() == table.KindTimestamp {
		return src.Rename(p.Dest), nil
	}
	if src.Kind() != table.KindText {
		return nil, fmt.Errorf("%w: parse time needs text, %q is %s", table.ErrTypeMismatch, p.Source, src.Kind())
	}
	b := table.NewBuilder(p.Dest, table.KindTimestamp, src.Len())
	for i := 0; i < src.Len(); i++ {
		s, _ := src.Text(i)
		if ts, ok := table.ParseTime(s); ok {
			b.AppendTime(ts)
		} else {
			b.AppendNull()
		}
	}
	return b.Build(), nil
}

// AllColumns as the only Required name requires every column.
const AllColumns = "*"

// Cleaner runs derivations in order and then drops rows missing any
// Required column. Required may name derived columns.
type Cleaner struct {
	Derive   []Derivation
	Required []string
}

// Apply runs the cleaner. The input table is not modified.
func (c Cleaner) Apply(t *table.Table) (*table.Table, error) {
	out := t
	for _, d := range c.Derive {
		var err error
		if out, err = Apply(out, d); err != nil {
			return nil, err
		}
	}
	switch {
	case len(c.Required) == 0:
		return out, nil
	case len(c.Required) == 1 && c.Required[0] == AllColumns:
		return DropMissing(out)
	default:
		return DropMissing(out, c.Required...)
	}
}
