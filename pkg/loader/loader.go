// Package loader reads delimited text and Parquet sources into tables.
//
// Load resolves a locator through pkg/source, picks a reader by file suffix
// and returns a fully materialized table. Column kinds are either declared
// by the caller or inferred from the data.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/tabx/internal/logctx"
	"github.com/eunmann/tabx/pkg/logging"
	"github.com/eunmann/tabx/pkg/membudget"
	"github.com/eunmann/tabx/pkg/source"
	"github.com/eunmann/tabx/pkg/table"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrFormat indicates the source is not well-formed delimited text or Parquet.
	ErrFormat = errors.New("format error")

	// ErrEmptyInput indicates the source has no data rows.
	ErrEmptyInput = errors.New("empty input")

	// ErrOverBudget indicates the source would not fit the memory budget.
	ErrOverBudget = errors.New("source exceeds memory budget")
)

// DefaultMissingTokens are the cell values read as missing.
var DefaultMissingTokens = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL", "None", "#N/A"}

// Options configures Load.
type Options struct {
	// Delimiter overrides the field separator. Zero picks ',' for .csv,
	// '\t' for .tsv and sniffs the header line otherwise.
	Delimiter rune

	// MissingTokens replaces DefaultMissingTokens when non-nil.
	MissingTokens []string

	// Kinds declares column kinds by header name. Declared columns are
	// parsed strictly; the rest are inferred.
	Kinds map[string]table.Kind

	// Budget bounds the estimated decoded size. Nil disables the check.
	Budget *membudget.Budget

	// Opener resolves locators. Nil uses a default opener.
	Opener *source.Opener
}

func (o Options) opener() *source.Opener {
	if o.Opener != nil {
		return o.Opener
	}
	return source.NewOpener(source.Config{})
}

func (o Options) missingSet() map[string]struct{} {
	tokens := o.MissingTokens
	if tokens == nil {
		tokens = DefaultMissingTokens
	}
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Load reads one source into a table.
func Load(ctx context.Context, raw string, opts Options) (*table.Table, error) {
	loc, err := source.Parse(raw)
	if err != nil {
		return nil, err
	}
	return load(ctx, loc, opts, opts.opener())
}

func load(ctx context.Context, loc source.Locator, opts Options, opener *source.Opener) (*table.Table, error) {
	ctx = logctx.WithStr(ctx, "source", loc.Raw)
	log := logctx.FromContext(ctx)
	start := time.Now()

	var (
		tbl    *table.Table
		size   int64
		format string
		err    error
	)
	if loc.Ext() == ".parquet" {
		format = "parquet"
		tbl, size, err = loadParquet(ctx, loc, opts, opener)
	} else {
		format = "delimited"
		tbl, size, err = loadDelimited(ctx, loc, opts, opener)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", loc.Raw, err)
	}

	logging.SourceLoaded(log, time.Since(start)).
		Str("format", format).
		Bytes("size", size).
		Count("rows", tbl.NumRows()).
		Int("columns", tbl.NumCols()).
		Log("source loaded")
	return tbl, nil
}

// reserve checks a source of the given size against the budget. The
// returned func releases the reservation.
func reserve(budget *membudget.Budget, size int64) (func(), error) {
	if budget == nil || size <= 0 {
		return func() {}, nil
	}
	need := membudget.Estimate(size)
	if !budget.TryReserve(need) {
		return nil, fmt.Errorf("%w: need ~%d bytes, %d of %d in use",
			ErrOverBudget, need, budget.InUse(), budget.Total())
	}
	return func() { budget.Release(need) }, nil
}

// LoadAll loads every source concurrently and concatenates them in argument
// order. Every source must share the first source's column names; Integer
// and Float columns unify to Float, any other kind difference is ErrFormat.
func LoadAll(ctx context.Context, raws []string, opts Options) (*table.Table, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("%w: no sources given", source.ErrSourceUnavailable)
	}
	locs := make([]source.Locator, len(raws))
	for i, raw := range raws {
		loc, err := source.Parse(raw)
		if err != nil {
			return nil, err
		}
		locs[i] = loc
	}

	opener := opts.opener()
	tables := make([]*table.Table, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	for i, loc := range locs {
		g.Go(func() error {
			t, err := load(gctx, loc, opts, opener)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(tables) == 1 {
		return tables[0], nil
	}
	return concat(tables, raws)
}

func concat(tables []*table.Table, names []string) (*table.Table, error) {
	first := tables[0]
	kinds := make([]table.Kind, first.NumCols())
	total := 0
	for i, c := range first.Columns() {
		kinds[i] = c.Kind()
	}
	for ti, t := range tables {
		total += t.NumRows()
		if ti == 0 {
			continue
		}
		if t.NumCols() != first.NumCols() {
			return nil, fmt.Errorf("%w: %s has %d columns, %s has %d",
				ErrFormat, names[ti], t.NumCols(), names[0], first.NumCols())
		}
		for i, c := range t.Columns() {
			if c.Name() != first.Columns()[i].Name() {
				return nil, fmt.Errorf("%w: %s column %d is %q, %s has %q",
					ErrFormat, names[ti], i, c.Name(), names[0], first.Columns()[i].Name())
			}
			k, ok := unifyKinds(kinds[i], c.Kind())
			if !ok {
				return nil, fmt.Errorf("%w: column %q is %s in %s and %s in %s",
					ErrFormat, c.Name(), kinds[i], names[0], c.Kind(), names[ti])
			}
			kinds[i] = k
		}
	}

	cols := make([]*table.Column, len(kinds))
	for i, kind := range kinds {
		b := table.NewBuilder(first.Columns()[i].Name(), kind, total)
		for _, t := range tables {
			c := t.Columns()[i]
			for r := 0; r < c.Len(); r++ {
				if err := b.Append(c.Value(r)); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrFormat, err)
				}
			}
		}
		cols[i] = b.Build()
	}
	return table.New(cols...)
}

func unifyKinds(a, b table.Kind) (table.Kind, bool) {
	switch {
	case a == b:
		return a, true
	case a.IsNumeric() && b.IsNumeric():
		return table.KindFloat, true
	default:
		return a, false
	}
}
