package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/eunmann/tabx/pkg/source"
	"github.com/eunmann/tabx/pkg/table"
	"github.com/parquet-go/parquet-go"
)

// parquetBatch is the number of rows read from a row group at a time.
const parquetBatch = 1024

func loadParquet(ctx context.Context, loc source.Locator, opts Options, opener *source.Opener) (*table.Table, int64, error) {
	sp, err := opener.Spool(ctx, loc)
	if err != nil {
		if errors.Is(err, source.ErrCorrupt) {
			return nil, 0, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		if errors.Is(err, source.ErrEmpty) {
			return nil, 0, fmt.Errorf("%w: %w", ErrEmptyInput, err)
		}
		return nil, 0, err
	}
	defer sp.Close()

	release, err := reserve(opts.Budget, sp.Size)
	if err != nil {
		return nil, sp.Size, err
	}
	defer release()

	if sp.Size == 0 {
		return nil, 0, fmt.Errorf("%w: zero-byte file", ErrEmptyInput)
	}
	file, err := parquet.OpenFile(sp, sp.Size)
	if err != nil {
		return nil, sp.Size, fmt.Errorf("%w: open parquet file: %v", ErrFormat, err)
	}

	tbl, err := readParquet(ctx, file, opts)
	if err != nil {
		return nil, sp.Size, err
	}
	return tbl, sp.Size, nil
}

// parquetColumn converts leaf values of one flat column into a table column.
type parquetColumn struct {
	field   parquet.Field
	kind    table.Kind
	convert func(parquet.Value) table.Value
	builder *table.Builder
}

func readParquet(ctx context.Context, file *parquet.File, opts Options) (*table.Table, error) {
	fields := file.Schema().Fields()
	rows := int(file.NumRows())
	if rows == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrEmptyInput)
	}

	cols := make([]*parquetColumn, len(fields))
	for i, f := range fields {
		if !f.Leaf() || f.Repeated() {
			return nil, fmt.Errorf("%w: column %q is nested or repeated", ErrFormat, f.Name())
		}
		kind, convert := parquetKind(f.Type())
		if declared, ok := opts.Kinds[f.Name()]; ok {
			kind = declared
		}
		cols[i] = &parquetColumn{
			field:   f,
			kind:    kind,
			convert: convert,
			builder: table.NewBuilder(f.Name(), kind, rows),
		}
	}

	buf := make([]parquet.Row, parquetBatch)
	for _, rg := range file.RowGroups() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readRowGroup(rg, buf, cols); err != nil {
			return nil, err
		}
	}

	built := make([]*table.Column, len(cols))
	for i, c := range cols {
		built[i] = c.builder.Build()
	}
	return table.New(built...)
}

func readRowGroup(rg parquet.RowGroup, buf []parquet.Row, cols []*parquetColumn) error {
	rows := rg.Rows()
	defer rows.Close()

	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			if err := appendRow(row, cols); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read parquet rows: %v", ErrFormat, err)
		}
		if n == 0 {
			return nil
		}
	}
}

func appendRow(row parquet.Row, cols []*parquetColumn) error {
	for _, val := range row {
		idx := val.Column()
		if idx < 0 || idx >= len(cols) {
			continue
		}
		c := cols[idx]
		if val.IsNull() {
			c.builder.AppendNull()
			continue
		}
		if err := appendValue(c.builder, c.convert(val)); err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}
	return nil
}

// parquetKind maps a leaf type to a table kind and a value converter.
// Timestamp and date logical types become Timestamp; 32/64-bit integers
// become Integer; floats and doubles become Float; everything else is read
// as Text.
func parquetKind(t parquet.Type) (table.Kind, func(parquet.Value) table.Value) {
	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.Timestamp != nil:
			unit := time.Nanosecond
			switch {
			case lt.Timestamp.Unit.Millis != nil:
				unit = time.Millisecond
			case lt.Timestamp.Unit.Micros != nil:
				unit = time.Microsecond
			}
			return table.KindTimestamp, func(v parquet.Value) table.Value {
				return table.TimeValue(time.Unix(0, v.Int64()*int64(unit)).UTC())
			}
		case lt.Date != nil:
			return table.KindTimestamp, func(v parquet.Value) table.Value {
				return table.TimeValue(time.Unix(int64(v.Int32())*86400, 0).UTC())
			}
		}
	}

	switch t.Kind() {
	case parquet.Int32:
		return table.KindInteger, func(v parquet.Value) table.Value { return table.IntValue(int64(v.Int32())) }
	case parquet.Int64:
		return table.KindInteger, func(v parquet.Value) table.Value { return table.IntValue(v.Int64()) }
	case parquet.Float:
		return table.KindFloat, func(v parquet.Value) table.Value { return table.FloatValue(float64(v.Float())) }
	case parquet.Double:
		return table.KindFloat, func(v parquet.Value) table.Value { return table.FloatValue(v.Double()) }
	case parquet.Boolean:
		return table.KindText, func(v parquet.Value) table.Value { return table.TextValue(strconv.FormatBool(v.Boolean())) }
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return table.KindText, func(v parquet.Value) table.Value { return table.TextValue(string(v.ByteArray())) }
	default:
		return table.KindText, func(v parquet.Value) table.Value { return table.TextValue(v.String()) }
	}
}
