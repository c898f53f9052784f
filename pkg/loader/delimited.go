package loader

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/eunmann/tabx/pkg/source"
	"github.com/eunmann/tabx/pkg/table"
	"golang.org/x/text/unicode/norm"
)

// sniffCandidates are the separators tried when the suffix does not name one.
var sniffCandidates = []rune{',', '\t', ';', '|'}

func loadDelimited(ctx context.Context, loc source.Locator, opts Options, opener *source.Opener) (*table.Table, int64, error) {
	obj, err := opener.Open(ctx, loc)
	if err != nil {
		if errors.Is(err, source.ErrCorrupt) {
			return nil, 0, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		if errors.Is(err, source.ErrEmpty) {
			return nil, 0, fmt.Errorf("%w: %w", ErrEmptyInput, err)
		}
		return nil, 0, err
	}
	defer obj.Body.Close()

	release, err := reserve(opts.Budget, obj.Size)
	if err != nil {
		return nil, obj.Size, err
	}
	defer release()

	br := bufio.NewReaderSize(obj.Body, 64*1024)
	delim := opts.Delimiter
	if delim == 0 {
		delim = delimiterFor(loc.Ext(), br)
	}

	tbl, err := readDelimited(ctx, br, delim, opts)
	if err != nil {
		return nil, obj.Size, err
	}
	return tbl, obj.Size, nil
}

func delimiterFor(ext string, br *bufio.Reader) rune {
	switch ext {
	case ".csv":
		return ','
	case ".tsv", ".tab":
		return '\t'
	}
	head, _ := br.Peek(br.Size())
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	return sniffDelimiter(string(head))
}

// sniffDelimiter picks the candidate separator occurring most often in the
// header line, defaulting to ','.
func sniffDelimiter(header string) rune {
	best, bestCount := ',', 0
	for _, c := range sniffCandidates {
		if n := strings.Count(header, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// rawColumn holds one column's cells as read, before kinds are decided.
type rawColumn struct {
	name  string
	cells []string
	valid []bool
}

func readDelimited(ctx context.Context, r io.Reader, delim rune, opts Options) (*table.Table, error) {
	csvr := csv.NewReader(r)
	csvr.Comma = delim
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true

	header, err := csvr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no header", ErrEmptyInput)
	}
	if err != nil {
		return nil, readError(ctx, err)
	}
	names, err := normalizeHeader(header)
	if err != nil {
		return nil, err
	}

	cols := make([]rawColumn, len(names))
	for i, name := range names {
		cols[i].name = name
	}
	missing := opts.missingSet()

	for rows := 0; ; rows++ {
		if rows%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := csvr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(ctx, err)
		}
		if len(rec) != len(cols) {
			line, _ := csvr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d",
				ErrFormat, line, len(rec), len(cols))
		}
		for i, cell := range rec {
			_, isMissing := missing[strings.TrimSpace(cell)]
			cols[i].cells = append(cols[i].cells, cell)
			cols[i].valid = append(cols[i].valid, !isMissing)
		}
	}

	if len(cols) == 0 || len(cols[0].cells) == 0 {
		return nil, fmt.Errorf("%w: header only", ErrEmptyInput)
	}

	built := make([]*table.Column, len(cols))
	for i := range cols {
		kind, declared := opts.Kinds[cols[i].name]
		if !declared {
			kind = inferKind(cols[i].cells, cols[i].valid)
		}
		c, err := buildColumn(&cols[i], kind)
		if err != nil {
			return nil, err
		}
		built[i] = c
	}
	return table.New(built...)
}

// readError classifies a read failure: malformed text and broken
// compression are format errors, anything else is a transport failure.
func readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if errors.Is(err, gzip.ErrChecksum) || errors.Is(err, gzip.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
}

// normalizeHeader trims whitespace, quotes and a UTF-8 byte order mark from
// each name and NFC-normalizes it.
func normalizeHeader(header []string) ([]string, error) {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name := norm.NFC.String(strings.Trim(strings.TrimSpace(h), `"'`))
		if name == "" {
			return nil, fmt.Errorf("%w: header field %d is empty", ErrFormat, i+1)
		}
		if j, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: header fields %d and %d are both %q", ErrFormat, j+1, i+1, name)
		}
		seen[name] = i
		names[i] = name
	}
	return names, nil
}

// inferKind returns the narrowest kind every non-missing cell parses as,
// trying Integer, then Float, then Timestamp. Columns with no values are Text.
func inferKind(cells []string, valid []bool) table.Kind {
	isInt, isFloat, isTime := true, true, true
	seen := false
	for i, cell := range cells {
		if !valid[i] {
			continue
		}
		seen = true
		s := strings.TrimSpace(cell)
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat && !isInt {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isTime {
			if _, ok := table.ParseTime(s); !ok {
				isTime = false
			}
		}
		if !isInt && !isFloat && !isTime {
			return table.KindText
		}
	}
	switch {
	case !seen:
		return table.KindText
	case isInt:
		return table.KindInteger
	case isFloat:
		return table.KindFloat
	case isTime:
		return table.KindTimestamp
	default:
		return table.KindText
	}
}

func buildColumn(raw *rawColumn, kind table.Kind) (*table.Column, error) {
	b := table.NewBuilder(raw.name, kind, len(raw.cells))
	for i, cell := range raw.cells {
		if !raw.valid[i] {
			b.AppendNull()
			continue
		}
		v, err := table.ParseValue(kind, cell)
		if err != nil {
			// Data rows start on line 2.
			return nil, fmt.Errorf("%w: column %q row %d: %v", ErrFormat, raw.name, i+2, err)
		}
		if err := appendValue(b, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}
	return b.Build(), nil
}

// appendValue appends v, storing NaN and ±Inf as missing.
func appendValue(b *table.Builder, v table.Value) error {
	if v.Kind.IsNumeric() && !v.Null && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0)) {
		b.AppendNull()
		return nil
	}
	return b.Append(v)
}
