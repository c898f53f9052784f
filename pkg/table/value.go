package table

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a single cell. Num holds both integer and float payloads.
type Value struct {
	Kind Kind
	Null bool
	Num  float64
	Str  string
	Time time.Time
}

// NullValue returns a missing cell of the given kind.
func NullValue(kind Kind) Value {
	return Value{Kind: kind, Null: true}
}

// IntValue returns an integer cell.
func IntValue(n int64) Value {
	return Value{Kind: KindInteger, Num: float64(n)}
}

// FloatValue returns a float cell.
func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Num: f}
}

// TextValue returns a text cell.
func TextValue(s string) Value {
	return Value{Kind: KindText, Str: s}
}

// TimeValue returns a timestamp cell.
func TimeValue(t time.Time) Value {
	return Value{Kind: KindTimestamp, Time: t}
}

// String formats the value for display. Nulls render as the empty string.
func (v Value) String() string {
	if v.Null {
		return ""
	}
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(int64(v.Num), 10)
	case KindFloat:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindTimestamp:
		if v.Time.Hour() == 0 && v.Time.Minute() == 0 && v.Time.Second() == 0 && v.Time.Nanosecond() == 0 {
			return v.Time.Format(time.DateOnly)
		}
		return v.Time.Format(time.RFC3339)
	default:
		return v.Str
	}
}

// MarshalJSON encodes numbers as JSON numbers and everything else as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.Null:
		return []byte("null"), nil
	case v.Kind.IsNumeric():
		return []byte(strconv.FormatFloat(v.Num, 'g', -1, 64)), nil
	default:
		return []byte(strconv.Quote(v.String())), nil
	}
}

// Compare orders two values of compatible kinds. Integer and float values
// compare numerically with each other. Nulls sort before everything else.
func (v Value) Compare(o Value) (int, error) {
	switch {
	case v.Null && o.Null:
		return 0, nil
	case v.Null:
		return -1, nil
	case o.Null:
		return 1, nil
	}

	switch {
	case v.Kind.IsNumeric() && o.Kind.IsNumeric():
		return cmp.Compare(v.Num, o.Num), nil
	case v.Kind == KindText && o.Kind == KindText:
		return strings.Compare(v.Str, o.Str), nil
	case v.Kind == KindTimestamp && o.Kind == KindTimestamp:
		return v.Time.Compare(o.Time), nil
	default:
		return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrTypeMismatch, v.Kind, o.Kind)
	}
}

// Equal reports whether both values are comparable and equal.
func (v Value) Equal(o Value) bool {
	c, err := v.Compare(o)
	return err == nil && c == 0
}

// ParseValue parses raw text as a value of the given kind.
func ParseValue(kind Kind, raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	switch kind {
	case KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, raw)
		}
		return IntValue(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, raw)
		}
		return FloatValue(f), nil
	case KindTimestamp:
		t, ok := ParseTime(s)
		if !ok {
			return Value{}, fmt.Errorf("%w: %q is not a timestamp", ErrTypeMismatch, raw)
		}
		return TimeValue(t), nil
	default:
		return TextValue(raw), nil
	}
}

// Coerce converts v to kind. Integers widen to floats, floats with no
// fractional part narrow to integers, and text is parsed.
func (v Value) Coerce(kind Kind) (Value, error) {
	if v.Null {
		return NullValue(kind), nil
	}
	if v.Kind == kind {
		return v, nil
	}
	switch {
	case v.Kind.IsNumeric() && kind.IsNumeric():
		if kind == KindInteger && v.Num != float64(int64(v.Num)) {
			return Value{}, fmt.Errorf("%w: %v is not an integer", ErrTypeMismatch, v.Num)
		}
		return Value{Kind: kind, Num: v.Num}, nil
	case v.Kind == KindText:
		return ParseValue(kind, v.Str)
	default:
		return Value{}, fmt.Errorf("%w: cannot use %s value as %s", ErrTypeMismatch, v.Kind, kind)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	"2006-01-02 15:04",
	time.DateOnly,
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"2 Jan 2006",
	"Jan 2 2006",
	"2006 Jan 2",
	"2006-01",
}

// ParseTime parses the timestamp layouts commonly found in exported CSV
// files. Bare four-digit years parse as January 1st of that year.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if len(s) == 4 {
		if y, err := strconv.Atoi(s); err == nil && y > 0 {
			return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
