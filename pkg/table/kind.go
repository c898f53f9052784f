package table

import (
	"fmt"
	"strings"
)

// Kind is the declared type of a column.
type Kind uint8

const (
	KindText Kind = iota
	KindInteger
	KindFloat
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsNumeric reports whether values of this kind can be averaged.
func (k Kind) IsNumeric() bool {
	return k == KindInteger || k == KindFloat
}

// MarshalText renders the kind name in JSON reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind parses a kind name as printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string":
		return KindText, nil
	case "integer", "int":
		return KindInteger, nil
	case "float", "number", "numeric":
		return KindFloat, nil
	case "timestamp", "time", "date":
		return KindTimestamp, nil
	default:
		return KindText, fmt.Errorf("unknown kind: %s", s)
	}
}
