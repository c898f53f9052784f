// Package membudget bounds how much memory loaded tables may occupy.
//
// Tables live entirely in memory, so before a source is read its decoded
// footprint is estimated from its size and reserved against the budget.
// Concurrent loads share one Budget.
package membudget

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/eunmann/tabx/pkg/sysmem"
)

// ExpansionFactor estimates decoded table bytes per source byte. Parsed
// cells carry a validity flag and a float64, string header or time.Time,
// which is several times the width of the text they came from.
const ExpansionFactor = 4

// BudgetSource indicates how the memory budget was determined.
type BudgetSource string

const (
	// BudgetSourceAuto50Pct indicates the budget was set to 50% of detected RAM.
	BudgetSourceAuto50Pct BudgetSource = "auto-50pct"
	// BudgetSourceDefault indicates the budget used the fallback default.
	BudgetSourceDefault BudgetSource = "default"
	// BudgetSourceCLI indicates the budget was set via CLI flag.
	BudgetSourceCLI BudgetSource = "cli"
	// BudgetSourceEnv indicates the budget was set via environment variable.
	BudgetSourceEnv BudgetSource = "env"
)

// Budget tracks reserved bytes against a fixed total. Safe for concurrent use.
type Budget struct {
	total  uint64
	inUse  atomic.Uint64
	source BudgetSource
}

// Config holds configuration for creating a Budget.
type Config struct {
	TotalBytes uint64
	Source     BudgetSource
}

// New creates a new Budget with the given configuration.
func New(cfg Config) *Budget {
	return &Budget{total: cfg.TotalBytes, source: cfg.Source}
}

// NewFromSystemRAM creates a Budget set to 50% of system RAM, or to half
// the sysmem fallback when RAM cannot be detected.
func NewFromSystemRAM() *Budget {
	result := sysmem.Total()
	source := BudgetSourceAuto50Pct
	if !result.Reliable {
		source = BudgetSourceDefault
	}
	return New(Config{TotalBytes: result.TotalBytes / 2, Source: source})
}

// Total returns the total budget in bytes.
func (b *Budget) Total() uint64 { return b.total }

// InUse returns the currently reserved bytes.
func (b *Budget) InUse() uint64 { return b.inUse.Load() }

// Source returns how the budget was determined.
func (b *Budget) Source() BudgetSource { return b.source }

// Estimate returns the expected in-memory footprint of a source of the given
// size in bytes.
func Estimate(sourceBytes int64) uint64 {
	if sourceBytes <= 0 {
		return 0
	}
	return uint64(sourceBytes) * ExpansionFactor
}

// TryReserve reserves n bytes if that keeps usage within the total.
func (b *Budget) TryReserve(n uint64) bool {
	for {
		current := b.inUse.Load()
		if current+n > b.total || current+n < current {
			return false
		}
		if b.inUse.CompareAndSwap(current, current+n) {
			return true
		}
	}
}

// Release returns n bytes to the budget, flooring usage at zero.
func (b *Budget) Release(n uint64) {
	for {
		current := b.inUse.Load()
		next := uint64(0)
		if n < current {
			next = current - n
		}
		if b.inUse.CompareAndSwap(current, next) {
			return
		}
	}
}

var sizeSuffixes = map[string]float64{
	"":    1,
	"B":   1,
	"KB":  1e3,
	"MB":  1e6,
	"GB":  1e9,
	"TB":  1e12,
	"K":   1 << 10,
	"KiB": 1 << 10,
	"M":   1 << 20,
	"MiB": 1 << 20,
	"G":   1 << 30,
	"GiB": 1 << 30,
	"T":   1 << 40,
	"TiB": 1 << 40,
}

// ParseHumanSize parses a human-readable size string (e.g., "4GiB", "512MB").
// Supported suffixes: B, KB, KiB/K, MB, MiB/M, GB, GiB/G, TB, TiB/T.
func ParseHumanSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size string")
	}

	numEnd := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if numEnd < 0 {
		numEnd = len(s)
	}

	num, err := strconv.ParseFloat(s[:numEnd], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", s[:numEnd])
	}
	multiplier, ok := sizeSuffixes[strings.TrimSpace(s[numEnd:])]
	if !ok {
		return 0, fmt.Errorf("unknown size suffix: %s", s[numEnd:])
	}
	return uint64(num * multiplier), nil
}
