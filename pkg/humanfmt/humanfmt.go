// Package humanfmt renders sizes, counts, durations and statistics for people
// reading logs and text reports.
package humanfmt

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Binary (IEC) units for bytes.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

var byteUnits = []struct {
	size float64
	name string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// Bytes formats a byte count such as a source size, e.g. "1.23 GiB".
func Bytes(b int64) string {
	for _, u := range byteUnits {
		if float64(b) >= u.size {
			return fmt.Sprintf("%.2f %s", float64(b)/u.size, u.name)
		}
	}
	return fmt.Sprintf("%d B", b)
}

// BytesUint64 is like Bytes but for uint64.
func BytesUint64(b uint64) string {
	if b > math.MaxInt64 {
		return Bytes(math.MaxInt64)
	}
	return Bytes(int64(b))
}

// Duration formats phase timings: "1.23s", "45.6ms", "1m30s", "2h15m".
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		return d.String()
	case d >= time.Hour:
		return compound(int64(d/time.Hour), "h", int64((d%time.Hour)/time.Minute), "m")
	case d >= time.Minute:
		return compound(int64(d/time.Minute), "m", int64((d%time.Minute)/time.Second), "s")
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fµs", float64(d)/float64(time.Microsecond))
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}

func compound(major int64, majorUnit string, minor int64, minorUnit string) string {
	if minor == 0 {
		return fmt.Sprintf("%d%s", major, majorUnit)
	}
	return fmt.Sprintf("%d%s%d%s", major, majorUnit, minor, minorUnit)
}

// Count formats row and group counts: "789", "1.50K", "1.23M", "2.00B".
func Count(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.2fK", float64(n)/1e3)
	default:
		return strconv.FormatInt(n, 10)
	}
}

// Stat formats a computed statistic with up to four decimals, dropping
// trailing zeros: 2 -> "2", 5.006 -> "5.006", 1/3 -> "0.3333".
func Stat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 0):
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(math.Round(f*1e4)/1e4, 'f', -1, 64)
}

// Percent formats a ratio in [0,1] as a percentage with one decimal.
func Percent(part, whole int64) string {
	if whole == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(whole))
}
