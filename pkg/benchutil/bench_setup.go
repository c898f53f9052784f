package benchutil

import (
	"os"
	"testing"
)

// SkipIfNoLongBench skips the benchmark if TABX_LONG_BENCH is not set.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("TABX_LONG_BENCH") == "" {
		b.Skip("set TABX_LONG_BENCH=1 to run scaling benchmark")
	}
}
