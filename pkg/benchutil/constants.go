package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// BenchmarkSizes are row counts for quick runs.
var BenchmarkSizes = []int{1000, 10000, 100000}

// ScalingSizes are larger row counts, run with TABX_LONG_BENCH=1.
var ScalingSizes = []int{250000, 1000000}
