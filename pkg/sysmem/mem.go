// Package sysmem detects how much physical memory the machine has, so the
// loader can refuse inputs that cannot fit.
package sysmem

// DefaultMemoryBytes is the fallback (4 GiB) when detection fails or the
// platform is unsupported.
const DefaultMemoryBytes uint64 = 4 * 1024 * 1024 * 1024

// Result holds the result of memory detection.
type Result struct {
	// TotalBytes is the physical memory in bytes.
	TotalBytes uint64

	// FreeBytes is the currently unused memory in bytes, or 0 when the
	// platform does not report it.
	FreeBytes uint64

	// Reliable is false when TotalBytes is the DefaultMemoryBytes fallback.
	Reliable bool
}

// Total returns the detected system memory, or the fallback.
func Total() Result {
	total, free, ok := systemMemory()
	if !ok || total == 0 {
		return Result{TotalBytes: DefaultMemoryBytes}
	}
	return Result{TotalBytes: total, FreeBytes: free, Reliable: true}
}
