// Package memdiag logs heap usage per pipeline stage.
//
// Enable with TABX_MEM_DEBUG=1. TABX_MEM_PPROF=1 also serves pprof on
// localhost:6060.
package memdiag

import (
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	// Registers pprof handlers on DefaultServeMux for the pprof HTTP server.
	_ "net/http/pprof"

	"github.com/eunmann/tabx/pkg/humanfmt"
	"github.com/eunmann/tabx/pkg/logging"
	"github.com/eunmann/tabx/pkg/membudget"
)

const pprofAddr = "localhost:6060"

// Config holds configuration for memory diagnostics.
type Config struct {
	Enabled      bool
	PprofEnabled bool

	// LogInterval is the period of background logging. Zero logs only on
	// phase changes.
	LogInterval time.Duration
}

// DefaultConfig reads the configuration from the environment.
func DefaultConfig() Config {
	return Config{
		Enabled:      os.Getenv("TABX_MEM_DEBUG") == "1",
		PprofEnabled: os.Getenv("TABX_MEM_PPROF") == "1",
		LogInterval:  5 * time.Second,
	}
}

// Stats is the subset of runtime.MemStats worth logging.
type Stats struct {
	HeapAlloc uint64
	HeapInuse uint64
	Sys       uint64
	NumGC     uint32
}

// Read reads current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc: m.HeapAlloc,
		HeapInuse: m.HeapInuse,
		Sys:       m.Sys,
		NumGC:     m.NumGC,
	}
}

// Tracker logs memory usage per phase. A nil or disabled Tracker is a no-op.
type Tracker struct {
	config  Config
	budget  *membudget.Budget
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool

	mu       sync.Mutex
	phase    string
	peakHeap uint64
}

// NewTracker creates a tracker. budget may be nil.
func NewTracker(config Config, budget *membudget.Budget) *Tracker {
	return &Tracker{
		config: config,
		budget: budget,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		phase:  "init",
	}
}

// Enabled reports whether the tracker logs anything.
func (t *Tracker) Enabled() bool {
	return t != nil && t.config.Enabled
}

// Start begins periodic logging, and the pprof server if configured.
func (t *Tracker) Start() {
	if !t.Enabled() || !t.started.CompareAndSwap(false, true) {
		return
	}

	log := logging.L()
	log.Info().Msg("memory diagnostics enabled")

	if t.config.PprofEnabled {
		go func() {
			log.Info().Str("addr", pprofAddr).Msg("starting pprof server")
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go t.logLoop()
}

// Stop stops periodic logging and logs a final sample.
func (t *Tracker) Stop() {
	if t == nil || !t.started.Load() {
		return
	}
	close(t.stopCh)
	<-t.doneCh
}

// SetPhase records the current phase and logs a sample.
func (t *Tracker) SetPhase(phase string) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	t.phase = phase
	t.mu.Unlock()
	t.LogNow("phase_change")
}

// LogNow logs current memory stats at debug level, alongside the memory
// budget when the tracker has one.
func (t *Tracker) LogNow(reason string) {
	if !t.Enabled() {
		return
	}
	stats := Read()

	t.mu.Lock()
	phase := t.phase
	t.peakHeap = max(t.peakHeap, stats.HeapAlloc)
	peak := t.peakHeap
	t.mu.Unlock()

	ev := logging.L().Debug().
		Str("reason", reason).
		Str("phase", phase).
		Str("heap_alloc", humanfmt.BytesUint64(stats.HeapAlloc)).
		Str("heap_inuse", humanfmt.BytesUint64(stats.HeapInuse)).
		Str("sys_total", humanfmt.BytesUint64(stats.Sys)).
		Str("peak_heap", humanfmt.BytesUint64(peak)).
		Uint32("num_gc", stats.NumGC)

	if t.budget != nil {
		ev = ev.Str("budget_inuse", humanfmt.BytesUint64(t.budget.InUse())).
			Str("budget_total", humanfmt.BytesUint64(t.budget.Total()))
		if total := t.budget.Total(); total > 0 && stats.HeapAlloc > total {
			logging.L().Warn().
				Str("heap_alloc", humanfmt.BytesUint64(stats.HeapAlloc)).
				Str("budget_total", humanfmt.BytesUint64(total)).
				Str("phase", phase).
				Msg("heap exceeds memory budget")
		}
	}
	ev.Msg("memory stats")
}

// PeakHeap returns the peak heap allocation seen.
func (t *Tracker) PeakHeap() uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}

func (t *Tracker) logLoop() {
	defer close(t.doneCh)

	var tick <-chan time.Time
	if t.config.LogInterval > 0 {
		ticker := time.NewTicker(t.config.LogInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-t.stopCh:
			t.LogNow("shutdown")
			return
		case <-tick:
			t.LogNow("periodic")
		}
	}
}
