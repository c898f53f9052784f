package logging

import (
	"time"

	"github.com/eunmann/tabx/pkg/humanfmt"
	"github.com/rs/zerolog"
)

// CompletionEvent builds a consistent "something finished" log line.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Strs adds a string slice field.
func (ce *CompletionEvent) Strs(key string, vals []string) *CompletionEvent {
	ce.fields[key] = vals
	return ce
}

// Bytes adds a byte count with a human-readable companion in pretty mode.
// Negative counts mean "unknown" and are skipped.
func (ce *CompletionEvent) Bytes(key string, bytes int64) *CompletionEvent {
	if bytes < 0 {
		return ce
	}
	ce.fields[key] = bytes
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(bytes)
	}
	return ce
}

// Count adds a count with a human-readable companion in pretty mode.
func (ce *CompletionEvent) Count(key string, n int) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(int64(n))
	}
	return ce
}

// Rows adds input and output row counts plus how many rows were dropped.
func (ce *CompletionEvent) Rows(in, out int) *CompletionEvent {
	ce.fields["rows_in"] = in
	ce.fields["rows_out"] = out
	ce.fields["rows_dropped"] = in - out
	if IsPrettyMode() && in > 0 {
		ce.fields["kept_h"] = humanfmt.Percent(int64(out), int64(in))
	}
	return ce
}

// Log emits the completion event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the completion event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())

	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}

	e.Msg(msg)
}

// PhaseComplete starts a phase completion event (load, clean, filter, ...).
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// SourceLoaded starts a per-source completion event.
func SourceLoaded(log zerolog.Logger, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "source_loaded", "load", elapsed)
}
