package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestInit_DoesNotPanic(t *testing.T) {
	// Test JSON mode (default)
	Init(false, false)
	log := L()
	log.Info().Msg("test json info")

	// Test human-friendly mode
	Init(true, true)
	log = L()
	log.Debug().Msg("test human debug")

	// Reset to default for other tests
	Init(false, false)
}

func TestWithPhase(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	log := WithPhase("load")
	log.Info().Msg("test message")

	if !bytes.Contains(buf.Bytes(), []byte(`"phase":"load"`)) {
		t.Errorf("expected phase field in output, got: %s", buf.String())
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	customLogger := zerolog.New(&buf).With().Str("custom", "field").Logger()
	SetLogger(customLogger)

	L().Info().Msg("test")

	if !bytes.Contains(buf.Bytes(), []byte(`"custom":"field"`)) {
		t.Errorf("expected custom field in output, got: %s", buf.String())
	}

	// Reset to default for other tests
	Init(false, false)
}

func TestPhaseCompleteFields(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false, false)
	defer Init(false, false)

	PhaseComplete(*L(), "filter", 1500*time.Millisecond).
		Rows(150, 50).
		Bytes("size_bytes", -1).
		Str("column", "year").
		Log("filter applied")

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}

	want := map[string]interface{}{
		"event":        "phase_completed",
		"phase":        "filter",
		"duration_ms":  float64(1500),
		"rows_in":      float64(150),
		"rows_out":     float64(50),
		"rows_dropped": float64(100),
		"column":       "year",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["size_bytes"]; ok {
		t.Error("unknown byte count should be omitted")
	}
	if _, ok := got["duration_h"]; ok {
		t.Error("duration_h should only appear in pretty mode")
	}
}

func TestPrettyModeAddsCompanions(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false, true)
	defer Init(false, false)

	if !IsPrettyMode() {
		t.Fatal("IsPrettyMode() = false after human init")
	}

	SourceLoaded(*L(), time.Second).Count("rows", 2500).Log("loaded")

	if !bytes.Contains(buf.Bytes(), []byte("2.50K")) {
		t.Errorf("expected human count in output, got: %s", buf.String())
	}
}
