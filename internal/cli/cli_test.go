package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eunmann/tabx/pkg/aggregate"
	"github.com/eunmann/tabx/pkg/clean"
	"github.com/eunmann/tabx/pkg/filter"
	"github.com/eunmann/tabx/pkg/loader"
	"github.com/eunmann/tabx/pkg/membudget"
	"github.com/eunmann/tabx/pkg/pipeline"
	"github.com/eunmann/tabx/pkg/source"
	"github.com/google/go-cmp/cmp"
)

const metadataCSV = `title,abstract,journal,publish_time,score
A,one two three,Nature,2019-05-01,1.5
B,,Nature,2020-01-01,2.5
C,four five,Cell,NA,3
D,six,Lancet,2021,NA
E,seven eight,Nature,2020-03-02,4.5
F,nine,Cell,2020-07-07,5
`

func writeMetadata(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.csv")
	if err := os.WriteFile(path, []byte(metadataCSV), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestRunNoArgs(t *testing.T) {
	err := run(context.Background(), nil, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error with no args")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("expected usage message, got: %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"unknown"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error with unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected 'unknown command' error, got: %v", err)
	}
}

func TestExploreFlagErrors(t *testing.T) {
	path := writeMetadata(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no sources", []string{"explore"}, "at least one source"},
		{"bad format", []string{"explore", "--format", "xml", path}, "--format"},
		{"bad engine", []string{"explore", "--engine", "duckdb", path}, "--engine"},
		{"sqlite path without sqlite", []string{"explore", "--sqlite-db", "x.db", path}, "--sqlite-db"},
		{"bad word count", []string{"explore", "--word-count", "abstract", path}, "--word-count"},
		{"bad stat", []string{"explore", "--group-by", "journal", "--stat", "median:score", path}, "--stat"},
		{"stat without group", []string{"explore", "--stat", "count", path}, "--group-by"},
		{"bad filter", []string{"explore", "--filter", "score", path}, "invalid filter"},
		{"equality year range", []string{"explore", "--year-range", "=2020", path}, "--year-range"},
		{"zero bins", []string{"explore", "--hist", "score", "--bins", "0", path}, "--bins"},
		{"bad delimiter", []string{"explore", "--delimiter", ";;", path}, "--delimiter"},
		{"bad kind", []string{"explore", "--kind", "score:decimal", path}, "--kind"},
		{"negative head", []string{"explore", "--head", "-1", path}, "--head"},
		{"bad budget", []string{"explore", "--mem-budget", "lots", path}, "--mem-budget"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, &bytes.Buffer{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestExploreJSON(t *testing.T) {
	path := writeMetadata(t)
	for _, engine := range []string{"memory", "sqlite"} {
		t.Run(engine, func(t *testing.T) {
			var out bytes.Buffer
			args := []string{
				"explore",
				"--format", "json",
				"--engine", engine,
				"--word-count", "abstract:abstract_words",
				"--year-of", "publish_time:year",
				"--require", "abstract,publish_time",
				"--year-range", "2020:2021",
				"--group-by", "journal",
				"--stat", "count",
				"--stat", "mean:score",
				"--top", "journal",
				"--top-words", "abstract",
				"--words-n", "3",
				"--head", "2",
				path,
			}
			if err := run(context.Background(), args, &out); err != nil {
				t.Fatalf("run failed: %v", err)
			}

			var r struct {
				Command string `json:"command"`
				RunID   string `json:"run_id"`
				Stages  []struct {
					Stage string `json:"stage"`
					Rows  int    `json:"rows"`
				} `json:"stages"`
				TopWords struct {
					Column string `json:"column"`
					Counts []struct {
						Value string `json:"value"`
						Count int    `json:"count"`
					} `json:"counts"`
				} `json:"top_words"`
				Groups struct {
					Engine string `json:"engine"`
					Groups []struct {
						Key   string             `json:"key"`
						Stats map[string]float64 `json:"stats"`
					} `json:"groups"`
				} `json:"groups"`
			}
			if err := json.Unmarshal(out.Bytes(), &r); err != nil {
				t.Fatalf("invalid JSON: %v\n%s", err, out.String())
			}
			if r.Command != "explore" || r.RunID == "" {
				t.Errorf("command = %q, run_id = %q", r.Command, r.RunID)
			}
			var rows []int
			for _, s := range r.Stages {
				rows = append(rows, s.Rows)
			}
			if diff := cmp.Diff([]int{6, 4, 3}, rows); diff != "" {
				t.Errorf("stage rows mismatch (-want +got):\n%s", diff)
			}
			if r.TopWords.Column != "abstract" || len(r.TopWords.Counts) != 3 {
				t.Errorf("top words = %+v, want 3 words of abstract", r.TopWords)
			}
			if r.Groups.Engine != engine {
				t.Errorf("engine = %q, want %q", r.Groups.Engine, engine)
			}
			var keys []string
			for _, g := range r.Groups.Groups {
				keys = append(keys, g.Key)
			}
			if diff := cmp.Diff([]string{"Cell", "Lancet", "Nature"}, keys); diff != "" {
				t.Errorf("group keys mismatch (-want +got):\n%s", diff)
			}
			if got := r.Groups.Groups[2].Stats["mean(score)"]; got != 4.5 {
				t.Errorf("Nature mean(score) = %v, want 4.5", got)
			}
		})
	}
}

func TestExploreNonFiniteCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "species.csv")
	if err := os.WriteFile(path, []byte("species,x\na,1\na,NAN\nb,2\nb,inf\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	for _, engine := range []string{"memory", "sqlite"} {
		t.Run(engine, func(t *testing.T) {
			var out bytes.Buffer
			args := []string{
				"explore",
				"--format", "json",
				"--engine", engine,
				"--group-by", "species",
				"--stat", "mean:x",
				"--hist", "x",
				"--bins", "3",
				path,
			}
			if err := run(context.Background(), args, &out); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			var r struct {
				Groups struct {
					Groups []struct {
						Key   string             `json:"key"`
						Stats map[string]float64 `json:"stats"`
					} `json:"groups"`
				} `json:"groups"`
			}
			if err := json.Unmarshal(out.Bytes(), &r); err != nil {
				t.Fatalf("invalid JSON: %v\n%s", err, out.String())
			}
			means := map[string]float64{}
			for _, g := range r.Groups.Groups {
				means[g.Key] = g.Stats["mean(x)"]
			}
			if diff := cmp.Diff(map[string]float64{"a": 1, "b": 2}, means); diff != "" {
				t.Errorf("means mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDescribeText(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"describe", "--require", "*", writeMetadata(t)}, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, want := range []string{"tabx describe", "SCHEMA", "DESCRIBE", "score"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "GROUP BY") {
		t.Errorf("describe output has a GROUP BY section:\n%s", out.String())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{flag.ErrHelp, 0},
		{fmt.Errorf("load x: %w", source.ErrSourceUnavailable), 2},
		{fmt.Errorf("load x: %w", loader.ErrFormat), 3},
		{fmt.Errorf("load x: %w", loader.ErrEmptyInput), 4},
		{errors.New("boom"), 1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestExitCodeFromRun(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	ragged := filepath.Join(dir, "ragged.csv")
	emptyGz := filepath.Join(dir, "empty.csv.gz")
	if err := os.WriteFile(empty, []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(emptyGz, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ragged, []byte("a,b\n1,2,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing", filepath.Join(dir, "nope.csv"), 2},
		{"ragged", ragged, 3},
		{"empty", empty, 4},
		{"zero-byte gzip", emptyGz, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), []string{"describe", tt.path}, &bytes.Buffer{})
			if got := ExitCode(err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", err, got, tt.want)
			}
		})
	}
}

func TestParseDerivations(t *testing.T) {
	got, err := parseDerivations([]derivationArg{
		{"year-of", "published:year"},
		{"word-count", "abstract:abstract_words"},
		{"parse-time", "publish_time:published"},
	})
	if err != nil {
		t.Fatalf("parseDerivations failed: %v", err)
	}
	want := []clean.Derivation{
		clean.YearOf{Source: "published", Dest: "year"},
		clean.WordCount{Source: "abstract", Dest: "abstract_words"},
		clean.ParseTime{Source: "publish_time", Dest: "published"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("derivations mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseDerivations([]derivationArg{{"year-of", "published"}}); err == nil {
		t.Error("expected error for a derivation without a destination")
	}
}

func TestExploreDerivationsKeepFlagOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dates.csv")
	if err := os.WriteFile(path, []byte("id,stamp,revised\n1,2020/03/15,2023/05/05\n2,2021/01/01,2024/02/02\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	// year is taken from stamp before --parse-time overwrites it.
	var out bytes.Buffer
	args := []string{
		"explore",
		"--format", "json",
		"--kind", "stamp:text",
		"--kind", "revised:text",
		"--year-of", "stamp:year",
		"--parse-time", "revised:stamp",
		"--group-by", "year",
		path,
	}
	if err := run(context.Background(), args, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var r struct {
		Groups struct {
			Groups []struct {
				Key any `json:"key"`
			} `json:"groups"`
		} `json:"groups"`
	}
	if err := json.Unmarshal(out.Bytes(), &r); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out.String())
	}
	var keys []any
	for _, g := range r.Groups.Groups {
		keys = append(keys, g.Key)
	}
	if diff := cmp.Diff([]any{2020.0, 2021.0}, keys); diff != "" {
		t.Errorf("year groups mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFiltersYearRange(t *testing.T) {
	specs, err := parseFilters([]string{"score=1:"}, "2000:2010", "pub_year")
	if err != nil {
		t.Fatalf("parseFilters failed: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d, want 2", len(specs))
	}
	if specs[1].Column != "pub_year" {
		t.Errorf("year filter column = %q, want pub_year", specs[1].Column)
	}
	if _, ok := specs[1].Predicate.(filter.Range); !ok {
		t.Errorf("year filter predicate = %T, want filter.Range", specs[1].Predicate)
	}
}

func TestParseStats(t *testing.T) {
	got, err := parseStats([]string{"count", "mean:score"})
	if err != nil {
		t.Fatalf("parseStats failed: %v", err)
	}
	want := []aggregate.Request{{Stat: aggregate.StatCount}, {Stat: aggregate.StatMean, Column: "score"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{"", 0, false},
		{";", ';', false},
		{"|", '|', false},
		{`\t`, '\t', false},
		{"tab", '\t', false},
		{";;", 0, true},
		{`"`, 0, true},
	}
	for _, tt := range tests {
		got, err := parseDelimiter(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDelimiter(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDelimiter(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	if diff := cmp.Diff([]string{"a", "b"}, splitList(" a, ,b ")); diff != "" {
		t.Errorf("splitList mismatch (-want +got):\n%s", diff)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
}

func TestDetermineMemoryBudgetCLI(t *testing.T) {
	// CLI flag takes priority
	budget, err := determineMemoryBudget("4GiB")
	if err != nil {
		t.Fatalf("determineMemoryBudget error: %v", err)
	}
	if budget.Total() != 4*1024*1024*1024 {
		t.Errorf("Total() = %d, want %d", budget.Total(), 4*1024*1024*1024)
	}
	if budget.Source() != membudget.BudgetSourceCLI {
		t.Errorf("Source() = %s, want %s", budget.Source(), membudget.BudgetSourceCLI)
	}
}

func TestDetermineMemoryBudgetEnv(t *testing.T) {
	t.Setenv(envMemBudget, "2GiB")

	budget, err := determineMemoryBudget("")
	if err != nil {
		t.Fatalf("determineMemoryBudget error: %v", err)
	}
	if budget.Total() != 2*1024*1024*1024 {
		t.Errorf("Total() = %d, want %d", budget.Total(), 2*1024*1024*1024)
	}
	if budget.Source() != membudget.BudgetSourceEnv {
		t.Errorf("Source() = %s, want %s", budget.Source(), membudget.BudgetSourceEnv)
	}
}

func TestDetermineMemoryBudgetCLIOverridesEnv(t *testing.T) {
	t.Setenv(envMemBudget, "2GiB")

	budget, err := determineMemoryBudget("8GiB")
	if err != nil {
		t.Fatalf("determineMemoryBudget error: %v", err)
	}
	if budget.Total() != 8*1024*1024*1024 {
		t.Errorf("Total() = %d, want %d", budget.Total(), 8*1024*1024*1024)
	}
	if budget.Source() != membudget.BudgetSourceCLI {
		t.Errorf("Source() = %s, want %s", budget.Source(), membudget.BudgetSourceCLI)
	}
}

func TestDetermineMemoryBudgetDefault(t *testing.T) {
	t.Setenv(envMemBudget, "")

	budget, err := determineMemoryBudget("")
	if err != nil {
		t.Fatalf("determineMemoryBudget error: %v", err)
	}
	if budget.Source() != membudget.BudgetSourceAuto50Pct && budget.Source() != membudget.BudgetSourceDefault {
		t.Errorf("Source() = %s, want auto-50pct or default", budget.Source())
	}
}

func TestDetermineMemoryBudgetInvalidEnv(t *testing.T) {
	t.Setenv(envMemBudget, "badvalue")

	_, err := determineMemoryBudget("")
	if err == nil {
		t.Fatal("expected error with invalid env budget")
	}
	if !strings.Contains(err.Error(), envMemBudget) {
		t.Errorf("expected %q in error, got: %v", envMemBudget, err)
	}
}

func TestDetermineTimeout(t *testing.T) {
	t.Setenv(envTimeout, "")
	if got, _ := determineTimeout(0); got != pipeline.DefaultLoadTimeout {
		t.Errorf("default timeout = %s, want %s", got, pipeline.DefaultLoadTimeout)
	}

	t.Setenv(envTimeout, "90s")
	if got, _ := determineTimeout(0); got != 90*time.Second {
		t.Errorf("env timeout = %s, want 90s", got)
	}
	if got, _ := determineTimeout(5 * time.Second); got != 5*time.Second {
		t.Errorf("flag timeout = %s, want 5s", got)
	}

	t.Setenv(envTimeout, "soon")
	if _, err := determineTimeout(0); err == nil || !strings.Contains(err.Error(), envTimeout) {
		t.Errorf("expected %s error, got %v", envTimeout, err)
	}
	if _, err := determineTimeout(-time.Second); err == nil {
		t.Error("expected error for negative timeout")
	}
}

func TestDescribeToFile(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "reports", "describe.json")
	var stdout bytes.Buffer
	args := []string{"describe", "--format", "json", "--out", outPath, writeMetadata(t)}
	if err := run(context.Background(), args, &stdout); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout has %d bytes, want report only in --out", stdout.Len())
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var r map[string]any
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("invalid JSON in %s: %v", outPath, err)
	}
	if r["command"] != "describe" {
		t.Errorf("command = %v, want describe", r["command"])
	}
}
