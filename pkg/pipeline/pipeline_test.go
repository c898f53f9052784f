package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eunmann/tabx/pkg/aggregate"
	"github.com/eunmann/tabx/pkg/clean"
	"github.com/eunmann/tabx/pkg/filter"
	"github.com/eunmann/tabx/pkg/loader"
	"github.com/eunmann/tabx/pkg/report"
	"github.com/eunmann/tabx/pkg/source"
	"github.com/eunmann/tabx/pkg/table"
	"github.com/google/go-cmp/cmp"
)

const papersCSV = `title,abstract,journal,publish_time,score
A,one two three,Nature,2019-05-01,1.5
B,,Nature,2020-01-01,2.5
C,four five,Cell,NA,3
D,six,Lancet,2021,NA
E,seven eight,Nature,2020-03-02,4.5
F,nine,Cell,2020-07-07,5
`

func writePapers(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papers.csv")
	if err := os.WriteFile(path, []byte(papersCSV), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func papersConfig(t *testing.T, path string) Config {
	t.Helper()
	year, err := filter.Parse("year=2020:2021")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return Config{
		Command: "explore",
		Sources: []string{path},
		Clean: clean.Cleaner{
			Derive: []clean.Derivation{
				clean.WordCount{Source: "abstract", Dest: "abstract_words"},
				clean.YearOf{Source: "publish_time", Dest: "year"},
			},
			Required: []string{"abstract", "publish_time"},
		},
		Filters: []filter.Spec{year},
		GroupBy: "journal",
		Requests: []aggregate.Request{
			{Stat: aggregate.StatCount},
			{Stat: aggregate.StatMean, Column: "score"},
		},
		Head: 2,
	}
}

func TestRunPapers(t *testing.T) {
	for _, engine := range []aggregate.Engine{aggregate.MemoryEngine{}, aggregate.SQLiteEngine{}} {
		t.Run(engine.Name(), func(t *testing.T) {
			cfg := papersConfig(t, writePapers(t))
			cfg.Engine = engine

			r, err := Run(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			wantStages := []report.StageCount{
				{Stage: "load", Rows: 6},
				{Stage: "clean", Rows: 4},
				{Stage: "filter", Rows: 3},
			}
			if diff := cmp.Diff(wantStages, r.Stages); diff != "" {
				t.Errorf("stages mismatch (-want +got):\n%s", diff)
			}

			wantGroups := []aggregate.Group{
				{Key: table.TextValue("Cell"), Stats: map[string]float64{"count": 1, "mean(score)": 5}},
				{Key: table.TextValue("Lancet"), Stats: map[string]float64{"count": 1}},
				{Key: table.TextValue("Nature"), Stats: map[string]float64{"count": 1, "mean(score)": 4.5}},
			}
			if diff := cmp.Diff(wantGroups, r.Groups.Groups); diff != "" {
				t.Errorf("groups mismatch (-want +got):\n%s", diff)
			}
			if r.Groups.Engine != engine.Name() {
				t.Errorf("engine = %q, want %q", r.Groups.Engine, engine.Name())
			}

			if len(r.Head.Rows) != 2 {
				t.Errorf("len(head) = %d, want 2", len(r.Head.Rows))
			}
			wantCols := []string{"title", "abstract", "journal", "publish_time", "score", "abstract_words", "year"}
			if diff := cmp.Diff(wantCols, r.Head.Columns); diff != "" {
				t.Errorf("columns mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunOptionalOutputs(t *testing.T) {
	cfg := Config{
		Command:    "describe",
		Sources:    []string{writePapers(t)},
		Describe:   true,
		TopColumn:  "journal",
		TopN:       1,
		HistColumn: "score",
		Bins:       2,

		WordsColumn: "abstract",
		WordsN:      2,
	}
	r, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(r.Stages) != 2 {
		t.Errorf("stages = %+v, want load and clean only", r.Stages)
	}
	if r.Groups != nil {
		t.Errorf("groups = %+v, want nil without a group key", r.Groups)
	}
	if r.Head != nil {
		t.Errorf("head = %+v, want nil", r.Head)
	}

	if len(r.Describe) != 1 || r.Describe[0].Column != "score" || r.Describe[0].Count != 5 {
		t.Errorf("describe = %+v, want one summary of score over 5 values", r.Describe)
	}
	wantTop := []aggregate.ValueCount{{Value: table.TextValue("Nature"), Count: 3}}
	if diff := cmp.Diff(wantTop, r.TopValues.Counts); diff != "" {
		t.Errorf("top values mismatch (-want +got):\n%s", diff)
	}
	if r.TopWords == nil || len(r.TopWords.Counts) != 2 {
		t.Errorf("top words = %+v, want two words", r.TopWords)
	}
	total := 0
	for _, b := range r.Histogram.Bins {
		total += b.Count
	}
	if total != 5 {
		t.Errorf("histogram holds %d values, want 5", total)
	}
}

func TestRunErrors(t *testing.T) {
	path := writePapers(t)
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "missing source",
			cfg:  Config{Sources: []string{filepath.Join(t.TempDir(), "nope.csv")}},
			want: source.ErrSourceUnavailable,
		},
		{
			name: "unknown required column",
			cfg:  Config{Sources: []string{path}, Clean: clean.Cleaner{Required: []string{"doi"}}},
			want: table.ErrUnknownColumn,
		},
		{
			name: "non-numeric operand on numeric column",
			cfg: Config{Sources: []string{path}, Filters: []filter.Spec{
				{Column: "score", Predicate: filter.Equal{Value: table.TextValue("high")}},
			}},
			want: table.ErrTypeMismatch,
		},
		{
			name: "unknown group key",
			cfg:  Config{Sources: []string{path}, GroupBy: "venue"},
			want: table.ErrUnknownColumn,
		},
		{
			name: "top words of a number column",
			cfg:  Config{Sources: []string{path}, WordsColumn: "score", WordsN: 3},
			want: table.ErrTypeMismatch,
		},
		{
			name: "histogram of text",
			cfg:  Config{Sources: []string{path}, HistColumn: "journal", Bins: 3},
			want: table.ErrTypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Run(context.Background(), tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run error = %v, want %v", err, tt.want)
			}
			if r != nil {
				t.Errorf("Run returned a partial report: %+v", r)
			}
		})
	}
}

func TestRunEmptyInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), Config{Sources: []string{path}}); !errors.Is(err, loader.ErrEmptyInput) {
		t.Errorf("Run error = %v, want ErrEmptyInput", err)
	}
}

func TestRunLoadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := Config{Sources: []string{srv.URL + "/slow.csv"}, LoadTimeout: 50 * time.Millisecond}
	start := time.Now()
	_, err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want a timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %s, want it bounded by the load timeout", elapsed)
	}
}
