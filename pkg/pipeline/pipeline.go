// Package pipeline runs load, clean, filter and aggregate stages and
// assembles the report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/eunmann/tabx/internal/logctx"
	"github.com/eunmann/tabx/pkg/aggregate"
	"github.com/eunmann/tabx/pkg/clean"
	"github.com/eunmann/tabx/pkg/filter"
	"github.com/eunmann/tabx/pkg/loader"
	"github.com/eunmann/tabx/pkg/logging"
	"github.com/eunmann/tabx/pkg/memdiag"
	"github.com/eunmann/tabx/pkg/report"
	"github.com/eunmann/tabx/pkg/table"
)

// DefaultLoadTimeout bounds the load stage when Config.LoadTimeout is zero.
const DefaultLoadTimeout = 60 * time.Second

// Config describes one pipeline run. Zero-valued optional fields skip
// their stage.
type Config struct {
	Command string
	Sources []string
	Load    loader.Options

	// LoadTimeout bounds the whole load stage. Default DefaultLoadTimeout.
	LoadTimeout time.Duration

	Clean   clean.Cleaner
	Filters []filter.Spec

	GroupBy  string
	Requests []aggregate.Request
	Engine   aggregate.Engine

	Describe bool

	TopColumn string
	TopN      int

	WordsColumn string
	WordsN      int

	HistColumn string
	Bins       int

	Head int

	// Tracker samples memory at each stage boundary. Nil disables it.
	Tracker *memdiag.Tracker
}

// Run executes the pipeline. Any stage failure aborts the run and no
// report is returned.
func Run(ctx context.Context, cfg Config) (*report.Report, error) {
	log := logctx.FromContext(ctx)
	r := &report.Report{
		Command: cfg.Command,
		RunID:   logctx.RunID(ctx),
		Sources: cfg.Sources,
	}

	cfg.Tracker.SetPhase("load")
	tbl, err := load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.Stages = append(r.Stages, report.StageCount{Stage: "load", Rows: tbl.NumRows()})

	cfg.Tracker.SetPhase("clean")
	start := time.Now()
	in := tbl.NumRows()
	if tbl, err = cfg.Clean.Apply(tbl); err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	logging.PhaseComplete(log, "clean", time.Since(start)).
		Rows(in, tbl.NumRows()).
		Int("derived", len(cfg.Clean.Derive)).
		Strs("required", cfg.Clean.Required).
		Log("clean complete")
	r.Stages = append(r.Stages, report.StageCount{Stage: "clean", Rows: tbl.NumRows()})

	if len(cfg.Filters) > 0 {
		cfg.Tracker.SetPhase("filter")
		start = time.Now()
		in = tbl.NumRows()
		if tbl, err = filter.ApplyAll(tbl, cfg.Filters...); err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		exprs := make([]string, len(cfg.Filters))
		for i, f := range cfg.Filters {
			exprs[i] = f.String()
		}
		logging.PhaseComplete(log, "filter", time.Since(start)).
			Rows(in, tbl.NumRows()).
			Strs("filters", exprs).
			Log("filter complete")
		r.Stages = append(r.Stages, report.StageCount{Stage: "filter", Rows: tbl.NumRows()})
	}

	cfg.Tracker.SetPhase("aggregate")
	if err := summarize(ctx, cfg, tbl, r); err != nil {
		return nil, err
	}
	r.Schema = report.SchemaOf(tbl)
	r.Head = report.SampleOf(tbl, cfg.Head)
	return r, nil
}

func load(ctx context.Context, cfg Config) (*table.Table, error) {
	timeout := cfg.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	tbl, err := loader.LoadAll(loadCtx, cfg.Sources, cfg.Load)
	if err != nil {
		if loadCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("load: timed out after %s: %w", timeout, err)
		}
		return nil, fmt.Errorf("load: %w", err)
	}
	logging.PhaseComplete(logctx.FromContext(ctx), "load", time.Since(start)).
		Int("sources", len(cfg.Sources)).
		Count("rows", tbl.NumRows()).
		Int("columns", tbl.NumCols()).
		Log("load complete")
	return tbl, nil
}

func summarize(ctx context.Context, cfg Config, tbl *table.Table, r *report.Report) error {
	start := time.Now()
	var did []string

	if cfg.GroupBy != "" {
		res, err := aggregate.GroupBy(ctx, tbl, cfg.GroupBy, cfg.Requests, cfg.Engine)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		r.Groups = res
		did = append(did, "group_by")
	}

	if cfg.Describe {
		r.Describe = aggregate.Describe(tbl)
		did = append(did, "describe")
	}

	if cfg.TopColumn != "" {
		counts, err := aggregate.ValueCounts(tbl, cfg.TopColumn, cfg.TopN)
		if err != nil {
			return fmt.Errorf("value counts: %w", err)
		}
		r.TopValues = &report.TopValues{Column: cfg.TopColumn, Counts: counts}
		did = append(did, "top_values")
	}

	if cfg.WordsColumn != "" {
		words, err := aggregate.TopWords(tbl, cfg.WordsColumn, cfg.WordsN)
		if err != nil {
			return fmt.Errorf("top words: %w", err)
		}
		r.TopWords = &report.TopValues{Column: cfg.WordsColumn, Counts: words}
		did = append(did, "top_words")
	}

	if cfg.HistColumn != "" {
		h, err := aggregate.NewHistogram(tbl, cfg.HistColumn, cfg.Bins)
		if err != nil {
			return fmt.Errorf("histogram: %w", err)
		}
		r.Histogram = h
		did = append(did, "histogram")
	}

	if len(did) == 0 {
		return nil
	}
	ev := logging.PhaseComplete(logctx.FromContext(ctx), "aggregate", time.Since(start)).
		Count("rows", tbl.NumRows()).
		Strs("outputs", did)
	if r.Groups != nil {
		ev.Str("engine", r.Groups.Engine).Count("groups", len(r.Groups.Groups))
	}
	ev.Log("aggregate complete")
	return nil
}
