// Package cli implements the command-line interface for tabx.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eunmann/tabx/internal/logctx"
	"github.com/eunmann/tabx/pkg/aggregate"
	"github.com/eunmann/tabx/pkg/clean"
	"github.com/eunmann/tabx/pkg/fileutil"
	"github.com/eunmann/tabx/pkg/filter"
	"github.com/eunmann/tabx/pkg/humanfmt"
	"github.com/eunmann/tabx/pkg/loader"
	"github.com/eunmann/tabx/pkg/logging"
	"github.com/eunmann/tabx/pkg/membudget"
	"github.com/eunmann/tabx/pkg/memdiag"
	"github.com/eunmann/tabx/pkg/pipeline"
	"github.com/eunmann/tabx/pkg/report"
	"github.com/eunmann/tabx/pkg/s3fetch"
	"github.com/eunmann/tabx/pkg/source"
	"github.com/eunmann/tabx/pkg/table"
)

const (
	envMemBudget = "TABX_MEM_BUDGET"
	envTimeout   = "TABX_TIMEOUT"
)

const usage = `usage: tabx <command> [options] <source>...
commands:
  explore   load, clean, filter, aggregate and report
  describe  load and report schema, missing counts and summary statistics
derivations (--word-count, --parse-time, --year-of) run in the order given.`

// Run executes the CLI with the given arguments, writing the report to
// stdout. Interrupts cancel the run.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return run(ctx, args, os.Stdout)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "explore":
		return runExplore(ctx, args[1:], stdout)
	case "describe":
		return runDescribe(ctx, args[1:], stdout)
	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
}

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, source.ErrSourceUnavailable):
		return 2
	case errors.Is(err, loader.ErrFormat):
		return 3
	case errors.Is(err, loader.ErrEmptyInput):
		return 4
	default:
		return 1
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	require   string
	kinds     listFlag
	head      int
	format    string
	out       string
	delimiter string
	timeout   time.Duration
	memBudget string
	tmpDir    string
	s3Region  string
	debug     bool
	humanLogs bool
}

func (c *commonFlags) register(fs *flag.FlagSet, head int) {
	fs.StringVar(&c.require, "require", "", "comma-separated columns that must be present; rows missing any are dropped (* for all)")
	fs.Var(&c.kinds, "kind", "declare a column kind as col:kind (text, integer, float, timestamp); repeatable")
	fs.IntVar(&c.head, "head", head, "number of leading rows to include in the report")
	fs.StringVar(&c.format, "format", "text", "report format: text or json")
	fs.StringVar(&c.out, "out", "", "write the report to this file instead of stdout")
	fs.StringVar(&c.delimiter, "delimiter", "", "field delimiter (default: by file suffix, sniffed otherwise)")
	fs.DurationVar(&c.timeout, "timeout", 0, "load timeout (env "+envTimeout+", default 60s)")
	fs.StringVar(&c.memBudget, "mem-budget", "", "memory budget for loaded tables, e.g. 4GiB (env "+envMemBudget+", default 50% of RAM)")
	fs.StringVar(&c.tmpDir, "tmp-dir", "", "directory for spooled remote sources")
	fs.StringVar(&c.s3Region, "s3-region", "", "AWS region for s3:// sources")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&c.humanLogs, "human-logs", false, "human-friendly console logs")
}

// setup initializes logging and builds the pipeline config shared by every
// command.
func (c *commonFlags) setup(ctx context.Context, command string, sources []string) (context.Context, pipeline.Config, error) {
	var cfg pipeline.Config
	if len(sources) == 0 {
		return ctx, cfg, errors.New("at least one source is required")
	}
	if _, err := newSink(c.format, nil); err != nil {
		return ctx, cfg, err
	}

	logging.Init(c.debug, c.humanLogs)
	ctx = logctx.NewRun(ctx, command)
	log := logctx.FromContext(ctx)

	budget, err := determineMemoryBudget(c.memBudget)
	if err != nil {
		return ctx, cfg, err
	}
	timeout, err := determineTimeout(c.timeout)
	if err != nil {
		return ctx, cfg, err
	}
	delim, err := parseDelimiter(c.delimiter)
	if err != nil {
		return ctx, cfg, err
	}
	kinds, err := parseKinds(c.kinds)
	if err != nil {
		return ctx, cfg, err
	}
	if c.head < 0 {
		return ctx, cfg, errors.New("--head must not be negative")
	}

	log.Info().
		Strs("sources", sources).
		Uint64("mem_budget", budget.Total()).
		Str("mem_budget_h", humanfmt.BytesUint64(budget.Total())).
		Str("mem_budget_source", string(budget.Source())).
		Dur("load_timeout", timeout).
		Msg("starting run")

	cfg = pipeline.Config{
		Command: command,
		Sources: sources,
		Load: loader.Options{
			Delimiter: delim,
			Kinds:     kinds,
			Budget:    budget,
			Opener: source.NewOpener(source.Config{
				TempDir:  c.tmpDir,
				S3Config: s3fetch.Config{Region: c.s3Region},
			}),
		},
		LoadTimeout: timeout,
		Clean:       clean.Cleaner{Required: splitList(c.require)},
		Head:        c.head,
		Tracker:     memdiag.NewTracker(memdiag.DefaultConfig(), budget),
	}
	return ctx, cfg, nil
}

func runExplore(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("explore", flag.ContinueOnError)
	var common commonFlags
	common.register(fs, 5)

	var filters, stats listFlag
	var derived []derivationArg
	fs.Var(&derivationFlag{name: "word-count", args: &derived}, "word-count", "derive a word count column as src:dst; repeatable")
	fs.Var(&derivationFlag{name: "year-of", args: &derived}, "year-of", "derive a year column as src:dst; repeatable")
	fs.Var(&derivationFlag{name: "parse-time", args: &derived}, "parse-time", "derive a timestamp column as src:dst; repeatable")
	fs.Var(&filters, "filter", "row filter col=lo:hi, col=lo:, col=:hi or col==value; repeatable")
	yearRange := fs.String("year-range", "", "keep rows whose year column lies in lo:hi")
	yearColumn := fs.String("year-column", "year", "column used by --year-range")
	groupBy := fs.String("group-by", "", "group rows by this column")
	fs.Var(&stats, "stat", "statistic per group: count, count:col or mean:col; repeatable")
	engine := fs.String("engine", "memory", "aggregation engine: memory or sqlite")
	sqlitePath := fs.String("sqlite-db", "", "database file for the sqlite engine (default in-memory)")
	top := fs.String("top", "", "report the most frequent values of this column")
	topN := fs.Int("top-n", 10, "number of values for --top")
	words := fs.String("top-words", "", "report the most frequent words of this text column")
	wordsN := fs.Int("words-n", 20, "number of words for --top-words")
	hist := fs.String("hist", "", "report a histogram of this numeric column")
	bins := fs.Int("bins", 15, "number of histogram bins")
	describe := fs.Bool("describe", false, "include summary statistics of numeric columns")

	if err := fs.Parse(args); err != nil {
		return err
	}

	derivations, err := parseDerivations(derived)
	if err != nil {
		return err
	}
	specs, err := parseFilters(filters, *yearRange, *yearColumn)
	if err != nil {
		return err
	}
	requests, err := parseStats(stats)
	if err != nil {
		return err
	}
	if len(requests) > 0 && *groupBy == "" {
		return errors.New("--stat requires --group-by")
	}
	eng, err := newEngine(*engine, *sqlitePath)
	if err != nil {
		return err
	}
	if *hist != "" && *bins <= 0 {
		return errors.New("--bins must be positive")
	}

	ctx, cfg, err := common.setup(ctx, "explore", fs.Args())
	if err != nil {
		return err
	}
	cfg.Clean.Derive = derivations
	cfg.Filters = specs
	cfg.GroupBy = *groupBy
	cfg.Requests = requests
	cfg.Engine = eng
	cfg.TopColumn = *top
	cfg.TopN = *topN
	cfg.WordsColumn = *words
	cfg.WordsN = *wordsN
	cfg.HistColumn = *hist
	cfg.Bins = *bins
	cfg.Describe = *describe

	return execute(ctx, cfg, &common, stdout)
}

func runDescribe(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	var common commonFlags
	common.register(fs, 0)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cfg, err := common.setup(ctx, "describe", fs.Args())
	if err != nil {
		return err
	}
	cfg.Describe = true
	return execute(ctx, cfg, &common, stdout)
}

func execute(ctx context.Context, cfg pipeline.Config, common *commonFlags, stdout io.Writer) error {
	cfg.Tracker.Start()
	defer cfg.Tracker.Stop()

	start := time.Now()
	r, err := pipeline.Run(ctx, cfg)
	if err != nil {
		log := logctx.FromContext(ctx)
		log.Error().Err(err).Msg("run failed")
		return err
	}

	write := func(w io.Writer) error {
		sink, err := newSink(common.format, w)
		if err != nil {
			return err
		}
		return sink.Write(ctx, r)
	}
	if common.out != "" {
		err = fileutil.WriteAtomic(common.out, write)
	} else {
		err = write(stdout)
	}
	if err != nil {
		return err
	}

	ev := logging.PhaseComplete(logctx.FromContext(ctx), "run", time.Since(start)).
		Str("format", common.format)
	if common.out != "" {
		ev.Str("out", common.out)
	}
	ev.Log("run complete")
	return nil
}

func newSink(format string, w io.Writer) (report.Sink, error) {
	switch format {
	case "text":
		return report.TextSink{W: w}, nil
	case "json":
		return report.JSONSink{W: w}, nil
	default:
		return nil, fmt.Errorf("invalid --format %q: want text or json", format)
	}
}

func newEngine(name, dbPath string) (aggregate.Engine, error) {
	switch name {
	case "memory":
		if dbPath != "" {
			return nil, errors.New("--sqlite-db requires --engine sqlite")
		}
		return aggregate.MemoryEngine{}, nil
	case "sqlite":
		return aggregate.SQLiteEngine{DBPath: dbPath}, nil
	default:
		return nil, fmt.Errorf("invalid --engine %q: want memory or sqlite", name)
	}
}

// determineMemoryBudget resolves the memory budget with priority:
// CLI flag > TABX_MEM_BUDGET > 50% of system RAM.
func determineMemoryBudget(cliValue string) (*membudget.Budget, error) {
	if cliValue != "" {
		n, err := membudget.ParseHumanSize(cliValue)
		if err != nil {
			return nil, fmt.Errorf("invalid --mem-budget: %w", err)
		}
		return membudget.New(membudget.Config{TotalBytes: n, Source: membudget.BudgetSourceCLI}), nil
	}
	if env := os.Getenv(envMemBudget); env != "" {
		n, err := membudget.ParseHumanSize(env)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envMemBudget, err)
		}
		return membudget.New(membudget.Config{TotalBytes: n, Source: membudget.BudgetSourceEnv}), nil
	}
	return membudget.NewFromSystemRAM(), nil
}

// determineTimeout resolves the load timeout with priority:
// CLI flag > TABX_TIMEOUT > pipeline.DefaultLoadTimeout.
func determineTimeout(cliValue time.Duration) (time.Duration, error) {
	if cliValue < 0 {
		return 0, errors.New("--timeout must not be negative")
	}
	if cliValue > 0 {
		return cliValue, nil
	}
	if env := os.Getenv(envTimeout); env != "" {
		d, err := time.ParseDuration(env)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("invalid %s %q: want a positive duration such as 90s", envTimeout, env)
		}
		return d, nil
	}
	return pipeline.DefaultLoadTimeout, nil
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case `\t`, "tab":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid --delimiter %q: want a single character", s)
	}
	return r, nil
}

func parseKinds(vals []string) (map[string]table.Kind, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	kinds := make(map[string]table.Kind, len(vals))
	for _, v := range vals {
		col, name, err := splitPair("--kind", v)
		if err != nil {
			return nil, err
		}
		k, err := table.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("invalid --kind %q: %w", v, err)
		}
		kinds[col] = k
	}
	return kinds, nil
}

// parseDerivations builds derivations in command-line order, so a later
// flag may read a column an earlier one produced.
func parseDerivations(args []derivationArg) ([]clean.Derivation, error) {
	out := make([]clean.Derivation, 0, len(args))
	for _, a := range args {
		src, dst, err := splitPair("--"+a.flag, a.value)
		if err != nil {
			return nil, err
		}
		switch a.flag {
		case "word-count":
			out = append(out, clean.WordCount{Source: src, Dest: dst})
		case "parse-time":
			out = append(out, clean.ParseTime{Source: src, Dest: dst})
		case "year-of":
			out = append(out, clean.YearOf{Source: src, Dest: dst})
		default:
			return nil, fmt.Errorf("unknown derivation --%s", a.flag)
		}
	}
	return out, nil
}

func parseFilters(exprs []string, yearRange, yearColumn string) ([]filter.Spec, error) {
	specs := make([]filter.Spec, 0, len(exprs)+1)
	for _, e := range exprs {
		s, err := filter.Parse(e)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	if yearRange != "" {
		if yearColumn == "" {
			return nil, errors.New("--year-range requires --year-column")
		}
		s, err := filter.Parse(yearColumn + "=" + yearRange)
		if err != nil {
			return nil, fmt.Errorf("invalid --year-range: %w", err)
		}
		if _, ok := s.Predicate.(filter.Range); !ok {
			return nil, fmt.Errorf("invalid --year-range %q: want lo:hi", yearRange)
		}
		specs = append(specs, s)
	}
	return specs, nil
}

func parseStats(vals []string) ([]aggregate.Request, error) {
	reqs := make([]aggregate.Request, 0, len(vals))
	for _, v := range vals {
		r, err := aggregate.ParseRequest(v)
		if err != nil {
			return nil, fmt.Errorf("invalid --stat: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// splitPair splits "a:b" into its two non-empty halves.
func splitPair(flagName, v string) (string, string, error) {
	a, b, ok := strings.Cut(v, ":")
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if !ok || a == "" || b == "" {
		return "", "", fmt.Errorf("invalid %s %q: want src:dst", flagName, v)
	}
	return a, b, nil
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// derivationArg is one derivation flag occurrence.
type derivationArg struct {
	flag  string
	value string
}

// derivationFlag appends to a list shared by all derivation flags.
type derivationFlag struct {
	name string
	args *[]derivationArg
}

func (d *derivationFlag) String() string {
	if d == nil || d.args == nil {
		return ""
	}
	var vals []string
	for _, a := range *d.args {
		if a.flag == d.name {
			vals = append(vals, a.value)
		}
	}
	return strings.Join(vals, ",")
}

func (d *derivationFlag) Set(v string) error {
	*d.args = append(*d.args, derivationArg{flag: d.name, value: v})
	return nil
}

// listFlag is a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}
