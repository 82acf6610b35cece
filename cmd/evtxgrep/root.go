package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/PhucNguyen204/evtxgrep/internal/config"
	"github.com/PhucNguyen204/evtxgrep/internal/decoder"
	"github.com/PhucNguyen204/evtxgrep/internal/logging"
	"github.com/PhucNguyen204/evtxgrep/internal/search"
	"github.com/PhucNguyen204/evtxgrep/internal/sink"
	"github.com/PhucNguyen204/evtxgrep/pkg/emit"
	"github.com/PhucNguyen204/evtxgrep/pkg/filter"
	"github.com/PhucNguyen204/evtxgrep/pkg/grep"
)

const dsnEnv = "EVTXGREP_PG_DSN"

type rootOptions struct {
	fields     map[filter.FieldKind]*string
	data       []string
	or         bool
	ignoreCase bool
	filterFile string

	idRegex   string
	dataRegex string

	format      string
	sorted      bool
	width       int
	header      bool
	workers     int
	count       bool
	noPrefilter bool
	inputFormat string
	showFilter  bool
	configPath  string
	logLevel    string
	pgDSN       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{fields: make(map[filter.FieldKind]*string)}
	cmd := &cobra.Command{
		Use:   "evtxgrep [flags] FILE...",
		Short: "Search Windows event log exports by field values or regular expressions",
		Long: `evtxgrep reads rendered event records (XML or JSON lines, optionally gzip or
zstd compressed, "-" for stdin) and prints the records that match.

Field selectors (--event-id, --provider, --data Name:Value, ...) are combined
with AND unless --or is given. -I/--id and -D/--data-regex match regular
expressions against the event id and the data section.`,
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	for _, kind := range filter.FieldKinds() {
		opts.fields[kind] = f.String(kind.FlagName(), "", fmt.Sprintf("match System %s", kind.Path()))
	}
	f.StringArrayVar(&opts.data, "data", nil, "match an EventData entry, as Name:Value (repeatable)")
	f.BoolVar(&opts.or, "or", false, "a record matches if any selector matches")
	f.BoolVarP(&opts.ignoreCase, "ignore-case", "i", false, "compare ASCII letters case-insensitively")
	f.StringVar(&opts.filterFile, "filter-file", "", "YAML file, or directory of them, with additional selectors")

	f.StringVarP(&opts.idRegex, "id", "I", "", "regular expression for the event id")
	f.StringVarP(&opts.dataRegex, "data-regex", "D", "", "regular expression for data section values")

	f.StringVar(&opts.format, "format", "tree", "output format: tree, table or raw")
	f.BoolVar(&opts.sorted, "sorted", false, "buffer matches and print them ordered by record id")
	f.IntVar(&opts.width, "width", emit.DefaultWidth, "line width for inline content in tree output")
	f.BoolVar(&opts.header, "header", false, "print a header row in table output")
	f.IntVar(&opts.workers, "workers", 1, "parallel evaluation workers (needs --sorted or --count)")
	f.BoolVarP(&opts.count, "count", "c", false, "print only the number of matching records")
	f.BoolVar(&opts.noPrefilter, "no-prefilter", false, "disable the literal prefilter")
	f.StringVar(&opts.inputFormat, "input-format", "auto", "input format: auto, xml or json")
	f.BoolVar(&opts.showFilter, "show-filter", false, "print the compiled predicate to stderr")
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	f.StringVar(&opts.pgDSN, "pg-dsn", getenv(dsnEnv, ""), "store matches in Postgres (env "+dsnEnv+")")
	return cmd
}

// loadConfig reads the config file, if any, and applies changed flags.
func loadConfig(flags *pflag.FlagSet, opts *rootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if flags.Changed("format") {
		cfg = cfg.WithFormat(opts.format)
	}
	if flags.Changed("sorted") {
		cfg = cfg.WithSorted(opts.sorted)
	}
	if flags.Changed("width") {
		cfg.Width = opts.width
	}
	if flags.Changed("header") {
		cfg.Header = opts.header
	}
	if flags.Changed("workers") {
		cfg = cfg.WithWorkers(opts.workers)
	}
	if flags.Changed("no-prefilter") {
		cfg = cfg.WithPrefilter(!opts.noPrefilter)
	}
	if flags.Changed("input-format") {
		cfg.InputFormat = opts.inputFormat
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("filter-file") {
		cfg.FilterFile = opts.filterFile
	}
	if opts.pgDSN != "" {
		cfg = cfg.WithDSN(opts.pgDSN)
	}
	return cfg, cfg.Validate()
}

// buildSpec collects flag selectors in field order, then the filter file's.
func buildSpec(flags *pflag.FlagSet, opts *rootOptions, filterFile string) (filter.Spec, error) {
	var spec filter.Spec
	if filterFile != "" {
		var err error
		if spec, err = filter.LoadSpecFile(filterFile); err != nil {
			return spec, err
		}
	}
	var sels []filter.Selector
	for _, kind := range filter.FieldKinds() {
		if flags.Changed(kind.FlagName()) {
			sels = append(sels, filter.SystemField(kind, *opts.fields[kind]))
		}
	}
	for _, arg := range opts.data {
		sel, err := filter.ParseDataField(arg)
		if err != nil {
			return spec, err
		}
		sels = append(sels, sel)
	}
	out := filter.Spec{Selectors: sels, Combine: spec.Combine, IgnoreCase: spec.IgnoreCase}.Merge(spec)
	if opts.or {
		out.Combine = filter.Or
	}
	if opts.ignoreCase {
		out.IgnoreCase = true
	}
	return out, nil
}

func buildGrep(flags *pflag.FlagSet, opts *rootOptions) (*grep.Matcher, error) {
	var gopts []grep.Option
	if flags.Changed("id") {
		gopts = append(gopts, grep.WithID(opts.idRegex))
	}
	if flags.Changed("data-regex") {
		gopts = append(gopts, grep.WithData(opts.dataRegex))
	}
	return grep.New(gopts...)
}

func run(cmd *cobra.Command, opts *rootOptions, inputs []string) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	flags := cmd.Flags()

	cfg, err := loadConfig(flags, opts)
	if err != nil {
		return err
	}
	if err := logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
		return err
	}

	spec, err := buildSpec(flags, opts, cfg.FilterFile)
	if err != nil {
		return err
	}
	compiled, err := filter.Compile(spec, filter.WithPrefilter(cfg.Prefilter))
	if err != nil {
		return err
	}
	matcher, err := buildGrep(flags, opts)
	if err != nil {
		return err
	}
	inputFormat, err := decoder.ParseFormat(cfg.InputFormat)
	if err != nil {
		return err
	}

	predicate := ""
	if compiled != nil {
		predicate = compiled.Predicate()
	}
	if opts.showFilter {
		showFilter(cmd.ErrOrStderr(), compiled, matcher)
	}

	var em *emit.Emitter
	if !opts.count {
		em = emit.New(cmd.OutOrStdout(), cfg.EmitOptions())
	}
	sopts := search.Options{
		Filter:    compiled,
		Grep:      matcher,
		Emitter:   em,
		Workers:   cfg.Workers,
		CountOnly: opts.count,
	}

	var searcher *search.Searcher
	if cfg.Postgres.DSN != "" && !opts.count {
		pg, serr := openSink(ctx, cfg, inputs, predicate)
		if serr != nil {
			return serr
		}
		defer pg.Close()
		defer func() { err = finishScan(ctx, pg, searcher, err) }()
		sopts.Sink = pg
	}

	if searcher, err = search.New(sopts); err != nil {
		return err
	}
	for _, path := range inputs {
		if err := searchFile(ctx, searcher, path, inputFormat); err != nil {
			return err
		}
	}
	if em != nil {
		if err := em.Flush(); err != nil {
			return err
		}
	}

	total := searcher.Stats()
	log.Info().
		Int64("records", total.Records).
		Int64("matched", total.Matched).
		Int64("skipped", total.Skipped).
		Int64("errors", total.Errors).
		Msg("done")
	if opts.count {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), total.Matched)
		return errors.Wrap(err, "write count")
	}
	return nil
}

func searchFile(ctx context.Context, s *search.Searcher, path string, format decoder.Format) error {
	rc, err := decoder.Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	dec, err := decoder.New(rc, format)
	if err != nil {
		return errors.Wrap(err, path)
	}
	stats, err := s.Run(ctx, dec)
	if err != nil {
		return errors.Wrap(err, path)
	}
	log.Debug().Str("input", path).Int64("records", stats.Records).Int64("matched", stats.Matched).Msg("input done")
	return nil
}

func openSink(ctx context.Context, cfg config.Config, inputs []string, predicate string) (*sink.Postgres, error) {
	pg, err := sink.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	if err := pg.Begin(ctx, inputs, predicate); err != nil {
		_ = pg.Close()
		return nil, err
	}
	log.Info().Str("scan_id", pg.ScanID().String()).Msg("recording matches in postgres")
	return pg, nil
}

type scanFinisher interface {
	Finish(ctx context.Context, stats search.Stats, runErr error) error
}

// finishScan closes the scan row whatever the outcome of the run, so
// failed and interrupted scans are marked too.
func finishScan(ctx context.Context, f scanFinisher, s *search.Searcher, runErr error) error {
	var stats search.Stats
	if s != nil {
		stats = s.Stats()
	}
	if err := f.Finish(context.WithoutCancel(ctx), stats, runErr); err != nil {
		if runErr != nil {
			log.Warn().Err(err).Msg("cannot mark scan as failed")
			return runErr
		}
		return err
	}
	return runErr
}

func showFilter(w io.Writer, compiled *filter.Compiled, matcher *grep.Matcher) {
	if compiled == nil {
		fmt.Fprintln(w, "filter: none")
	} else {
		fmt.Fprintf(w, "filter: %s\n", compiled.Predicate())
		if p := compiled.Prefilter(); p != nil {
			fmt.Fprintf(w, "prefilter: %s\n", p.Stats().StrategyName())
		}
	}
	if matcher.Active() {
		fmt.Fprintf(w, "grep: %s\n", matcher)
	}
}
