// Package search runs records through the filter and grep stages and
// hands matches to the emitter and the optional sink.
package search

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/PhucNguyen204/evtxgrep/internal/decoder"
	"github.com/PhucNguyen204/evtxgrep/pkg/emit"
	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
	"github.com/PhucNguyen204/evtxgrep/pkg/filter"
	"github.com/PhucNguyen204/evtxgrep/pkg/grep"
)

// ErrRejected is wrapped by sinks that cannot store one particular
// record. The record is counted as an error and the run goes on.
var ErrRejected = errors.New("record rejected")

// Sink receives every emitted match.
type Sink interface {
	SaveMatch(ctx context.Context, rec *evtx.Record, info emit.Info) error
}

type Options struct {
	Filter    *filter.Compiled
	Grep      *grep.Matcher
	Emitter   *emit.Emitter
	Sink      Sink
	Workers   int
	CountOnly bool
}

// Stats counts what happened to the records of a run.
type Stats struct {
	Records int64 `json:"records"`
	Matched int64 `json:"matched"`
	Skipped int64 `json:"skipped"`
	Errors  int64 `json:"errors"`
}

type counters struct {
	records, matched, skipped, errors atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Records: c.records.Load(),
		Matched: c.matched.Load(),
		Skipped: c.skipped.Load(),
		Errors:  c.errors.Load(),
	}
}

type Searcher struct {
	opts  Options
	stats counters
}

func New(opts Options) (*Searcher, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Emitter == nil && !opts.CountOnly {
		return nil, errors.New("search: an emitter is required unless counting")
	}
	if opts.Workers > 1 && !opts.CountOnly && !opts.Emitter.Options().Sorted {
		return nil, errors.New("search: parallel workers require sorted output")
	}
	return &Searcher{opts: opts}, nil
}

// Stats returns the totals over every Run so far.
func (s *Searcher) Stats() Stats { return s.stats.snapshot() }

// Run consumes dec until EOF. It does not flush the emitter, so several
// inputs can share one sorted output.
func (s *Searcher) Run(ctx context.Context, dec decoder.Decoder) (Stats, error) {
	before := s.stats.snapshot()
	var err error
	if s.opts.Workers > 1 {
		err = s.runParallel(ctx, dec)
	} else {
		err = s.runSequential(ctx, dec)
	}
	after := s.stats.snapshot()
	delta := Stats{
		Records: after.Records - before.Records,
		Matched: after.Matched - before.Matched,
		Skipped: after.Skipped - before.Skipped,
		Errors:  after.Errors - before.Errors,
	}
	return delta, err
}

// next returns the next usable record, skipping (and logging) records the
// decoder could not use. It returns io.EOF at the end of input.
func (s *Searcher) next(ctx context.Context, dec decoder.Decoder) (*evtx.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := dec.Next()
		if err == nil {
			return rec, nil
		}
		if err == io.EOF {
			return nil, io.EOF
		}
		if !decoder.IsRecordError(err) {
			return nil, err
		}
		s.stats.skipped.Add(1)
		log.Warn().Err(err).Msg("skipping record")
	}
}

func (s *Searcher) runSequential(ctx context.Context, dec decoder.Decoder) error {
	for {
		rec, err := s.next(ctx, dec)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.process(ctx, rec); err != nil {
			return err
		}
	}
}

func (s *Searcher) runParallel(ctx context.Context, dec decoder.Decoder) error {
	eg, egCtx := errgroup.WithContext(ctx)
	records := make(chan *evtx.Record, s.opts.Workers*4)

	eg.Go(func() error {
		defer close(records)
		for {
			rec, err := s.next(egCtx, dec)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case records <- rec:
			case <-egCtx.Done():
				return egCtx.Err()
			}
		}
	})
	for i := 0; i < s.opts.Workers; i++ {
		eg.Go(func() error {
			for rec := range records {
				if err := s.process(egCtx, rec); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

// process runs one record through the stages. Only fatal errors are
// returned; per-record problems are logged and counted.
func (s *Searcher) process(ctx context.Context, rec *evtx.Record) error {
	s.stats.records.Add(1)

	res, err := Evaluate(rec, s.opts.Filter, s.opts.Grep)
	if err != nil {
		if IsRecordError(err) {
			s.stats.skipped.Add(1)
			log.Warn().Err(err).Uint64("record_id", rec.ID).Msg("skipping record")
			return nil
		}
		return err
	}
	if !res.Matched {
		return nil
	}
	s.stats.matched.Add(1)
	if s.opts.CountOnly {
		return nil
	}

	doc := res.Document
	if doc == nil && s.opts.Emitter.Options().Format != emit.FormatRaw {
		if doc, err = buildDocument(rec); err != nil {
			return err
		}
	}
	info, err := s.opts.Emitter.Serialize(rec, doc)
	if err != nil {
		s.stats.errors.Add(1)
		log.Warn().Err(err).Uint64("record_id", rec.ID).Msg("cannot serialize record")
		return nil
	}
	if err := s.opts.Emitter.Emit(info); err != nil {
		return err
	}
	if s.opts.Sink != nil {
		if err := s.opts.Sink.SaveMatch(ctx, rec, info); err != nil {
			if errors.Is(err, ErrRejected) {
				s.stats.errors.Add(1)
				log.Warn().Err(err).Uint64("record_id", rec.ID).Msg("match not stored")
				return nil
			}
			return errors.Wrapf(err, "record %d: save match", rec.ID)
		}
	}
	return nil
}
