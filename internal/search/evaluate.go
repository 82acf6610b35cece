package search

import (
	"github.com/pkg/errors"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
	"github.com/PhucNguyen204/evtxgrep/pkg/filter"
	"github.com/PhucNguyen204/evtxgrep/pkg/grep"
)

// Result is the match decision for one record. Document is set when the
// filter stage had to build it.
type Result struct {
	Matched  bool
	Document *evtx.Document
}

type recordError struct {
	id  uint64
	err error
}

func (e *recordError) Error() string { return errors.Wrapf(e.err, "record %d", e.id).Error() }
func (e *recordError) Unwrap() error { return e.err }

// IsRecordError reports whether err concerns a single record only.
func IsRecordError(err error) bool {
	var re *recordError
	return errors.As(err, &re)
}

// Evaluate decides whether rec passes both stages. The grep stage runs
// first and never builds a document. Tree builder contract violations and
// evaluator failures are returned as fatal errors.
func Evaluate(rec *evtx.Record, f *filter.Compiled, g *grep.Matcher) (Result, error) {
	if g.Active() {
		ok, err := g.MatchRecord(rec)
		if err != nil {
			return Result{}, &recordError{id: rec.ID, err: err}
		}
		if !ok {
			return Result{}, nil
		}
	}
	if f == nil {
		return Result{Matched: true}, nil
	}
	doc, err := buildDocument(rec)
	if err != nil {
		return Result{}, err
	}
	ok, err := f.Matches(doc)
	if err != nil {
		return Result{}, errors.Wrapf(err, "record %d", rec.ID)
	}
	return Result{Matched: ok, Document: doc}, nil
}

func buildDocument(rec *evtx.Record) (*evtx.Document, error) {
	doc, err := rec.Document()
	if err != nil {
		return nil, errors.Wrapf(err, "record %d: tree builder", rec.ID)
	}
	return doc, nil
}
