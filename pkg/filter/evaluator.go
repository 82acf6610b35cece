package filter

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

// ErrEvaluate marks a failure inside the predicate evaluator. It is not a
// property of one record and aborts the run.
var ErrEvaluate = errors.New("predicate evaluation failed")

// Matches reports whether doc satisfies the filter. A nil filter accepts
// every record.
func (c *Compiled) Matches(doc *evtx.Document) (matched bool, err error) {
	if c == nil {
		return true, nil
	}
	if doc == nil || doc.Root == nil {
		return false, nil
	}
	if !c.prefilter.Matches(doc) {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = errors.Wrap(ErrEvaluate, fmt.Sprint(r))
		}
	}()
	// Select clones the compiled query, so one Expr serves all goroutines.
	iter := c.expr.Select(newNavigator(doc))
	return iter.MoveNext(), nil
}

// MatchesExact evaluates the filter without the literal prefilter.
func (c *Compiled) MatchesExact(doc *evtx.Document) (bool, error) {
	if c == nil {
		return true, nil
	}
	bare := *c
	bare.prefilter = nil
	return bare.Matches(doc)
}
