package filter

import (
	"strings"

	"github.com/antchfx/xpath"
	"github.com/pkg/errors"
)

// Fixed layout of a Windows event record.
const (
	RecordTag     = "Event"
	SystemSection = "System"
	DataSection   = "EventData"
	DataEntryTag  = "Data"
	DataNameAttr  = "Name"
)

// Compiled is a filter ready for evaluation. It is immutable once built
// and safe to share between goroutines.
type Compiled struct {
	predicate string
	root      string
	expr      *xpath.Expr
	prefilter *Prefilter
	spec      Spec
}

// Predicate is the full path predicate, for diagnostics.
func (c *Compiled) Predicate() string { return c.predicate }

// Root is the record element the predicate is anchored at.
func (c *Compiled) Root() string { return c.root }

// Prefilter returns the literal prefilter, nil when disabled.
func (c *Compiled) Prefilter() *Prefilter { return c.prefilter }

// Spec returns the selectors and modes the filter was compiled from.
func (c *Compiled) Spec() Spec { return c.spec }

type compileOptions struct {
	prefilter bool
}

// Option tweaks Compile.
type Option func(*compileOptions)

// WithPrefilter enables or disables the literal prefilter (default on).
func WithPrefilter(enable bool) Option {
	return func(o *compileOptions) { o.prefilter = enable }
}

// Compile turns a Spec into a Compiled filter. A spec without selectors
// compiles to nil: there is nothing to evaluate and every record passes.
func Compile(spec Spec, opts ...Option) (*Compiled, error) {
	o := compileOptions{prefilter: true}
	for _, fn := range opts {
		fn(&o)
	}
	if spec.Empty() {
		return nil, nil
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid filter")
	}

	predicate := BuildPredicate(spec)
	expr, err := xpath.Compile(predicate)
	if err != nil {
		return nil, errors.Wrapf(err, "compile predicate %s", predicate)
	}

	c := &Compiled{
		predicate: predicate,
		root:      RecordTag,
		expr:      expr,
		spec:      spec,
	}
	if o.prefilter {
		c.prefilter = NewPrefilter(spec)
	}
	return c, nil
}

// BuildPredicate renders the predicate text for spec without parsing it.
func BuildPredicate(spec Spec) string {
	joiner := " and "
	if spec.Combine == Or {
		joiner = " or "
	}
	terms := make([]string, 0, len(spec.Selectors))
	for _, sel := range spec.Selectors {
		terms = append(terms, selectorTerm(sel, spec.IgnoreCase))
	}
	return "//" + RecordTag + "[" + strings.Join(terms, joiner) + "]"
}

func selectorTerm(sel Selector, ignoreCase bool) string {
	if sel.Kind == DataSelector {
		return dataTerm(sel.Name, sel.Value, ignoreCase)
	}
	field := SystemSection + "/" + sel.Field.Path()
	if ignoreCase {
		// compare per node so an absent field stays unequal to ''
		return field + "[" + foldExpr(".") + "=" + quote(foldASCII(sel.Value)) + "]"
	}
	return field + "=" + quote(sel.Value)
}

func dataTerm(name, value string, ignoreCase bool) string {
	entry := DataSection + "/" + DataEntryTag
	attr := "@" + DataNameAttr
	if ignoreCase {
		return entry + "[" + foldExpr(attr) + "=" + quote(foldASCII(name)) +
			" and " + foldExpr(".") + "=" + quote(foldASCII(value)) + "]"
	}
	return entry + "[" + attr + "=" + quote(name) + "]=" + quote(value)
}
