package filter

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Combine joins selectors.
type Combine int

const (
	And Combine = iota
	Or
)

func (c Combine) String() string {
	if c == Or {
		return "or"
	}
	return "and"
}

// ParseCombine accepts "and"/"or" in any case; empty means And.
func ParseCombine(s string) (Combine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "and", "all":
		return And, nil
	case "or", "any":
		return Or, nil
	default:
		return And, errors.Errorf("unknown combine mode %q (want and|or)", s)
	}
}

// SelectorKind tags a Selector.
type SelectorKind int

const (
	SystemSelector SelectorKind = iota
	DataSelector
)

// Selector is one field/value condition. System selectors carry a Field,
// data selectors carry a Name from the EventData section.
type Selector struct {
	Kind  SelectorKind
	Field FieldKind
	Name  string
	Value string
}

func SystemField(kind FieldKind, value string) Selector {
	return Selector{Kind: SystemSelector, Field: kind, Value: value}
}

func DataField(name, value string) Selector {
	return Selector{Kind: DataSelector, Name: name, Value: value}
}

// ParseDataField splits a "Name:Value" command line argument at the
// first colon.
func ParseDataField(arg string) (Selector, error) {
	name, value, ok := strings.Cut(arg, ":")
	if !ok {
		return Selector{}, errors.Errorf("data field %q: expected Name:Value", arg)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Selector{}, errors.Errorf("data field %q: empty name", arg)
	}
	return DataField(name, value), nil
}

func (s Selector) String() string {
	if s.Kind == DataSelector {
		return fmt.Sprintf("EventData[%s]=%q", s.Name, s.Value)
	}
	return fmt.Sprintf("%s=%q", s.Field, s.Value)
}

// Spec describes what a matching record looks like.
type Spec struct {
	Selectors  []Selector
	Combine    Combine
	IgnoreCase bool
}

func (s Spec) Empty() bool { return len(s.Selectors) == 0 }

// Merge appends other's selectors. Combine and IgnoreCase of s win.
func (s Spec) Merge(other Spec) Spec {
	out := s
	out.Selectors = append(append([]Selector(nil), s.Selectors...), other.Selectors...)
	return out
}

func (s Spec) Validate() error {
	for i, sel := range s.Selectors {
		switch sel.Kind {
		case SystemSelector:
			if sel.Field < 0 || sel.Field >= fieldKindCount {
				return errors.Errorf("selector %d: unknown system field %d", i, int(sel.Field))
			}
		case DataSelector:
			if strings.TrimSpace(sel.Name) == "" {
				return errors.Errorf("selector %d: data field without a name", i)
			}
		default:
			return errors.Errorf("selector %d: unknown selector kind %d", i, int(sel.Kind))
		}
	}
	if s.Combine != And && s.Combine != Or {
		return errors.Errorf("unknown combine mode %d", int(s.Combine))
	}
	return nil
}
