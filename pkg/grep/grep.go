// Package grep matches records with regular expressions without building
// a document: one expression on the event id, one on the data section.
package grep

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

const (
	recordTag   = "Event"
	dataSection = "EventData"
	dataEntry   = "Data"
	dataName    = "Name"
)

// Matcher holds the two expressions. A nil expression matches anything.
type Matcher struct {
	id   *regexp.Regexp
	data *regexp.Regexp
}

type Option func(*Matcher) error

func compile(what, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, errors.Errorf("%s pattern is empty", what)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "%s pattern", what)
	}
	return re, nil
}

// WithID sets the expression applied to the event id text.
func WithID(pattern string) Option {
	return func(m *Matcher) (err error) {
		m.id, err = compile("id", pattern)
		return err
	}
}

// WithData sets the expression applied to data section values.
func WithData(pattern string) Option {
	return func(m *Matcher) (err error) {
		m.data, err = compile("data", pattern)
		return err
	}
}

func New(opts ...Option) (*Matcher, error) {
	m := &Matcher{}
	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Active reports whether at least one expression is set.
func (m *Matcher) Active() bool { return m != nil && (m.id != nil || m.data != nil) }

func (m *Matcher) String() string {
	var parts []string
	if m.id != nil {
		parts = append(parts, "id=/"+m.id.String()+"/")
	}
	if m.data != nil {
		parts = append(parts, "data=/"+m.data.String()+"/")
	}
	return strings.Join(parts, " ")
}

var parsers fastjson.ParserPool

// MatchRecord dispatches on the record's source text: JSON records are
// matched structurally, anything else through its Field Events.
func (m *Matcher) MatchRecord(rec *evtx.Record) (bool, error) {
	raw := strings.TrimSpace(rec.Raw)
	if !strings.HasPrefix(raw, "{") {
		return m.MatchEvents(rec.EventID, rec.Events), nil
	}
	p := parsers.Get()
	defer parsers.Put(p)
	v, err := p.Parse(raw)
	if err != nil {
		return false, errors.Wrapf(err, "record %d", rec.ID)
	}
	return m.MatchJSON(v), nil
}

// MatchJSON matches a record in dumper JSON layout. The id expression sees
// Event.System.EventID, the data expression every scalar below
// Event.EventData.
func (m *Matcher) MatchJSON(v *fastjson.Value) bool {
	event := v.Get("Event")
	if event == nil {
		event = v
	}
	if m.id != nil && !m.id.MatchString(eventID(event.Get("System", "EventID"))) {
		return false
	}
	if m.data == nil {
		return true
	}
	return matchValue(m.data, event.Get("EventData"))
}

// MatchEvents matches a record given as Field Events. The data expression
// sees attribute values and texts below Event/EventData, the same values
// MatchJSON sees in the JSON layout.
func (m *Matcher) MatchEvents(eventID string, events []evtx.Event) bool {
	if m.id != nil && !m.id.MatchString(eventID) {
		return false
	}
	return m.data == nil || m.matchData(events)
}

func (m *Matcher) matchData(events []evtx.Event) bool {
	var path []string
	for _, ev := range events {
		switch ev.Kind {
		case evtx.StartElement:
			path = append(path, ev.Name)
			if inData(path) && m.matchAttrs(path, ev.Attrs) {
				return true
			}
		case evtx.EmptyElement, evtx.SimpleElement:
			path = append(path, ev.Name)
			if inData(path) {
				if m.matchAttrs(path, ev.Attrs) {
					return true
				}
				if ev.Kind == evtx.SimpleElement && m.data.MatchString(ev.Text) {
					return true
				}
			}
			path = path[:len(path)-1]
		case evtx.Characters:
			if inData(path) && m.data.MatchString(ev.Text) {
				return true
			}
		case evtx.EndElement:
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}
	return false
}

func inData(path []string) bool {
	return len(path) >= 2 && path[0] == recordTag && path[1] == dataSection
}

// matchAttrs skips Data/@Name: in the JSON layout it is a key, not a value.
func (m *Matcher) matchAttrs(path []string, attrs []evtx.Attr) bool {
	entry := len(path) == 3 && path[2] == dataEntry
	for _, a := range attrs {
		if entry && a.Name == dataName {
			continue
		}
		if m.data.MatchString(a.Value) {
			return true
		}
	}
	return false
}

func eventID(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return string(v.MarshalTo(nil))
	case fastjson.TypeObject:
		return eventID(v.Get("#text"))
	default:
		return ""
	}
}

func matchValue(re *regexp.Regexp, v *fastjson.Value) bool {
	if v == nil {
		return false
	}
	switch v.Type() {
	case fastjson.TypeString:
		return re.Match(v.GetStringBytes())
	case fastjson.TypeNumber:
		return re.Match(v.MarshalTo(nil))
	case fastjson.TypeArray:
		for _, item := range v.GetArray() {
			if matchValue(re, item) {
				return true
			}
		}
		return false
	case fastjson.TypeObject:
		found := false
		v.GetObject().Visit(func(_ []byte, item *fastjson.Value) {
			if !found && matchValue(re, item) {
				found = true
			}
		})
		return found
	default:
		// null, true, false
		return false
	}
}
