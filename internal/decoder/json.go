package decoder

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
	"github.com/PhucNguyen204/evtxgrep/pkg/filter"
)

const (
	jsonAttributes = "#attributes"
	jsonText       = "#text"

	maxLine = 64 << 20
)

// JSONDecoder reads one JSON record per line in the layout produced by
// common evtx dumpers:
//
//	{"Event":{"#attributes":{...},"System":{...},"EventData":{...}}}
//
// "#attributes" objects become attributes, "#text" values text, arrays
// repeated elements. Plain members of EventData become
// <Data Name="member">value</Data> entries.
type JSONDecoder struct {
	sc     *bufio.Scanner
	parser fastjson.Parser
	index  int
}

func NewJSON(r io.Reader) *JSONDecoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &JSONDecoder{sc: sc}
}

func (d *JSONDecoder) Next() (*evtx.Record, error) {
	for d.sc.Scan() {
		line := bytes.TrimSpace(d.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		d.index++
		v, err := d.parser.ParseBytes(line)
		if err != nil {
			return nil, &RecordError{Index: d.index, Err: errors.Wrap(err, "parse json")}
		}
		events, err := JSONEvents(v)
		if err != nil {
			return nil, &RecordError{Index: d.index, Err: err}
		}
		return newRecord(d.index, events, string(line))
	}
	if err := d.sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read json lines")
	}
	return nil, io.EOF
}

// JSONEvents converts one parsed record to its Field Event sequence.
func JSONEvents(v *fastjson.Value) ([]evtx.Event, error) {
	obj, err := v.Object()
	if err != nil {
		return nil, errors.New("record is not a JSON object")
	}
	body := obj.Get(filter.RecordTag)
	if body == nil || obj.Len() != 1 {
		// bare record without the Event wrapper
		body = v
	}
	var events []evtx.Event
	events = appendElement(events, filter.RecordTag, body, nil)
	return events, nil
}

// appendElement renders value v as element name. path holds the names of
// the enclosing elements.
func appendElement(out []evtx.Event, name string, v *fastjson.Value, path []string) []evtx.Event {
	switch v.Type() {
	case fastjson.TypeArray:
		for _, item := range v.GetArray() {
			out = appendElement(out, name, item, path)
		}
		return out
	case fastjson.TypeObject:
		return appendObject(out, name, v.GetObject(), path)
	default:
		return appendScalar(out, name, nil, scalarText(v))
	}
}

func appendObject(out []evtx.Event, name string, obj *fastjson.Object, path []string) []evtx.Event {
	var attrs []evtx.Attr
	text := ""
	hasText := false
	children := 0
	obj.Visit(func(key []byte, v *fastjson.Value) {
		switch string(key) {
		case jsonAttributes:
			if ao, err := v.Object(); err == nil {
				ao.Visit(func(k []byte, av *fastjson.Value) {
					attrs = append(attrs, evtx.Attr{Name: string(k), Value: scalarText(av)})
				})
			}
		case jsonText:
			text = scalarText(v)
			hasText = true
		default:
			children++
		}
	})
	if children == 0 {
		if hasText {
			return appendScalar(out, name, attrs, text)
		}
		return append(out, evtx.Event{Kind: evtx.EmptyElement, Name: name, Attrs: attrs})
	}

	out = append(out, evtx.Event{Kind: evtx.StartElement, Name: name, Attrs: attrs})
	inner := append(path[:len(path):len(path)], name)
	dataSection := len(inner) == 2 && inner[0] == filter.RecordTag && inner[1] == filter.DataSection
	obj.Visit(func(key []byte, v *fastjson.Value) {
		k := string(key)
		if k == jsonAttributes || k == jsonText {
			return
		}
		if dataSection && k != filter.DataEntryTag {
			out = appendDataEntry(out, k, v)
			return
		}
		out = appendElement(out, k, v, inner)
	})
	if hasText && text != "" {
		out = append(out, evtx.Chars(text))
	}
	return append(out, evtx.End(name))
}

// appendDataEntry renders an EventData member as a named Data element.
func appendDataEntry(out []evtx.Event, key string, v *fastjson.Value) []evtx.Event {
	nameAttr := evtx.Attr{Name: filter.DataNameAttr, Value: key}
	switch v.Type() {
	case fastjson.TypeArray:
		for _, item := range v.GetArray() {
			out = appendDataEntry(out, key, item)
		}
		return out
	case fastjson.TypeObject:
		var events []evtx.Event
		events = appendObject(events, filter.DataEntryTag, v.GetObject(), nil)
		events[0].Attrs = append([]evtx.Attr{nameAttr}, events[0].Attrs...)
		return append(out, events...)
	default:
		return appendScalar(out, filter.DataEntryTag, []evtx.Attr{nameAttr}, scalarText(v))
	}
}

func appendScalar(out []evtx.Event, name string, attrs []evtx.Attr, text string) []evtx.Event {
	if text == "" {
		return append(out, evtx.Event{Kind: evtx.EmptyElement, Name: name, Attrs: attrs})
	}
	return append(out, evtx.Event{Kind: evtx.SimpleElement, Name: name, Attrs: attrs, Text: text})
}

// scalarText is the text form of a JSON scalar; null is empty.
func scalarText(v *fastjson.Value) string {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNull:
		return ""
	default:
		return string(v.MarshalTo(nil))
	}
}
