// Package decoder turns serialized event log exports into records: one
// Field Event sequence per record plus its id and timestamp.
package decoder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
	"github.com/PhucNguyen204/evtxgrep/pkg/filter"
)

// Decoder yields records until io.EOF. A *RecordError means one record
// was unusable and decoding may continue; any other error is fatal.
type Decoder interface {
	Next() (*evtx.Record, error)
}

// RecordError reports a record that was skipped.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string { return fmt.Sprintf("record #%d: %v", e.Index, e.Err) }
func (e *RecordError) Unwrap() error { return e.Err }

// IsRecordError reports whether err only concerns one record.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}

// Format of the serialized input.
type Format int

const (
	FormatAuto Format = iota
	FormatXML
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatJSON:
		return "json"
	default:
		return "auto"
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "xml":
		return FormatXML, nil
	case "json", "jsonl":
		return FormatJSON, nil
	default:
		return FormatAuto, errors.Errorf("unknown input format %q (want auto|xml|json)", s)
	}
}

// New returns a decoder for r. FormatAuto looks at the first non-blank
// byte: '<' selects XML, anything else JSON lines.
func New(r io.Reader, format Format) (Decoder, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	if b, _ := br.Peek(len(utf8BOM)); bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	if format == FormatAuto {
		detected, err := sniff(br)
		if err != nil {
			return nil, err
		}
		format = detected
	}
	switch format {
	case FormatXML:
		return NewXML(br), nil
	case FormatJSON:
		return NewJSON(br), nil
	default:
		return nil, errors.Errorf("unsupported input format %v", format)
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func sniff(br *bufio.Reader) (Format, error) {
	for n := 1; ; n++ {
		b, err := br.Peek(n)
		if len(b) < n {
			if err == io.EOF {
				// empty input decodes to nothing either way
				return FormatJSON, nil
			}
			if err != nil {
				return FormatAuto, errors.Wrap(err, "detect input format")
			}
		}
		switch c := b[n-1]; c {
		case ' ', '\t', '\r', '\n':
			continue
		case '<':
			return FormatXML, nil
		default:
			return FormatJSON, nil
		}
	}
}

// meta holds the System fields the decoders report next to the events.
type meta struct {
	recordID string
	created  string
	eventID  string
}

// scanMeta walks a record's events and picks up
// System/EventRecordID, System/EventID and System/TimeCreated/@SystemTime.
func scanMeta(events []evtx.Event) meta {
	var m meta
	var stack []string
	inSystem := func() bool {
		return len(stack) == 2 && stack[0] == filter.RecordTag && stack[1] == filter.SystemSection
	}
	systemTime := func(attrs []evtx.Attr) {
		for _, a := range attrs {
			if a.Name == "SystemTime" {
				m.created = a.Value
			}
		}
	}
	for _, ev := range events {
		switch ev.Kind {
		case evtx.StartElement:
			if inSystem() && ev.Name == "TimeCreated" {
				systemTime(ev.Attrs)
			}
			stack = append(stack, ev.Name)
		case evtx.EmptyElement:
			if inSystem() && ev.Name == "TimeCreated" {
				systemTime(ev.Attrs)
			}
		case evtx.SimpleElement:
			if !inSystem() {
				continue
			}
			switch ev.Name {
			case "EventRecordID":
				m.recordID = ev.Text
			case "EventID":
				m.eventID = ev.Text
			case "TimeCreated":
				systemTime(ev.Attrs)
			}
		case evtx.Characters:
			if len(stack) != 3 || stack[0] != filter.RecordTag || stack[1] != filter.SystemSection {
				continue
			}
			switch stack[2] {
			case "EventRecordID":
				m.recordID += ev.Text
			case "EventID":
				m.eventID += ev.Text
			}
		case evtx.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return m
}

// newRecord assembles a record from a complete event sequence.
func newRecord(index int, events []evtx.Event, raw string) (*evtx.Record, error) {
	m := scanMeta(events)
	idText := strings.TrimSpace(m.recordID)
	if idText == "" {
		return nil, &RecordError{Index: index, Err: errors.New("missing EventRecordID")}
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return nil, &RecordError{Index: index, Err: errors.Wrapf(err, "invalid EventRecordID %q", idText)}
	}
	return &evtx.Record{
		ID:        id,
		Timestamp: parseTime(m.created),
		EventID:   strings.TrimSpace(m.eventID),
		Events:    events,
		Raw:       raw,
	}, nil
}

// parseTime reads SystemTime values; unreadable values yield the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
