package decoder

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
	"github.com/PhucNguyen204/evtxgrep/pkg/filter"
)

// XMLDecoder reads rendered event XML: a sequence of <Event> elements,
// bare or wrapped in a container element such as <Events>.
type XMLDecoder struct {
	src   *capture
	dec   *xml.Decoder
	index int
}

func NewXML(r io.Reader) *XMLDecoder {
	src := &capture{r: r}
	dec := xml.NewDecoder(src)
	dec.Strict = true
	return &XMLDecoder{src: src, dec: dec}
}

func (d *XMLDecoder) Next() (*evtx.Record, error) {
	for {
		start := d.dec.InputOffset()
		tok, err := d.dec.RawToken()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrap(err, "read xml")
		}
		se, ok := tok.(xml.StartElement)
		if !ok || qualified(se.Name) != filter.RecordTag {
			d.src.discard(d.dec.InputOffset())
			continue
		}
		toks, err := d.collect(se)
		if err != nil {
			return nil, err
		}
		end := d.dec.InputOffset()
		raw := d.src.slice(start, end)
		d.src.discard(end)

		d.index++
		return newRecord(d.index, coalesce(toks), raw)
	}
}

// collect reads tokens up to and including the end of the element opened
// by first. Adjacent text and CDATA are joined into one run per position;
// see joinText for the whitespace that is dropped.
func (d *XMLDecoder) collect(first xml.StartElement) ([]xml.Token, error) {
	toks := []xml.Token{first.Copy()}
	var run []textPiece
	afterChild := false
	flush := func(betweenChildren bool) {
		if text, ok := joinText(run, betweenChildren); ok {
			toks = append(toks, xml.CharData(text))
		}
		run = run[:0]
	}

	depth := 1
	for depth > 0 {
		off := d.dec.InputOffset()
		tok, err := d.dec.RawToken()
		if err == io.EOF {
			return nil, errors.Errorf("unexpected end of input inside <%s>", qualified(first.Name))
		}
		if err != nil {
			return nil, errors.Wrap(err, "read xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			flush(true)
			depth++
			toks = append(toks, t.Copy())
			afterChild = false
		case xml.EndElement:
			flush(afterChild)
			depth--
			toks = append(toks, t)
			afterChild = true
		case xml.CharData:
			run = append(run, textPiece{
				text:  string(t),
				cdata: strings.HasPrefix(d.src.slice(off, off+int64(len(cdataOpen))), cdataOpen),
			})
		}
	}
	return toks, nil
}

const cdataOpen = "<![CDATA["

type textPiece struct {
	text  string
	cdata bool
}

// joinText concatenates one text run. Whitespace-only text between child
// elements is indentation and dropped. A run framed by a newline plus
// indentation on both ends (the multi-line tree layout) loses the framing;
// whitespace inside CDATA is always kept.
func joinText(run []textPiece, betweenChildren bool) (string, bool) {
	if len(run) == 0 {
		return "", false
	}
	if betweenChildren && blankRun(run) {
		return "", false
	}
	texts := make([]string, len(run))
	for i, p := range run {
		texts[i] = p.text
	}
	first, last := run[0], run[len(run)-1]
	if !first.cdata && !last.cdata {
		head, tail := layoutPrefix(first.text), layoutSuffix(last.text)
		if head > 0 && tail > 0 && (len(run) > 1 || head+tail <= len(first.text)) {
			texts[0] = texts[0][head:]
			n := len(texts) - 1
			texts[n] = texts[n][:len(texts[n])-tail]
		}
	}
	text := strings.Join(texts, "")
	return text, text != ""
}

func blankRun(run []textPiece) bool {
	for _, p := range run {
		if p.cdata || strings.Trim(p.text, xmlSpace) != "" {
			return false
		}
	}
	return true
}

const xmlSpace = " \t\r\n"

// layoutPrefix is the length of a leading newline and the indentation after it.
func layoutPrefix(s string) int {
	if !strings.HasPrefix(s, "\n") {
		return 0
	}
	return 1 + len(s[1:]) - len(strings.TrimLeft(s[1:], " \t"))
}

// layoutSuffix is the length of a trailing newline and the indentation after it.
func layoutSuffix(s string) int {
	trimmed := strings.TrimRight(s, " \t")
	if !strings.HasSuffix(trimmed, "\n") {
		return 0
	}
	return len(s) - len(trimmed) + 1
}

// coalesce turns the token list of one record into Field Events: a start
// directly followed by its end becomes an empty element, a start followed
// by one text run and its end a simple element.
func coalesce(toks []xml.Token) []evtx.Event {
	events := make([]evtx.Event, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		switch t := toks[i].(type) {
		case xml.StartElement:
			name := qualified(t.Name)
			attrs := convertAttrs(t.Attr)
			if i+1 < len(toks) {
				if _, ok := toks[i+1].(xml.EndElement); ok {
					events = append(events, evtx.Event{Kind: evtx.EmptyElement, Name: name, Attrs: attrs})
					i++
					continue
				}
			}
			if i+2 < len(toks) {
				text, isText := toks[i+1].(xml.CharData)
				_, isEnd := toks[i+2].(xml.EndElement)
				if isText && isEnd {
					events = append(events, evtx.Event{Kind: evtx.SimpleElement, Name: name, Attrs: attrs, Text: string(text)})
					i += 2
					continue
				}
			}
			events = append(events, evtx.Event{Kind: evtx.StartElement, Name: name, Attrs: attrs})
		case xml.CharData:
			events = append(events, evtx.Chars(string(t)))
		case xml.EndElement:
			events = append(events, evtx.End(qualified(t.Name)))
		}
	}
	return events
}

func convertAttrs(in []xml.Attr) []evtx.Attr {
	if len(in) == 0 {
		return nil
	}
	out := make([]evtx.Attr, len(in))
	for i, a := range in {
		out[i] = evtx.Attr{Name: qualified(a.Name), Value: a.Value}
	}
	return out
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// capture keeps the bytes read from r since the last discard so a
// record's source text can be sliced out by input offset.
type capture struct {
	r    io.Reader
	buf  []byte
	base int64
}

func (c *capture) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.buf = append(c.buf, p[:n]...)
	return n, err
}

func (c *capture) discard(upto int64) {
	drop := int(upto - c.base)
	if drop <= 0 {
		return
	}
	if drop > len(c.buf) {
		drop = len(c.buf)
	}
	rest := copy(c.buf, c.buf[drop:])
	c.buf = c.buf[:rest]
	c.base += int64(drop)
}

func (c *capture) slice(from, to int64) string {
	lo, hi := int(from-c.base), int(to-c.base)
	if lo < 0 || hi > len(c.buf) || lo > hi {
		return ""
	}
	return string(c.buf[lo:hi])
}
