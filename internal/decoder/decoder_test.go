package decoder

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
	"github.com/PhucNguyen204/evtxgrep/pkg/filter"
)

const sampleXML = `<?xml version="1.0" encoding="utf-8"?>
<Events>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Security-Auditing" Guid="{54849625-5478-4994-a5ba-3e3b0328c30d}"/>
    <EventID>4624</EventID>
    <TimeCreated SystemTime="2021-03-04T12:00:00.1234567Z"/>
    <EventRecordID>7</EventRecordID>
    <Computer>dc01.corp.local</Computer>
  </System>
  <EventData>
    <Data Name="TargetUserName">bob</Data>
    <Data Name="Note"><![CDATA[a < b & c]]></Data>
    <Data Name="Empty"></Data>
  </EventData>
</Event>
<Event>
  <System>
    <EventID>4625</EventID>
    <EventRecordID>nope</EventRecordID>
  </System>
</Event>
<Event>
  <System>
    <EventID>4634</EventID>
    <EventRecordID>9</EventRecordID>
  </System>
</Event>
</Events>
`

func drain(t *testing.T, d Decoder) ([]*evtx.Record, []error) {
	t.Helper()
	var recs []*evtx.Record
	var skipped []error
	for {
		rec, err := d.Next()
		if err == io.EOF {
			return recs, skipped
		}
		if err != nil {
			require.True(t, IsRecordError(err), "unexpected fatal error: %v", err)
			skipped = append(skipped, err)
			continue
		}
		recs = append(recs, rec)
	}
}

func TestXMLDecoder(t *testing.T) {
	recs, skipped := drain(t, NewXML(strings.NewReader(sampleXML)))
	require.Len(t, recs, 2)
	require.Len(t, skipped, 1)
	require.Contains(t, skipped[0].Error(), "record #2")

	first := recs[0]
	require.Equal(t, uint64(7), first.ID)
	require.Equal(t, "4624", first.EventID)
	require.Equal(t, time.Date(2021, 3, 4, 12, 0, 0, 123456700, time.UTC), first.Timestamp)
	require.True(t, strings.HasPrefix(first.Raw, "<Event xmlns="))
	require.True(t, strings.HasSuffix(first.Raw, "</Event>"))

	doc, err := first.Document()
	require.NoError(t, err)
	require.Equal(t, "http://schemas.microsoft.com/win/2004/08/events/event", mustAttr(t, doc.Root, "xmlns"))
	require.Equal(t, "dc01.corp.local", doc.Lookup("Event", "System", "Computer").Text)
	data := doc.Lookup("Event", "EventData").Children
	require.Len(t, data, 3)
	require.Equal(t, "bob", data[0].Text)
	require.Equal(t, "a < b & c", data[1].Text)
	require.Equal(t, "", data[2].Text)

	require.Equal(t, uint64(9), recs[1].ID)
	require.True(t, recs[1].Timestamp.IsZero())
}

func TestXMLDecoderCoalescesEvents(t *testing.T) {
	recs, _ := drain(t, NewXML(strings.NewReader(sampleXML)))
	var kinds []evtx.Kind
	for _, ev := range recs[1].Events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []evtx.Kind{
		evtx.StartElement, evtx.StartElement,
		evtx.SimpleElement, evtx.SimpleElement,
		evtx.EndElement, evtx.EndElement,
	}, kinds)
}

func TestXMLDecoderTruncatedInputIsFatal(t *testing.T) {
	d := NewXML(strings.NewReader(`<Event><System><EventRecordID>1</EventRecordID>`))
	_, err := d.Next()
	require.Error(t, err)
	require.False(t, IsRecordError(err))
}

const textXML = `<Event>
  <System>
    <EventRecordID>1</EventRecordID>
  </System>
  <EventData>
    <Data Name="Lead"> bob</Data>
    <Data Name="Mixed">a <![CDATA[<b>]]></Data>
    <Data Name="Comment">a <!-- note --> b</Data>
    <Data Name="Blank"> </Data>
    <Data Name="Wrapped">
    long value
    </Data>
    <Data Name="WrappedCDATA">
    <![CDATA[ x ]]>
    </Data>
    <Data Name="Nested">
      <Item>i</Item>
      tail
    </Data>
  </EventData>
</Event>`

func TestXMLDecoderKeepsTextWhitespace(t *testing.T) {
	rec, err := NewXML(strings.NewReader(textXML)).Next()
	require.NoError(t, err)
	doc, err := rec.Document()
	require.NoError(t, err)

	got := map[string]string{}
	for _, n := range doc.Lookup("Event", "EventData").Children {
		got[mustAttr(t, n, "Name")] = n.Text
	}
	require.Equal(t, map[string]string{
		"Lead":         " bob",
		"Mixed":        "a <b>",
		"Comment":      "a  b",
		"Blank":        " ",
		"Wrapped":      "long value",
		"WrappedCDATA": " x ",
		"Nested":       "tail",
	}, got)

	nested := doc.Lookup("Event", "EventData").Children[6]
	require.Len(t, nested.Children, 1)
	require.Equal(t, "i", nested.Children[0].Text)

	match := func(sel filter.Selector) bool {
		c, err := filter.Compile(filter.Spec{Selectors: []filter.Selector{sel}})
		require.NoError(t, err)
		ok, err := c.Matches(doc)
		require.NoError(t, err)
		return ok
	}
	require.False(t, match(filter.DataField("Lead", "bob")))
	require.True(t, match(filter.DataField("Lead", " bob")))
	require.True(t, match(filter.DataField("Mixed", "a <b>")))
}

const sampleJSON = `{"Event":{"#attributes":{"xmlns":"http://schemas.microsoft.com/win/2004/08/events/event"},"System":{"Provider":{"#attributes":{"Name":"Service Control Manager"}},"EventID":7036,"TimeCreated":{"#attributes":{"SystemTime":"2022-01-02T03:04:05Z"}},"EventRecordID":12,"Computer":"ws1"},"EventData":{"param1":"Windows Update","param2":"running","Binary":null}}}

not json
{"Event":{"System":{"EventID":{"#attributes":{"Qualifiers":"16384"},"#text":7045},"EventRecordID":"13"},"EventData":{"Data":[{"#attributes":{"Name":"ServiceName"},"#text":"evil"}]}}}
`

func TestJSONDecoder(t *testing.T) {
	recs, skipped := drain(t, NewJSON(strings.NewReader(sampleJSON)))
	require.Len(t, recs, 2)
	require.Len(t, skipped, 1)

	first := recs[0]
	require.Equal(t, uint64(12), first.ID)
	require.Equal(t, "7036", first.EventID)
	require.Equal(t, time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC), first.Timestamp)

	doc, err := first.Document()
	require.NoError(t, err)
	require.Equal(t, "Service Control Manager", mustAttr(t, doc.Lookup("Event", "System", "Provider"), "Name"))
	entries := doc.Lookup("Event", "EventData").Children
	require.Len(t, entries, 3)
	require.Equal(t, "Data", entries[0].Name)
	require.Equal(t, "param1", mustAttr(t, entries[0], "Name"))
	require.Equal(t, "Windows Update", entries[0].Text)
	require.Equal(t, "", entries[2].Text)

	second := recs[1]
	require.Equal(t, uint64(13), second.ID)
	require.Equal(t, "7045", second.EventID)
	doc, err = second.Document()
	require.NoError(t, err)
	eid := doc.Lookup("Event", "System", "EventID")
	require.Equal(t, "16384", mustAttr(t, eid, "Qualifiers"))
	require.Equal(t, "evil", doc.Lookup("Event", "EventData", "Data").Text)
}

func TestJSONEventsBareRecord(t *testing.T) {
	v, err := fastjson.Parse(`{"System":{"EventRecordID":1},"EventData":{"x":"y"}}`)
	require.NoError(t, err)
	events, err := JSONEvents(v)
	require.NoError(t, err)
	doc, err := evtx.Build(events)
	require.NoError(t, err)
	require.Equal(t, "Event", doc.Root.Name)
	require.Equal(t, "y", doc.Lookup("Event", "EventData", "Data").Text)

	_, err = JSONEvents(fastjson.MustParse(`[1,2]`))
	require.Error(t, err)
}

func TestNewDetectsFormat(t *testing.T) {
	d, err := New(strings.NewReader("\xEF\xBB\xBF\n  "+sampleXML[strings.Index(sampleXML, "<Events>"):]), FormatAuto)
	require.NoError(t, err)
	require.IsType(t, &XMLDecoder{}, d)

	d, err = New(strings.NewReader(sampleJSON), FormatAuto)
	require.NoError(t, err)
	require.IsType(t, &JSONDecoder{}, d)

	d, err = New(strings.NewReader(""), FormatAuto)
	require.NoError(t, err)
	_, err = d.Next()
	require.Equal(t, io.EOF, err)

	_, err = ParseFormat("yaml")
	require.Error(t, err)
}

func TestOpenCompressed(t *testing.T) {
	dir := t.TempDir()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write([]byte(sampleJSON))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var zs bytes.Buffer
	zw, err := zstd.NewWriter(&zs)
	require.NoError(t, err)
	_, err = zw.Write([]byte(sampleXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	files := map[string][]byte{
		"a.jsonl.gz": gz.Bytes(),
		"b.xml.zst":  zs.Bytes(),
		"c.jsonl":    []byte(sampleJSON),
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, content, 0o644))

		rc, err := Open(path)
		require.NoError(t, err, name)
		d, err := New(rc, FormatAuto)
		require.NoError(t, err, name)
		recs, _ := drain(t, d)
		require.Len(t, recs, 2, name)
		require.NoError(t, rc.Close(), name)
	}

	_, err = Open(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func mustAttr(t *testing.T, n *evtx.Node, name string) string {
	t.Helper()
	require.NotNil(t, n)
	v, ok := n.Attr(name)
	require.True(t, ok, "attribute %s missing on <%s>", name, n.Name)
	return v
}
