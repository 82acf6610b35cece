package grep

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

const logon = `{"Event":{"System":{"EventID":4624,"EventRecordID":1},"EventData":{"TargetUserName":"bob","LogonType":3,"Elevated":true,"Nested":{"List":["x","admin-share"]},"Missing":null}}}`

func mustMatcher(t *testing.T, opts ...Option) *Matcher {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	return m
}

func TestMatchJSON(t *testing.T) {
	v := fastjson.MustParse(logon)
	tests := []struct {
		name string
		opts []Option
		want bool
	}{
		{"no patterns", nil, true},
		{"id only", []Option{WithID("^4624$")}, true},
		{"id mismatch", []Option{WithID("^4625$")}, false},
		{"data string", []Option{WithData("^bob$")}, true},
		{"data number", []Option{WithData("^3$")}, true},
		{"data nested array", []Option{WithData("admin")}, true},
		{"bool never matches", []Option{WithData("true")}, false},
		{"null never matches", []Option{WithData("null")}, false},
		{"both must match", []Option{WithID("4624"), WithData("alice")}, false},
		{"both match", []Option{WithID("4624"), WithData("bob")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, mustMatcher(t, tt.opts...).MatchJSON(v))
		})
	}
}

func TestEventIDForms(t *testing.T) {
	m := mustMatcher(t, WithID("^7045$"))
	for _, src := range []string{
		`{"Event":{"System":{"EventID":7045}}}`,
		`{"Event":{"System":{"EventID":"7045"}}}`,
		`{"Event":{"System":{"EventID":{"#attributes":{"Qualifiers":"16384"},"#text":7045}}}}`,
	} {
		require.True(t, m.MatchJSON(fastjson.MustParse(src)), src)
	}
	require.False(t, m.MatchJSON(fastjson.MustParse(`{"Event":{"System":{}}}`)))
}

func TestMatchDataWithoutSection(t *testing.T) {
	m := mustMatcher(t, WithData("."))
	require.False(t, m.MatchJSON(fastjson.MustParse(`{"Event":{"System":{"EventID":1}}}`)))
}

func TestInvalidPatterns(t *testing.T) {
	_, err := New(WithID(""))
	require.Error(t, err)
	_, err = New(WithData("(unclosed"))
	require.Error(t, err)
}

var logonEvents = []evtx.Event{
	evtx.Start("Event"),
	evtx.Start("System"),
	evtx.Empty("Provider", evtx.Attr{Name: "Name", Value: "Microsoft-Windows-Security-Auditing"}),
	evtx.Simple("EventID", "4624"),
	evtx.Simple("Channel", "Security"),
	evtx.End("System"),
	evtx.Start("EventData"),
	evtx.Simple("Data", "bob", evtx.Attr{Name: "Name", Value: "TargetUserName"}),
	evtx.Simple("Data", "3", evtx.Attr{Name: "Name", Value: "LogonType"}),
	evtx.Start("Data", evtx.Attr{Name: "Name", Value: "Groups"}),
	evtx.Simple("Group", "admins"),
	evtx.Chars("side note"),
	evtx.End("Data"),
	evtx.End("EventData"),
	evtx.End("Event"),
}

func TestMatchEventsDataSection(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"^bob$", true},
		{"^3$", true},
		{"^admins$", true},
		{"side", true},
		// System values, tag names and entry names are not data
		{"Security", false},
		{"4624", false},
		{"^Data$", false},
		{"EventData", false},
		{"TargetUserName", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			m := mustMatcher(t, WithData(tt.pattern))
			require.Equal(t, tt.want, m.MatchEvents("4624", logonEvents))
		})
	}
}

func TestMatchEventsAgreesWithJSON(t *testing.T) {
	v := fastjson.MustParse(`{"Event":{"System":{"EventID":4624,"Channel":"Security"},"EventData":{"TargetUserName":"bob","LogonType":3}}}`)
	for _, pattern := range []string{"^bob$", "^3$", "Security", "TargetUserName", "4624"} {
		m := mustMatcher(t, WithData(pattern))
		require.Equal(t, m.MatchJSON(v), m.MatchEvents("4624", logonEvents), pattern)
	}
}

func TestMatchRecord(t *testing.T) {
	m := mustMatcher(t, WithID("^4624$"), WithData("bob"))
	require.True(t, m.Active())

	ok, err := m.MatchRecord(&evtx.Record{ID: 1, Raw: logon})
	require.NoError(t, err)
	require.True(t, ok)

	xml := `<Event><System><EventID>4624</EventID></System><EventData><Data Name="TargetUserName">bob</Data></EventData></Event>`
	ok, err = m.MatchRecord(&evtx.Record{ID: 2, EventID: "4624", Raw: xml, Events: logonEvents})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.MatchRecord(&evtx.Record{ID: 3, EventID: "4625", Raw: xml, Events: logonEvents})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = m.MatchRecord(&evtx.Record{ID: 4, Raw: `{"Event":`})
	require.Error(t, err)

	require.False(t, mustMatcher(t).Active())
}
