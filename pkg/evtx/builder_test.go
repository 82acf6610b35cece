package evtx

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []Event {
	return []Event{
		Start("Event", Attr{"xmlns", "http://schemas.microsoft.com/win/2004/08/events/event"}),
		Start("System"),
		Empty("Provider", Attr{"Name", "Microsoft-Windows-Security-Auditing"}, Attr{"Guid", "{54849625-5478-4994-a5ba-3e3b0328c30d}"}),
		Simple("EventID", "4624"),
		Empty("TimeCreated", Attr{"SystemTime", "2021-03-04T12:00:00.0000000Z"}),
		Start("EventRecordID"),
		Chars("12"),
		Chars("34"),
		End("EventRecordID"),
		End("System"),
		Start("EventData"),
		Simple("Data", "bob", Attr{"Name", "TargetUserName"}),
		End("EventData"),
		End("Event"),
	}
}

func TestBuildSample(t *testing.T) {
	doc, err := Build(sampleEvents())
	require.NoError(t, err)
	require.Equal(t, "Event", doc.Root.Name)
	require.Len(t, doc.Root.Children, 2)

	prov := doc.Lookup("Event", "System", "Provider")
	require.NotNil(t, prov)
	require.Equal(t, []Attr{
		{"Name", "Microsoft-Windows-Security-Auditing"},
		{"Guid", "{54849625-5478-4994-a5ba-3e3b0328c30d}"},
	}, prov.Attrs)

	require.Equal(t, "4624", doc.Lookup("Event", "System", "EventID").Text)
	require.Equal(t, "1234", doc.Lookup("Event", "System", "EventRecordID").Text)

	data := doc.Lookup("Event", "EventData", "Data")
	v, ok := data.Attr("Name")
	require.True(t, ok)
	require.Equal(t, "TargetUserName", v)
	require.Equal(t, 8, doc.Count())
}

func TestBuilderContractViolations(t *testing.T) {
	t.Run("characters on empty stack", func(t *testing.T) {
		b := NewBuilder()
		err := b.Characters("x")
		require.True(t, errors.Is(err, ErrEmptyStack))
	})
	t.Run("end without start", func(t *testing.T) {
		b := NewBuilder()
		err := b.EndElement("Event")
		require.True(t, errors.Is(err, ErrEmptyStack))
	})
	t.Run("second root", func(t *testing.T) {
		_, err := Build([]Event{Start("Event"), End("Event"), Start("Event")})
		require.True(t, errors.Is(err, ErrSecondRoot))
	})
	t.Run("unclosed", func(t *testing.T) {
		_, err := Build([]Event{Start("Event"), Start("System"), End("System")})
		require.True(t, errors.Is(err, ErrUnclosed))
	})
	t.Run("no root", func(t *testing.T) {
		_, err := Build(nil)
		require.True(t, errors.Is(err, ErrNoRoot))
	})
	t.Run("reuse after finish", func(t *testing.T) {
		b := NewBuilder()
		require.NoError(t, b.StartElement("Event", nil))
		require.NoError(t, b.EndElement("Event"))
		_, err := b.Finish()
		require.NoError(t, err)
		require.True(t, errors.Is(b.StartElement("Event", nil), ErrFinished))
		_, err = b.Finish()
		require.True(t, errors.Is(err, ErrFinished))
	})
}

func TestCharactersAfterChildrenKeptAsSideText(t *testing.T) {
	doc, err := Build([]Event{
		Start("Event"),
		Simple("A", "a"),
		Chars("tail"),
		End("Event"),
	})
	require.NoError(t, err)
	require.Equal(t, "tail", doc.Root.Text)
	require.Equal(t, "atail", doc.Root.InnerText())
}

func TestLeafAsRoot(t *testing.T) {
	doc, err := Build([]Event{Empty("Event", Attr{"a", "1"})})
	require.NoError(t, err)
	require.Equal(t, 1, doc.Count())
}

func TestAttributesAreCopied(t *testing.T) {
	attrs := []Attr{{"Name", "x"}}
	doc, err := Build([]Event{Empty("Event", attrs...)})
	require.NoError(t, err)
	attrs[0].Value = "changed"
	require.Equal(t, "x", doc.Root.Attrs[0].Value)
}

// randomEvents produces a well-nested sequence and reports how many
// element events (start, empty, simple) it contains.
func randomEvents(r *rand.Rand, depth int) ([]Event, int) {
	attrs := func() []Attr {
		n := r.Intn(4)
		out := make([]Attr, n)
		for i := range out {
			out[i] = Attr{Name: fmt.Sprintf("a%d", r.Intn(100)), Value: fmt.Sprintf("v%d", i)}
		}
		return out
	}
	var gen func(d int) ([]Event, int)
	gen = func(d int) ([]Event, int) {
		name := fmt.Sprintf("n%d", r.Intn(10))
		switch {
		case d >= depth || r.Intn(3) == 0:
			if r.Intn(2) == 0 {
				return []Event{Empty(name, attrs()...)}, 1
			}
			return []Event{Simple(name, fmt.Sprintf("t%d", r.Intn(1000)), attrs()...)}, 1
		default:
			evs := []Event{Start(name, attrs()...)}
			count := 1
			for i := r.Intn(4); i > 0; i-- {
				child, c := gen(d + 1)
				evs = append(evs, child...)
				count += c
			}
			return append(evs, End(name)), count
		}
	}
	return gen(0)
}

func TestBuildRandomWellNested(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		evs, want := randomEvents(r, 5)
		doc, err := Build(evs)
		require.NoError(t, err)
		require.Equal(t, want, doc.Count(), "sequence %d", i)

		// attribute order survives: re-emitting yields the same start events
		again := doc.Events()
		var gotAttrs, wantAttrs [][]Attr
		for _, ev := range evs {
			if ev.Kind != EndElement && ev.Kind != Characters {
				wantAttrs = append(wantAttrs, ev.Attrs)
			}
		}
		for _, ev := range again {
			if ev.Kind != EndElement && ev.Kind != Characters {
				gotAttrs = append(gotAttrs, ev.Attrs)
			}
		}
		require.Equal(t, len(wantAttrs), len(gotAttrs))
		for j := range wantAttrs {
			require.Equal(t, len(wantAttrs[j]), len(gotAttrs[j]))
			for k := range wantAttrs[j] {
				require.Equal(t, wantAttrs[j][k], gotAttrs[j][k])
			}
		}
	}
}
