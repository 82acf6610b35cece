package evtx

import "fmt"

// Kind tags one structural callback from a record decoder.
type Kind int

const (
	StartElement Kind = iota
	EmptyElement
	SimpleElement
	Characters
	EndElement
)

func (k Kind) String() string {
	switch k {
	case StartElement:
		return "StartElement"
	case EmptyElement:
		return "EmptyElement"
	case SimpleElement:
		return "SimpleElement"
	case Characters:
		return "Characters"
	case EndElement:
		return "EndElement"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Attr is one attribute. Attributes are kept as a slice so that the
// order the decoder supplied them in survives into the output.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Event is a Field Event. Which fields are meaningful depends on Kind:
// Characters only uses Text, EndElement only uses Name, SimpleElement
// uses all three.
type Event struct {
	Kind  Kind
	Name  string
	Attrs []Attr
	Text  string
}

func Start(name string, attrs ...Attr) Event {
	return Event{Kind: StartElement, Name: name, Attrs: attrs}
}

func Empty(name string, attrs ...Attr) Event {
	return Event{Kind: EmptyElement, Name: name, Attrs: attrs}
}

func Simple(name, content string, attrs ...Attr) Event {
	return Event{Kind: SimpleElement, Name: name, Attrs: attrs, Text: content}
}

func Chars(text string) Event {
	return Event{Kind: Characters, Text: text}
}

func End(name string) Event {
	return Event{Kind: EndElement, Name: name}
}

func (e Event) String() string {
	switch e.Kind {
	case Characters:
		return fmt.Sprintf("Characters(%q)", e.Text)
	case EndElement:
		return fmt.Sprintf("EndElement(%s)", e.Name)
	case SimpleElement:
		return fmt.Sprintf("SimpleElement(%s, %d attrs, %q)", e.Name, len(e.Attrs), e.Text)
	default:
		return fmt.Sprintf("%s(%s, %d attrs)", e.Kind, e.Name, len(e.Attrs))
	}
}
