package evtx

import (
	"github.com/pkg/errors"
)

var (
	ErrEmptyStack = errors.New("evtx: no open element")
	ErrSecondRoot = errors.New("evtx: element after the root element was closed")
	ErrUnclosed   = errors.New("evtx: record ended with open elements")
	ErrNoRoot     = errors.New("evtx: record produced no root element")
	ErrFinished   = errors.New("evtx: builder already finished")
)

// Builder rebuilds a Document from a flat event stream. It owns the
// stack of open nodes and the in-progress tree; Finish is the only way
// to get the tree out. A Builder serves exactly one record.
type Builder struct {
	root     *Node
	stack    []*Node
	finished bool
}

func NewBuilder() *Builder {
	return &Builder{stack: make([]*Node, 0, 8)}
}

// Depth is the number of currently open elements.
func (b *Builder) Depth() int { return len(b.stack) }

func (b *Builder) top() *Node {
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}

func newNode(name string, attrs []Attr) *Node {
	n := &Node{Name: name}
	if len(attrs) > 0 {
		n.Attrs = append(make([]Attr, 0, len(attrs)), attrs...)
	}
	return n
}

// attach makes n the root or the last child of the top of the stack.
func (b *Builder) attach(n *Node) error {
	if b.finished {
		return ErrFinished
	}
	if parent := b.top(); parent != nil {
		parent.Children = append(parent.Children, n)
		return nil
	}
	if b.root != nil {
		return errors.Wrapf(ErrSecondRoot, "element %q", n.Name)
	}
	b.root = n
	return nil
}

func (b *Builder) StartElement(name string, attrs []Attr) error {
	n := newNode(name, attrs)
	if err := b.attach(n); err != nil {
		return err
	}
	b.stack = append(b.stack, n)
	return nil
}

// EmptyElement appends a finished leaf without pushing it.
func (b *Builder) EmptyElement(name string, attrs []Attr) error {
	return b.attach(newNode(name, attrs))
}

// SimpleElement appends a finished leaf holding content.
func (b *Builder) SimpleElement(name string, attrs []Attr, content string) error {
	n := newNode(name, attrs)
	n.Text = content
	return b.attach(n)
}

// Characters appends text to the open node. Text arriving at a node that
// already has child elements is kept as that node's side text.
func (b *Builder) Characters(text string) error {
	if b.finished {
		return ErrFinished
	}
	n := b.top()
	if n == nil {
		return errors.Wrapf(ErrEmptyStack, "characters %q", text)
	}
	n.Text += text
	return nil
}

// EndElement closes the open node. The name is not compared against the
// open element; matching names is the decoder's contract.
func (b *Builder) EndElement(name string) error {
	if b.finished {
		return ErrFinished
	}
	if len(b.stack) == 0 {
		return errors.Wrapf(ErrEmptyStack, "end element %q", name)
	}
	b.stack[len(b.stack)-1] = nil
	b.stack = b.stack[:len(b.stack)-1]
	return nil
}

// Apply dispatches one event.
func (b *Builder) Apply(ev Event) error {
	switch ev.Kind {
	case StartElement:
		return b.StartElement(ev.Name, ev.Attrs)
	case EmptyElement:
		return b.EmptyElement(ev.Name, ev.Attrs)
	case SimpleElement:
		return b.SimpleElement(ev.Name, ev.Attrs, ev.Text)
	case Characters:
		return b.Characters(ev.Text)
	case EndElement:
		return b.EndElement(ev.Name)
	default:
		return errors.Errorf("evtx: unknown event kind %d", int(ev.Kind))
	}
}

// Finish hands over the completed document. The stack must be empty.
func (b *Builder) Finish() (*Document, error) {
	if b.finished {
		return nil, ErrFinished
	}
	if len(b.stack) > 0 {
		return nil, errors.Wrapf(ErrUnclosed, "%d open, innermost %q", len(b.stack), b.top().Name)
	}
	if b.root == nil {
		return nil, ErrNoRoot
	}
	b.finished = true
	doc := &Document{Root: b.root}
	b.root = nil
	return doc, nil
}

// Build runs a fresh Builder over events.
func Build(events []Event) (*Document, error) {
	b := NewBuilder()
	for i, ev := range events {
		if err := b.Apply(ev); err != nil {
			return nil, errors.Wrapf(err, "event %d", i)
		}
	}
	return b.Finish()
}
