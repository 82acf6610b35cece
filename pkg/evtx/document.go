package evtx

import "strings"

// Node is one element of a rebuilt record. Text and Children are
// mutually exclusive in well-formed records but nothing enforces it.
type Node struct {
	Name     string
	Attrs    []Attr
	Children []*Node
	Text     string
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child element with the given name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// InnerText concatenates the text of n and all of its descendants in
// document order.
func (n *Node) InnerText() string {
	if n == nil {
		return ""
	}
	if len(n.Children) == 0 {
		return n.Text
	}
	var sb strings.Builder
	n.writeText(&sb)
	return sb.String()
}

func (n *Node) writeText(sb *strings.Builder) {
	for _, c := range n.Children {
		c.writeText(sb)
	}
	sb.WriteString(n.Text)
}

// Document is the tree rebuilt from one record's events.
type Document struct {
	Root *Node
}

// Lookup walks child names starting at the root. The first element of
// path must name the root itself.
func (d *Document) Lookup(path ...string) *Node {
	if d == nil || d.Root == nil || len(path) == 0 || d.Root.Name != path[0] {
		return nil
	}
	cur := d.Root
	for _, name := range path[1:] {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Count returns the number of element nodes in the document.
func (d *Document) Count() int {
	if d == nil || d.Root == nil {
		return 0
	}
	return countNodes(d.Root)
}

func countNodes(n *Node) int {
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}

// Walk visits every node depth-first in pre-order. Returning false from
// fn stops the walk.
func (d *Document) Walk(fn func(n *Node, depth int) bool) {
	if d == nil || d.Root == nil {
		return
	}
	walk(d.Root, 0, fn)
}

func walk(n *Node, depth int, fn func(*Node, int) bool) bool {
	if !fn(n, depth) {
		return false
	}
	for _, c := range n.Children {
		if !walk(c, depth+1, fn) {
			return false
		}
	}
	return true
}

// Events re-emits the document as a well-nested event sequence. Leaves
// become EmptyElement or SimpleElement events.
func (d *Document) Events() []Event {
	if d == nil || d.Root == nil {
		return nil
	}
	var out []Event
	return appendEvents(out, d.Root)
}

func appendEvents(out []Event, n *Node) []Event {
	attrs := append([]Attr(nil), n.Attrs...)
	if len(n.Children) == 0 {
		if n.Text == "" {
			return append(out, Empty(n.Name, attrs...))
		}
		return append(out, Simple(n.Name, n.Text, attrs...))
	}
	out = append(out, Start(n.Name, attrs...))
	for _, c := range n.Children {
		out = appendEvents(out, c)
	}
	if n.Text != "" {
		out = append(out, Chars(n.Text))
	}
	return append(out, End(n.Name))
}
