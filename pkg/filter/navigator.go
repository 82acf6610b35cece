package filter

import (
	"github.com/antchfx/xpath"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

// navigator exposes an evtx.Document to the XPath engine.
//
// Position is the chain of elements from the root element down to the
// current one (empty chain = document node) plus the index of each
// element among its siblings. A node's Text is presented as a single
// text child placed after its element children.
type navigator struct {
	doc   *evtx.Document
	path  []*evtx.Node
	index []int
	attr  int
	text  bool
}

var _ xpath.NodeNavigator = (*navigator)(nil)

func newNavigator(doc *evtx.Document) *navigator {
	return &navigator{doc: doc, attr: -1}
}

func (n *navigator) cur() *evtx.Node {
	if len(n.path) == 0 {
		return nil
	}
	return n.path[len(n.path)-1]
}

func (n *navigator) parent() *evtx.Node {
	if len(n.path) < 2 {
		return nil
	}
	return n.path[len(n.path)-2]
}

func (n *navigator) push(node *evtx.Node, idx int) {
	n.path = append(n.path, node)
	n.index = append(n.index, idx)
}

func (n *navigator) pop() {
	n.path = n.path[:len(n.path)-1]
	n.index = n.index[:len(n.index)-1]
}

func (n *navigator) replace(node *evtx.Node, idx int) {
	n.path[len(n.path)-1] = node
	n.index[len(n.index)-1] = idx
}

func (n *navigator) NodeType() xpath.NodeType {
	switch {
	case len(n.path) == 0:
		return xpath.RootNode
	case n.text:
		return xpath.TextNode
	case n.attr >= 0:
		return xpath.AttributeNode
	default:
		return xpath.ElementNode
	}
}

func (n *navigator) LocalName() string {
	cur := n.cur()
	switch {
	case cur == nil || n.text:
		return ""
	case n.attr >= 0:
		return cur.Attrs[n.attr].Name
	default:
		return cur.Name
	}
}

func (n *navigator) Prefix() string { return "" }

func (n *navigator) Value() string {
	cur := n.cur()
	switch {
	case cur == nil:
		if n.doc == nil {
			return ""
		}
		return n.doc.Root.InnerText()
	case n.text:
		return cur.Text
	case n.attr >= 0:
		return cur.Attrs[n.attr].Value
	default:
		return cur.InnerText()
	}
}

func (n *navigator) Copy() xpath.NodeNavigator {
	c := *n
	c.path = append([]*evtx.Node(nil), n.path...)
	c.index = append([]int(nil), n.index...)
	return &c
}

func (n *navigator) MoveToRoot() {
	n.path = n.path[:0]
	n.index = n.index[:0]
	n.attr = -1
	n.text = false
}

func (n *navigator) MoveToParent() bool {
	switch {
	case n.attr >= 0:
		n.attr = -1
		return true
	case n.text:
		n.text = false
		return true
	case len(n.path) > 0:
		n.pop()
		return true
	default:
		return false
	}
}

func (n *navigator) MoveToNextAttribute() bool {
	cur := n.cur()
	if cur == nil || n.text || n.attr >= len(cur.Attrs)-1 {
		return false
	}
	n.attr++
	return true
}

func (n *navigator) MoveToChild() bool {
	if n.attr >= 0 || n.text {
		return false
	}
	cur := n.cur()
	if cur == nil {
		if n.doc == nil || n.doc.Root == nil {
			return false
		}
		n.push(n.doc.Root, 0)
		return true
	}
	if len(cur.Children) > 0 {
		n.push(cur.Children[0], 0)
		return true
	}
	if cur.Text != "" {
		n.text = true
		return true
	}
	return false
}

func (n *navigator) MoveToFirst() bool {
	if n.attr >= 0 {
		return false
	}
	if n.text {
		cur := n.cur()
		if len(cur.Children) == 0 {
			return false
		}
		n.text = false
		n.push(cur.Children[0], 0)
		return true
	}
	p := n.parent()
	if p == nil || n.index[len(n.index)-1] == 0 {
		return false
	}
	n.replace(p.Children[0], 0)
	return true
}

func (n *navigator) MoveToNext() bool {
	if n.attr >= 0 || n.text {
		return false
	}
	p := n.parent()
	if p == nil {
		return false
	}
	next := n.index[len(n.index)-1] + 1
	if next < len(p.Children) {
		n.replace(p.Children[next], next)
		return true
	}
	if p.Text != "" {
		n.pop()
		n.text = true
		return true
	}
	return false
}

func (n *navigator) MoveToPrevious() bool {
	if n.attr >= 0 {
		return false
	}
	if n.text {
		cur := n.cur()
		if len(cur.Children) == 0 {
			return false
		}
		last := len(cur.Children) - 1
		n.text = false
		n.push(cur.Children[last], last)
		return true
	}
	p := n.parent()
	if p == nil {
		return false
	}
	prev := n.index[len(n.index)-1] - 1
	if prev < 0 {
		return false
	}
	n.replace(p.Children[prev], prev)
	return true
}

func (n *navigator) MoveTo(other xpath.NodeNavigator) bool {
	o, ok := other.(*navigator)
	if !ok || o.doc != n.doc {
		return false
	}
	n.path = append(n.path[:0], o.path...)
	n.index = append(n.index[:0], o.index...)
	n.attr = o.attr
	n.text = o.text
	return true
}
