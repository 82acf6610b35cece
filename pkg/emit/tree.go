package emit

import (
	"encoding/xml"
	"strings"
	"unicode/utf8"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

const (
	indentStep   = "  "
	DefaultWidth = 80
)

// Tree renders doc as indented XML, one element per line. Leaf content
// stays on the element's line while the whole line fits in width runes.
func Tree(doc *evtx.Document, width int) string {
	if doc == nil || doc.Root == nil {
		return ""
	}
	if width <= 0 {
		width = DefaultWidth
	}
	var sb strings.Builder
	writeNode(&sb, doc.Root, 0, width)
	return strings.TrimSuffix(sb.String(), "\n")
}

func writeNode(sb *strings.Builder, n *evtx.Node, depth, width int) {
	indent := strings.Repeat(indentStep, depth)
	open := openTag(n)

	if len(n.Children) == 0 {
		if n.Text == "" {
			sb.WriteString(indent)
			sb.WriteString(open[:len(open)-1])
			sb.WriteString("/>\n")
			return
		}
		writeContent(sb, indent, open, content(n.Text), closeTag(n.Name), width)
		return
	}

	sb.WriteString(indent)
	sb.WriteString(open)
	sb.WriteByte('\n')
	for _, c := range n.Children {
		writeNode(sb, c, depth+1, width)
	}
	if n.Text != "" {
		sb.WriteString(indent)
		sb.WriteString(indentStep)
		sb.WriteString(content(n.Text))
		sb.WriteByte('\n')
	}
	sb.WriteString(indent)
	sb.WriteString(closeTag(n.Name))
	sb.WriteByte('\n')
}

func writeContent(sb *strings.Builder, indent, open, text, closing string, width int) {
	n := utf8.RuneCountInString(indent) + utf8.RuneCountInString(open) +
		utf8.RuneCountInString(text) + utf8.RuneCountInString(closing)
	if n <= width {
		sb.WriteString(indent)
		sb.WriteString(open)
		sb.WriteString(text)
		sb.WriteString(closing)
		sb.WriteByte('\n')
		return
	}
	sb.WriteString(indent)
	sb.WriteString(open)
	sb.WriteByte('\n')
	sb.WriteString(indent)
	sb.WriteString(text)
	sb.WriteByte('\n')
	sb.WriteString(indent)
	sb.WriteString(closing)
	sb.WriteByte('\n')
}

func openTag(n *evtx.Node) string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(n.Name)
	for _, a := range n.Attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.Name)
		sb.WriteString(`="`)
		_ = xml.EscapeText(&sb, []byte(a.Value))
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
	return sb.String()
}

func closeTag(name string) string { return "</" + name + ">" }

// content wraps text in a CDATA section when it holds markup characters
// or starts or ends with whitespace, which a reader may take for layout.
func content(text string) string {
	if !strings.ContainsAny(text, "<>&") && !edgeSpace(text) {
		return text
	}
	return "<![CDATA[" + strings.ReplaceAll(text, "]]>", "]]]]><![CDATA[>") + "]]>"
}

func edgeSpace(s string) bool {
	const space = " \t\r\n"
	return s != "" && (strings.IndexByte(space, s[0]) >= 0 || strings.IndexByte(space, s[len(s)-1]) >= 0)
}
