package filter

import "strings"

const (
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// quote renders s as an XPath 1.0 string literal. XPath has no escape
// sequences, so a value holding both quote characters is split and
// rebuilt with concat().
func quote(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	args := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			args = append(args, `"'"`)
		}
		if p != "" {
			args = append(args, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(args, ",") + ")"
}

// foldASCII upper-cases the 26 ASCII letters and nothing else, the same
// mapping translate() applies on the record side.
func foldASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'a' && b[j] <= 'z' {
					b[j] -= 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

// foldExpr wraps an XPath expression in the ASCII case fold.
func foldExpr(expr string) string {
	return "translate(" + expr + ",'" + lowerASCII + "','" + upperASCII + "')"
}
