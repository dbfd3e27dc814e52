package selector

import (
	"fmt"
	"strings"
)

// EscapeIdent escapes s for use as a CSS identifier, following CSS.escape.
func EscapeIdent(s string) string {
	if s == "-" {
		return `\-`
	}
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case r >= 0x1 && r <= 0x1f, r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, `\%x `, r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, `\%x `, r)
		case r >= 0x80, r == '-', r == '_',
			r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EscapeString escapes s for use inside a double-quoted CSS string.
func EscapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '"', r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == 0:
			b.WriteRune('\uFFFD')
		case r < 0x20, r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
