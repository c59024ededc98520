package parser

import "strings"

var entities = [...]string{"&amp;", "&lt;", "&gt;", "&quot;", "&apos;"}

// Escape escapes '<', '>' and any '&' that does not already start one of the
// recognized entities, so escaping escaped text is a no-op.
func Escape(s string) string {
	if !strings.ContainsAny(s, "&<>") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			if startsWithEntity(s[i:]) {
				b.WriteByte('&')
			} else {
				b.WriteString("&amp;")
			}
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func startsWithEntity(s string) bool {
	for _, e := range entities {
		if strings.HasPrefix(s, e) {
			return true
		}
	}
	return false
}

// partialEntityLen returns the length of a trailing fragment of s that could
// still grow into a recognized entity, or 0.
func partialEntityLen(s string) int {
	i := strings.LastIndexByte(s, '&')
	if i < 0 {
		return 0
	}
	tail := s[i:]
	for _, e := range entities {
		if len(tail) < len(e) && strings.HasPrefix(e, tail) {
			return len(tail)
		}
	}
	return 0
}
