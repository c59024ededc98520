package parser

import "strings"

// TextTagName is the reserved name of the synthetic records that carry plain text runs.
const TextTagName = ":text"

// Tag is one structured record produced by the parser: either an element tag
// or a synthetic :text record for a run of plain text.
type Tag struct {
	Name          string            `json:"name"`
	Attributes    map[string]string `json:"attributes"`
	Text          string            `json:"text,omitempty"`
	IsClosing     bool              `json:"is_closing,omitempty"`
	IsSelfClosing bool              `json:"is_self_closing,omitempty"`
}

// Attr returns the attribute value for key, or "" when absent.
func (t Tag) Attr(key string) string {
	return t.Attributes[key]
}

// IsText reports whether t is a plain text record.
func (t Tag) IsText() bool {
	return t.Name == TextTagName
}

// buildTag parses the raw content found between '<' and '>'.
func buildTag(raw string) Tag {
	var tag Tag
	if strings.HasPrefix(raw, "/") {
		tag.IsClosing = true
		raw = raw[1:]
	}
	if strings.HasSuffix(raw, "/") {
		tag.IsSelfClosing = true
		raw = raw[:len(raw)-1]
	}
	raw = strings.TrimSpace(raw)

	name, attrString := raw, ""
	if i := strings.IndexFunc(raw, isSpaceRune); i >= 0 {
		name, attrString = raw[:i], raw[i+1:]
	}
	tag.Name = name
	tag.Attributes = parseAttributes(attrString)
	return tag
}

// parseAttributes scans s for key=value pairs. Fragments that do not form a
// pair are skipped and scanning resumes at the next byte. A repeated key keeps
// the last value.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for i := 0; i < len(s); {
		key, value, next, ok := matchAttribute(s, i)
		if !ok {
			i++
			continue
		}
		attrs[key] = value
		i = next
	}
	return attrs
}

// matchAttribute tries to read one pair starting exactly at i. Values are
// single-quoted, double-quoted or bare; a quoted value ends at the first quote
// of either kind and there is no escaping.
func matchAttribute(s string, i int) (key, value string, next int, ok bool) {
	j := i
	for j < len(s) && isWordByte(s[j]) {
		j++
	}
	if j == i {
		return "", "", 0, false
	}
	key = s[i:j]

	j = skipSpace(s, j)
	if j >= len(s) || s[j] != '=' {
		return "", "", 0, false
	}
	j = skipSpace(s, j+1)
	if j >= len(s) {
		return "", "", 0, false
	}

	if isQuote(s[j]) {
		end := strings.IndexAny(s[j+1:], `'"`)
		if end < 0 {
			return "", "", 0, false
		}
		start := j + 1
		return key, s[start : start+end], start + end + 1, true
	}

	k := j
	for k < len(s) && !isQuote(s[k]) && !isSpaceByte(s[k]) && s[k] != '>' {
		k++
	}
	if k == j {
		return "", "", 0, false
	}
	return key, s[j:k], k, true
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpaceByte(s[i]) {
		i++
	}
	return i
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isQuote(c byte) bool {
	return c == '\'' || c == '"'
}

func isSpaceByte(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func isSpaceRune(r rune) bool {
	return r < 0x80 && isSpaceByte(byte(r))
}
