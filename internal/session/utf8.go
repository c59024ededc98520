package session

import (
	"strings"
	"unicode/utf8"
)

// utf8Buffer turns a byte stream into strings without splitting a multi-byte
// character across reads. Invalid sequences become U+FFFD.
type utf8Buffer struct {
	pending []byte
}

// Write adds p and returns the text that is complete so far.
func (b *utf8Buffer) Write(p []byte) string {
	data := append(b.pending, p...)
	cut := completeLen(data)
	b.pending = append([]byte(nil), data[cut:]...)
	return strings.ToValidUTF8(string(data[:cut]), "\uFFFD")
}

// Flush returns whatever is left, even if it is an incomplete character.
func (b *utf8Buffer) Flush() string {
	if len(b.pending) == 0 {
		return ""
	}
	out := strings.ToValidUTF8(string(b.pending), "\uFFFD")
	b.pending = nil
	return out
}

// completeLen returns the length of the longest prefix of p that does not end
// inside an unfinished character.
func completeLen(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if utf8.FullRune(p[i:]) {
			return len(p)
		}
		return i
	}
	return len(p)
}
