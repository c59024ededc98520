// Package parser turns the tagged text stream sent by the game server into
// display-ready clean text and an ordered list of tag records.
//
// Input arrives in arbitrary fragments. A Parser keeps unterminated tags
// between calls, so the records produced for a stream do not depend on how
// the stream was sliced.
package parser

import (
	"html"
	"strings"
)

// Result is the output of one Parse call.
type Result struct {
	// CleanText is escaped, filtered text safe to append to a display log.
	// A styled run opens its span in the call that emits its first text and
	// closes it in the call that sees the next tag, so spans are balanced
	// only over the concatenation of results.
	CleanText string `json:"clean_text"`
	// Tags holds element and :text records in order of appearance.
	Tags []Tag `json:"tags"`
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxPending caps the size of an unterminated tag kept between calls.
// Zero disables the cap.
func WithMaxPending(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxPending = n
		}
	}
}

// Parser is the per-connection parsing state. It is not safe for concurrent
// use; calls on one Parser must be serialized.
type Parser struct {
	buf        string
	state      State
	maxPending int
	// spanOpen is set while a style span has been written to clean text and
	// not yet closed.
	spanOpen bool
}

// New creates a Parser in the initial state.
func New(opts ...Option) *Parser {
	p := &Parser{state: InitialState()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current context state.
func (p *Parser) State() State {
	return p.state
}

// Pending returns the number of buffered bytes awaiting more input.
func (p *Parser) Pending() int {
	return len(p.buf)
}

// Parse consumes chunk and returns the text and tags it completes.
//
// The returned Result is always usable. A non-nil error is a *ProtocolError:
// the pending tag overflowed, was flushed as literal text, and parsing went on.
//
// Text ending in a fragment that could still become an entity ("&", "&am")
// keeps that fragment buffered until the next call or Flush, so an entity
// split across chunks is escaped the same as a whole one.
func (p *Parser) Parse(chunk string) (Result, error) {
	p.buf += chunk

	var (
		clean strings.Builder
		tags  = []Tag{}
		err   error
	)
	for {
		start := strings.IndexByte(p.buf, '<')
		if start < 0 {
			// Hold back a trailing "&am" so an entity split across chunks is
			// not escaped twice.
			keep := partialEntityLen(p.buf)
			if n := len(p.buf) - keep; n > 0 {
				tags = p.emitText(p.buf[:n], &clean, tags)
				p.buf = p.buf[n:]
			}
			break
		}
		if start > 0 {
			tags = p.emitText(p.buf[:start], &clean, tags)
			p.buf = p.buf[start:]
			continue
		}

		end := strings.IndexByte(p.buf, '>')
		if end < 0 {
			if p.maxPending > 0 && len(p.buf) > p.maxPending {
				err = &ProtocolError{Pending: len(p.buf), Limit: p.maxPending, Err: ErrPendingOverflow}
				tags = p.emitText(p.buf, &clean, tags)
				p.buf = ""
			}
			break
		}

		tag := buildTag(p.buf[1:end])
		p.buf = p.buf[end+1:]
		// Every element tag ends the armed style.
		p.closeSpan(&clean)
		p.state = p.state.Apply(tag)
		tags = append(tags, tag)
	}

	return Result{CleanText: clean.String(), Tags: tags}, err
}

// Flush emits any buffered bytes as a final text run and closes an open style
// span. It is meant for the end of a connection; an unterminated tag is
// treated as literal text.
func (p *Parser) Flush() Result {
	var clean strings.Builder
	tags := []Tag{}
	if p.buf != "" {
		tags = p.emitText(p.buf, &clean, tags)
		p.buf = ""
	}
	p.closeSpan(&clean)
	return Result{CleanText: clean.String(), Tags: tags}
}

func (p *Parser) closeSpan(clean *strings.Builder) {
	if p.spanOpen {
		clean.WriteString(`</span>`)
		p.spanOpen = false
	}
}

// emitText records a text run under the current state and appends its
// visible part to clean.
func (p *Parser) emitText(raw string, clean *strings.Builder, tags []Tag) []Tag {
	escaped := Escape(raw)
	st := p.state
	tags = append(tags, Tag{
		Name: TextTagName,
		Attributes: map[string]string{
			"stream":    st.Stream,
			"component": st.Component,
			"style":     st.Style,
		},
		Text: escaped,
	})

	if !st.Visible() {
		return tags
	}
	if st.Style != "" && !p.spanOpen {
		clean.WriteString(`<span class="preset-`)
		clean.WriteString(html.EscapeString(st.Style))
		clean.WriteString(`">`)
		p.spanOpen = true
	}
	clean.WriteString(escaped)
	return tags
}
