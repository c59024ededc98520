package parser

import (
	"cmp"
	"strings"
)

// DefaultStream is the stream text belongs to when no stream is pushed.
const DefaultStream = "main"

// hiddenTags enclose text that is captured structurally but never displayed.
var hiddenTags = map[string]bool{
	"left":       true,
	"right":      true,
	"spell":      true,
	"inv":        true,
	"dialogData": true,
}

// State is the context that changes the meaning of subsequent text.
// It is a value; Apply returns the successor state.
type State struct {
	Stream    string `json:"stream"`
	Component string `json:"component,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
	// Style is the preset armed by a preceding preset/style tag. It applies to
	// text until the next element tag.
	Style string `json:"style,omitempty"`
}

// InitialState returns the state of a fresh connection.
func InitialState() State {
	return State{Stream: DefaultStream}
}

// Apply returns the state after tag has been seen. Text records leave the
// state unchanged.
//
// popStream resets to the default stream rather than unwinding a stack of
// pushed streams; nested pushes are flattened.
func (s State) Apply(tag Tag) State {
	if tag.IsText() {
		return s
	}

	switch tag.Name {
	case "stream", "pushStream":
		if tag.IsClosing {
			s.Stream = DefaultStream
		} else {
			s.Stream = cmp.Or(tag.Attr("id"), DefaultStream)
		}
	case "popStream":
		s.Stream = DefaultStream
	case "component", "compDef":
		if tag.IsClosing {
			s.Component = ""
		} else {
			s.Component = tag.Attr("id")
		}
	}

	// A self-closing hidden tag encloses nothing.
	if hiddenTags[tag.Name] && !tag.IsSelfClosing {
		s.Hidden = !tag.IsClosing
	}

	s.Style = ""
	if (tag.Name == "preset" || tag.Name == "style") && !tag.IsClosing {
		s.Style = tag.Attr("id")
	}
	return s
}

// Visible reports whether text observed in this state belongs in clean text.
func (s State) Visible() bool {
	if s.Stream != DefaultStream && s.Stream != "room" {
		return false
	}
	if strings.HasPrefix(s.Component, "room") {
		return false
	}
	return !s.Hidden
}
