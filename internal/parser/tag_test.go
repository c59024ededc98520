package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildTag(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Tag
	}{
		{
			name: "open with attributes",
			raw:  `progressBar id='health' value='80' text='80/100'`,
			want: Tag{Name: "progressBar", Attributes: map[string]string{"id": "health", "value": "80", "text": "80/100"}},
		},
		{
			name: "closing",
			raw:  "/component",
			want: Tag{Name: "component", Attributes: map[string]string{}, IsClosing: true},
		},
		{
			name: "self closing",
			raw:  `pushStream id="thoughts"/`,
			want: Tag{Name: "pushStream", Attributes: map[string]string{"id": "thoughts"}, IsSelfClosing: true},
		},
		{
			name: "self closing without attributes",
			raw:  "compass/",
			want: Tag{Name: "compass", Attributes: map[string]string{}, IsSelfClosing: true},
		},
		{
			name: "surrounding whitespace",
			raw:  "  output class=\"mono\"  ",
			want: Tag{Name: "output", Attributes: map[string]string{"class": "mono"}},
		},
		{
			name: "tab separates name",
			raw:  "dir\tvalue=n",
			want: Tag{Name: "dir", Attributes: map[string]string{"value": "n"}},
		},
		{
			name: "empty",
			raw:  "",
			want: Tag{Name: "", Attributes: map[string]string{}},
		},
		{
			name: "bare value before self close",
			raw:  "a href=x/",
			want: Tag{Name: "a", Attributes: map[string]string{"href": "x"}, IsSelfClosing: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildTag(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("buildTag(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{`a='1' b="2" c=3`, map[string]string{"a": "1", "b": "2", "c": "3"}},
		{`a = '1'   b   =2`, map[string]string{"a": "1", "b": "2"}},
		{`id='active spells' clear="t"`, map[string]string{"id": "active spells", "clear": "t"}},
		{`a=1 a=2`, map[string]string{"a": "2"}},
		{`noeq b=2`, map[string]string{"b": "2"}},
		{`a='unterminated b=2`, map[string]string{"b": "2"}},
		{`a='mixed" b=2`, map[string]string{"a": "mixed", "b": "2"}},
		{`empty='' x=y`, map[string]string{"empty": "", "x": "y"}},
		{`dangling=`, map[string]string{}},
		{`'stray' k=v`, map[string]string{"k": "v"}},
		{``, map[string]string{}},
	}

	for _, tt := range tests {
		got := parseAttributes(tt.in)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("parseAttributes(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
