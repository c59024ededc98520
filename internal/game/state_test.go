package game

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mattjoyce/illthorn/internal/parser"
)

func apply(t *testing.T, s *State, input string) []Update {
	t.Helper()
	res, err := parser.New().Parse(input)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return s.Apply(res.Tags)
}

func TestApplyVitals(t *testing.T) {
	s := NewState()
	updates := apply(t, s, `<progressBar id='health' value='80' text='health 80/100'/><progressBar id='stance' value='100' text='offensive'/>`)

	want := map[string]Vital{
		"health": {Value: 80, Current: 80, Max: 100},
		"stance": {Value: 100},
	}
	if diff := cmp.Diff(want, s.Vitals); diff != "" {
		t.Fatalf("vitals mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Update{UpdateVitals}, updates); diff != "" {
		t.Fatalf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyVitalIgnoresBadValue(t *testing.T) {
	s := NewState()
	if updates := apply(t, s, `<progressBar id='mana' value='lots'/>`); len(updates) != 0 {
		t.Fatalf("expected no updates, got %v", updates)
	}
	if len(s.Vitals) != 0 {
		t.Fatalf("expected no vitals, got %+v", s.Vitals)
	}
}

func TestApplyCompassAcrossChunks(t *testing.T) {
	s := NewState()
	p := parser.New()
	for _, chunk := range []string{"<comp", "ass/><dir value='n'/>", "<dir value='n'/><dir value='se'/>"} {
		res, err := p.Parse(chunk)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		s.Apply(res.Tags)
	}
	if diff := cmp.Diff([]string{"n", "se"}, s.Exits); diff != "" {
		t.Fatalf("exits mismatch (-want +got):\n%s", diff)
	}

	apply(t, s, "<compass><dir value='up'/></compass>")
	if diff := cmp.Diff([]string{"up"}, s.Exits); diff != "" {
		t.Fatalf("compass should clear exits (-want +got):\n%s", diff)
	}
}

func TestApplyHands(t *testing.T) {
	s := NewState()
	apply(t, s, `<left exist="1" noun="sword">a broadsword</left><right>Empty</right><spell>None</spell>You look around.`)
	want := Hands{Left: "a broadsword", Right: "Empty", Spell: "None"}
	if s.Hands != want {
		t.Fatalf("hands = %+v, want %+v", s.Hands, want)
	}

	apply(t, s, `<left>a round shield</left>`)
	if s.Hands.Left != "a round shield" {
		t.Fatalf("left hand should be replaced, got %q", s.Hands.Left)
	}
}

func TestApplyActiveSpells(t *testing.T) {
	s := NewState()
	apply(t, s, `<dialogData id='Active Spells' clear='t'></dialogData>`+
		`<dialogData id='Active Spells'>`+
		`<label id='lbl101' value='Spirit Warding I'/>`+
		`<progressBar id='101' value='90' text="Spirit Warding I" time='0:45:00'/>`+
		`<link id='101' value='Spirit Warding I' cmd='spell 101'/>`+
		`</dialogData>`+
		`<progressBar id='health' value='50'/>`)

	sp, ok := s.Spells["101"]
	if !ok {
		t.Fatalf("expected spell 101, got %+v", s.Spells)
	}
	want := Spell{ID: "101", Name: "Spirit Warding I", Value: 90, Time: "0:45:00"}
	if sp != want {
		t.Fatalf("spell = %+v, want %+v", sp, want)
	}
	if _, ok := s.Vitals["health"]; !ok {
		t.Fatalf("progressBar after dialog close should update vitals")
	}
	if _, ok := s.Vitals["101"]; ok {
		t.Fatalf("spell progress bar leaked into vitals")
	}

	apply(t, s, `<dialogData id='Active Spells' clear='t'></dialogData>`)
	if len(s.Spells) != 0 {
		t.Fatalf("clear should empty spells, got %+v", s.Spells)
	}
}

func TestApplyChannels(t *testing.T) {
	s := NewState()
	apply(t, s, `<pushStream id="thoughts"/>[General]-Bob: "hi"`+"\n"+`<popStream/>Main text<pushStream id="thoughts"/>second<popStream/>`)
	want := []string{"[General]-Bob: \"hi\"\n", "second"}
	if diff := cmp.Diff(want, s.Channels["thoughts"]); diff != "" {
		t.Fatalf("thoughts channel mismatch (-want +got):\n%s", diff)
	}
	if _, ok := s.Channels["main"]; ok {
		t.Fatalf("main text should not be routed to a channel")
	}
}

func TestApplyRoomAndPrompt(t *testing.T) {
	s := NewState()
	updates := apply(t, s, `<streamWindow id='room' title='Room' subtitle=" - [Town Square]"/>`+
		`<component id='room desc'>A wide square.</component>`+
		`<prompt time="1700000000">&gt;</prompt><roundTime value='1700000005'/>`)

	if s.RoomTitle != "[Town Square]" {
		t.Fatalf("room title = %q", s.RoomTitle)
	}
	if s.Room["room desc"] != "A wide square." {
		t.Fatalf("room desc = %q", s.Room["room desc"])
	}
	if s.Prompt != (Prompt{Time: 1700000000, Text: "&gt;"}) {
		t.Fatalf("prompt = %+v", s.Prompt)
	}
	if s.RoundTime != 1700000005 {
		t.Fatalf("round time = %d", s.RoundTime)
	}
	want := []Update{UpdateRoom, UpdatePrompt, UpdateRoundTime}
	if diff := cmp.Diff(want, updates); diff != "" {
		t.Fatalf("updates mismatch (-want +got):\n%s", diff)
	}

	apply(t, s, `<component id='room desc'>A quiet square.</component>`)
	if s.Room["room desc"] != "A quiet square." {
		t.Fatalf("reopened component should replace text, got %q", s.Room["room desc"])
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewState()
	apply(t, s, `<compass><dir value='n'/></compass><progressBar id='health' value='10'/>`)
	cp := s.Clone()
	apply(t, s, `<dir value='s'/><progressBar id='health' value='20'/>`)

	if len(cp.Exits) != 1 || cp.Vitals["health"].Value != 10 {
		t.Fatalf("clone changed with original: %+v", cp)
	}
}
