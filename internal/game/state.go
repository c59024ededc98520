// Package game folds parser tag records into the client's view of the
// character: vitals, exits, hands, active spells and side channels.
package game

import (
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/mattjoyce/illthorn/internal/parser"
)

// Update names a part of the State that changed while applying tags.
type Update string

const (
	UpdateVitals    Update = "vitals"
	UpdateExits     Update = "exits"
	UpdateHands     Update = "hands"
	UpdateSpells    Update = "spells"
	UpdateChannels  Update = "channels"
	UpdateRoom      Update = "room"
	UpdatePrompt    Update = "prompt"
	UpdateRoundTime Update = "roundtime"
)

// Channels are the streams whose text is routed to a side window.
var Channels = []string{
	"thoughts", "room", "death", "speech", "talk", "familiar", "logons",
	"bounty", "society", "ambients", "announcements", "loot", "inv",
}

const maxChannelLines = 500

var vitalRangePattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

// Vital is one progress bar such as health or mana.
type Vital struct {
	Value   int `json:"value"`
	Current int `json:"current,omitempty"`
	Max     int `json:"max,omitempty"`
}

// Hands is what the character is holding and has prepared.
type Hands struct {
	Left  string `json:"left"`
	Right string `json:"right"`
	Spell string `json:"spell"`
}

// Spell is one entry of the active spells dialog.
type Spell struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Value int    `json:"value,omitempty"`
	Time  string `json:"time,omitempty"`
}

// Prompt is the last prompt received.
type Prompt struct {
	Time int64  `json:"time"`
	Text string `json:"text"`
}

// State is the domain view built from the tag stream of one connection.
// It is not safe for concurrent use.
type State struct {
	Vitals    map[string]Vital    `json:"vitals"`
	Exits     []string            `json:"exits"`
	Hands     Hands               `json:"hands"`
	Spells    map[string]Spell    `json:"spells"`
	Channels  map[string][]string `json:"channels"`
	Room      map[string]string   `json:"room"`
	RoomTitle string              `json:"room_title,omitempty"`
	Prompt    Prompt              `json:"prompt"`
	RoundTime int64               `json:"round_time,omitempty"`
	CastTime  int64               `json:"cast_time,omitempty"`

	holding   string
	inPrompt  bool
	spellMode bool
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		Vitals:   map[string]Vital{},
		Spells:   map[string]Spell{},
		Channels: map[string][]string{},
		Room:     map[string]string{},
	}
}

// Apply folds tags into the state and returns the parts that changed, in
// first-changed order.
func (s *State) Apply(tags []parser.Tag) []Update {
	var updates []Update
	mark := func(u Update) {
		if !slices.Contains(updates, u) {
			updates = append(updates, u)
		}
	}

	for _, tag := range tags {
		if tag.IsText() {
			s.applyText(tag, mark)
			continue
		}
		s.applyElement(tag, mark)
	}
	return updates
}

func (s *State) applyText(tag parser.Tag, mark func(Update)) {
	if s.holding != "" {
		s.setHand(s.holding, s.hand(s.holding)+tag.Text)
		mark(UpdateHands)
	}
	if s.inPrompt {
		s.Prompt.Text += tag.Text
		mark(UpdatePrompt)
	}
	if component := tag.Attr("component"); strings.HasPrefix(component, "room") {
		s.Room[component] += tag.Text
		mark(UpdateRoom)
	}
	if stream := tag.Attr("stream"); slices.Contains(Channels, stream) {
		s.appendChannel(stream, tag.Text)
		mark(UpdateChannels)
	}
}

func (s *State) applyElement(tag parser.Tag, mark func(Update)) {
	switch tag.Name {
	case "progressBar":
		if s.spellMode {
			s.mergeSpell(Spell{ID: tag.Attr("id"), Name: tag.Attr("text"), Value: atoi(tag.Attr("value")), Time: tag.Attr("time")})
			mark(UpdateSpells)
			return
		}
		if s.applyVital(tag) {
			mark(UpdateVitals)
		}
	case "label", "link":
		if s.spellMode {
			s.mergeSpell(Spell{ID: tag.Attr("id"), Name: tag.Attr("value")})
			mark(UpdateSpells)
		}
	case "dialogData":
		if !strings.EqualFold(tag.Attr("id"), "active spells") {
			if tag.IsClosing {
				s.spellMode = false
			}
			return
		}
		if tag.Attr("clear") == "t" {
			clear(s.Spells)
			mark(UpdateSpells)
		}
		s.spellMode = !tag.IsClosing && !tag.IsSelfClosing
	case "compass":
		if !tag.IsClosing {
			s.Exits = s.Exits[:0]
			mark(UpdateExits)
		}
	case "dir":
		if v := tag.Attr("value"); v != "" && !slices.Contains(s.Exits, v) {
			s.Exits = append(s.Exits, v)
			mark(UpdateExits)
		}
	case "left", "right", "spell":
		switch {
		case tag.IsClosing:
			s.holding = ""
		case tag.IsSelfClosing:
			s.setHand(tag.Name, "")
			mark(UpdateHands)
		default:
			s.holding = tag.Name
			s.setHand(tag.Name, "")
			mark(UpdateHands)
		}
	case "component", "compDef":
		if id := tag.Attr("id"); !tag.IsClosing && strings.HasPrefix(id, "room") {
			s.Room[id] = ""
			mark(UpdateRoom)
		}
	case "streamWindow":
		if sub := tag.Attr("subtitle"); sub != "" && (tag.Attr("id") == "main" || tag.Attr("id") == "room") {
			s.RoomTitle = strings.TrimPrefix(sub, " - ")
			mark(UpdateRoom)
		}
	case "prompt":
		if tag.IsClosing {
			s.inPrompt = false
			return
		}
		s.Prompt = Prompt{Time: atoi64(tag.Attr("time"))}
		s.inPrompt = !tag.IsSelfClosing
		mark(UpdatePrompt)
	case "roundTime":
		s.RoundTime = atoi64(tag.Attr("value"))
		mark(UpdateRoundTime)
	case "castTime":
		s.CastTime = atoi64(tag.Attr("value"))
		mark(UpdateRoundTime)
	}
}

func (s *State) applyVital(tag parser.Tag) bool {
	id := tag.Attr("id")
	value, err := strconv.Atoi(tag.Attr("value"))
	if id == "" || err != nil {
		return false
	}
	v := s.Vitals[id]
	v.Value = value
	if m := vitalRangePattern.FindStringSubmatch(tag.Attr("text")); m != nil {
		v.Current = atoi(m[1])
		v.Max = atoi(m[2])
	}
	s.Vitals[id] = v
	return true
}

// mergeSpell overwrites the fields of an existing entry that the update sets.
func (s *State) mergeSpell(update Spell) {
	if update.ID == "" {
		return
	}
	cur := s.Spells[update.ID]
	cur.ID = update.ID
	if update.Name != "" {
		cur.Name = update.Name
	}
	if update.Value != 0 {
		cur.Value = update.Value
	}
	if update.Time != "" {
		cur.Time = update.Time
	}
	s.Spells[update.ID] = cur
}

func (s *State) appendChannel(name, text string) {
	lines := s.Channels[name]
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		lines[n-1] += text
	} else {
		lines = append(lines, text)
	}
	if len(lines) > maxChannelLines {
		lines = lines[len(lines)-maxChannelLines:]
	}
	s.Channels[name] = lines
}

func (s *State) hand(name string) string {
	switch name {
	case "left":
		return s.Hands.Left
	case "right":
		return s.Hands.Right
	default:
		return s.Hands.Spell
	}
}

func (s *State) setHand(name, value string) {
	switch name {
	case "left":
		s.Hands.Left = value
	case "right":
		s.Hands.Right = value
	default:
		s.Hands.Spell = value
	}
}

// Clone returns a deep copy suitable for handing to another goroutine.
func (s *State) Clone() *State {
	cp := *s
	cp.Vitals = maps.Clone(s.Vitals)
	cp.Exits = slices.Clone(s.Exits)
	cp.Spells = maps.Clone(s.Spells)
	cp.Room = maps.Clone(s.Room)
	cp.Channels = make(map[string][]string, len(s.Channels))
	for k, v := range s.Channels {
		cp.Channels[k] = slices.Clone(v)
	}
	return &cp
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
