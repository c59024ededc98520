package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/illthorn/internal/game"
	"github.com/mattjoyce/illthorn/internal/parser"
)

// EventType identifies what a session Event carries.
type EventType string

const (
	// EventData carries the result of parsing one received chunk.
	EventData EventType = "data"
	// EventClosed is the last event of a session.
	EventClosed EventType = "stream.closed"
)

// Event is published to subscribers of a session.
type Event struct {
	Type      EventType     `json:"type"`
	Session   string        `json:"session"`
	Seq       int           `json:"seq,omitempty"`
	CleanText string        `json:"clean_text,omitempty"`
	Tags      []parser.Tag  `json:"tags,omitempty"`
	Updates   []game.Update `json:"updates,omitempty"`
	Error     string        `json:"error,omitempty"`
	Time      time.Time     `json:"time"`
}

// Subscription receives a session's events until the session closes or the
// subscriber unsubscribes. Events are dropped when C is full.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because the subscriber lagged.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// hub fans events out to a session's subscribers.
type hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &hub{subs: map[*Subscription]struct{}{}, buffer: buffer}
}

func (h *hub) subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// publish delivers ev without blocking and returns how many subscribers missed it.
func (h *hub) publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}
	return dropped
}

// close delivers final where there is room and ends every subscription.
func (h *hub) close(final Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		select {
		case sub.ch <- final:
		default:
			sub.dropped.Add(1)
		}
		close(sub.ch)
	}
	h.subs = nil
}
