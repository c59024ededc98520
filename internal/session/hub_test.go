package session

import "testing"

func TestHubDropsForLaggingSubscriber(t *testing.T) {
	h := newHub(1)
	slow := h.subscribe()
	fast := h.subscribe()

	if dropped := h.publish(Event{Seq: 1}); dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	<-fast.C
	if dropped := h.publish(Event{Seq: 2}); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if slow.Dropped() != 1 || fast.Dropped() != 0 {
		t.Fatalf("dropped counters slow=%d fast=%d", slow.Dropped(), fast.Dropped())
	}
	if ev := <-slow.C; ev.Seq != 1 {
		t.Fatalf("slow got seq %d, want 1", ev.Seq)
	}
	if ev := <-fast.C; ev.Seq != 2 {
		t.Fatalf("fast got seq %d, want 2", ev.Seq)
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	h := newHub(4)
	sub := h.subscribe()
	gone := h.subscribe()
	h.unsubscribe(gone)
	h.unsubscribe(gone)

	h.close(Event{Type: EventClosed})
	h.close(Event{Type: EventClosed})

	ev, ok := <-sub.C
	if !ok || ev.Type != EventClosed {
		t.Fatalf("expected final event, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel")
	}
	if _, ok := <-gone.C; ok {
		t.Fatal("unsubscribed channel should be closed")
	}
	if _, ok := <-h.subscribe().C; ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}
