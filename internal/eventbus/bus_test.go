package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeAnyLive, Data: AnyLive{Live: true}})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeAnyLive || e.Time.IsZero() {
				t.Fatalf("event = %+v", e)
			}
			if !e.Data.(AnyLive).Live {
				t.Fatalf("payload = %+v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, must not block
	if e := <-ch; e.Type != "a" {
		t.Fatalf("first event = %q", e.Type)
	}
	if n := b.Dropped(); n != 1 {
		t.Fatalf("dropped = %d", n)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "after-unsubscribe"})
}

func TestSubscribeFiltersTypes(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4, TypeAnyLive, "notifier.")
	defer unsub()

	b.Publish(Event{Type: TypeCycleCompleted})
	b.Publish(Event{Type: TypeNotifySent})
	b.Publish(Event{Type: TypeAnyLive})

	var got []string
	for len(got) < 2 {
		select {
		case e := <-ch:
			got = append(got, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("got %v", got)
		}
	}
	if got[0] != TypeNotifySent || got[1] != TypeAnyLive {
		t.Fatalf("got %v", got)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected %q", e.Type)
	default:
	}
	if b.Dropped() != 0 {
		t.Fatalf("filtered events counted as dropped")
	}
}
