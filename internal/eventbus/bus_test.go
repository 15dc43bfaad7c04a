package eventbus

import (
	"testing"
)

func TestSubscribeFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	booking, unsubBooking := b.Subscribe(4, "booking.")
	defer unsubBooking()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypeBookingOutcome, Data: "x"})
	b.Publish(Event{Type: TypeLogLine})

	if len(booking) != 1 {
		t.Fatalf("booking subscriber got %d events, want 1", len(booking))
	}
	if len(all) != 2 {
		t.Fatalf("catch-all subscriber got %d events, want 2", len(all))
	}
	e := <-booking
	if e.Time.IsZero() {
		t.Fatal("expected publish time to be stamped")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: TypeLogLine})
	}
	if len(ch) != 1 {
		t.Fatalf("len = %d, want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: TypeLogLine})
}
