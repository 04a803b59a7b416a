package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherDeliversToSubscribers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var got []Event
	d.Subscribe(EventTicketStatusChanged, func(ctx context.Context, e Event) error {
		got = append(got, e)
		return nil
	})
	d.Subscribe(EventTicketMessageAdded, func(ctx context.Context, e Event) error {
		t.Error("handler for another event type should not fire")
		return nil
	})

	err := d.Publish(context.Background(), Event{ID: "e1", Type: EventTicketStatusChanged, TicketID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("got %v, want one delivery of e1", got)
	}
}

func TestDispatcherContinuesPastFailingHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	var reached bool
	d.Subscribe(EventTicketCreated, func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	d.Subscribe(EventTicketCreated, func(ctx context.Context, e Event) error {
		reached = true
		return nil
	})
	if err := d.Publish(context.Background(), Event{Type: EventTicketCreated}); err != nil {
		t.Fatal(err)
	}
	if !reached {
		t.Error("later handler should still run after an earlier one fails")
	}
}
