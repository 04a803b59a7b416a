package chatcache

import (
	"context"
	"testing"
	"time"

	"github.com/peopledesk/ticketd/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if msgs, err := store.Get(ctx, "t1"); err != nil || msgs != nil {
		t.Fatalf("empty store should return nil, nil; got %v, %v", msgs, err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []domain.Message{
		{ID: "b", TicketID: "t1", Content: "second", CreatedAt: base.Add(time.Minute)},
		{ID: "a", TicketID: "t1", Content: "first", CreatedAt: base},
	}
	if err := store.Put(ctx, "t1", in); err != nil {
		t.Fatal(err)
	}

	out, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
		t.Fatalf("entries should come back in send order: %v", out)
	}

	// The stored copy must be isolated from caller mutations.
	out[0].Content = "mutated"
	again, _ := store.Get(ctx, "t1")
	if again[0].Content != "first" {
		t.Error("store leaked its internal slice to a caller")
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Put(ctx, "t1", []domain.Message{{ID: "a", TicketID: "t1"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if msgs, err := store.Get(ctx, "t1"); err != nil || msgs != nil {
		t.Fatalf("cleared entry should be gone, got %v, %v", msgs, err)
	}
}
