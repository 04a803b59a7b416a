package domain

import (
	"testing"
	"time"
)

func TestSortMessagesAscending(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "third", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "first", CreatedAt: base},
		{ID: "second", CreatedAt: base.Add(time.Minute)},
	}
	SortMessages(msgs)
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, msgs[i].ID, id)
		}
	}
}

func TestSortMessagesEqualTimestampsKeepOrder(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "a", CreatedAt: at},
		{ID: "b", CreatedAt: at},
	}
	SortMessages(msgs)
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Fatalf("equal timestamps reordered: %s, %s", msgs[0].ID, msgs[1].ID)
	}
}
