package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/peopledesk/ticketd/internal/api/dto"
	"github.com/peopledesk/ticketd/internal/domain"
)

// chatStub serves one message thread per ticket and appends on POST.
type chatStub struct {
	mu      sync.Mutex
	threads map[string][]domain.Message
	sendErr *APIError
	srv     *httptest.Server
}

func newChatStub(t *testing.T) *chatStub {
	t.Helper()
	s := &chatStub{threads: make(map[string][]domain.Message)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ticket/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		msgs := s.threads[r.PathValue("id")]
		out := make([]dto.MessageResponse, len(msgs))
		for i := range msgs {
			out[i] = dto.MessageFromDomain(&msgs[i])
		}
		writeData(w, out)
	})
	mux.HandleFunc("POST /ticket/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sendErr != nil {
			writeAPIError(w, s.sendErr)
			return
		}
		var req dto.CreateMessageRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		id := r.PathValue("id")
		msg := domain.Message{
			ID:        "srv-" + req.Content,
			TicketID:  id,
			SenderID:  "me",
			Content:   req.Content,
			CreatedAt: time.Now(),
		}
		s.threads[id] = append(s.threads[id], msg)
		w.WriteHeader(http.StatusCreated)
		writeData(w, dto.MessageFromDomain(&msg))
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *chatStub) seed(ticketID string, msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[ticketID] = msgs
}

func newChatSession(t *testing.T, stub *chatStub) (*ChatSession, *Cache) {
	t.Helper()
	cache := NewCache()
	session := NewChatSession(NewClient(stub.srv.URL), cache, nil)
	session.SetSelfID("me")
	return session, cache
}

func TestChatMessagesSortedRegardlessOfServerOrder(t *testing.T) {
	stub := newChatStub(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub.seed("t1",
		domain.Message{ID: "m2", TicketID: "t1", Content: "second", CreatedAt: base.Add(time.Minute)},
		domain.Message{ID: "m1", TicketID: "t1", Content: "first", CreatedAt: base},
	)
	session, _ := newChatSession(t, stub)
	session.SetTicket("t1")
	if _, err := session.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	msgs := session.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages not in send order: %v", msgs)
	}
}

func TestChatSendOptimisticThenReconciled(t *testing.T) {
	stub := newChatStub(t)
	stub.seed("t1")
	session, _ := newChatSession(t, stub)
	session.SetTicket("t1")
	ctx := context.Background()
	if _, err := session.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	msg, err := session.SendMessage(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "srv-hello" {
		t.Fatalf("server message not returned: %+v", msg)
	}

	// Before the refetch lands the confirmed send is still rendered.
	msgs := session.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("optimistic send missing: %v", msgs)
	}

	// After the refetch echoes it back it must appear exactly once.
	if _, err := session.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	msgs = session.Messages()
	if len(msgs) != 1 {
		t.Fatalf("send duplicated after reconcile: %v", msgs)
	}
	if msgs[0].ID != "srv-hello" {
		t.Fatalf("reconciled message should be the server copy: %+v", msgs[0])
	}
	if session.Draft() != "" {
		t.Errorf("draft should clear on successful send, got %q", session.Draft())
	}
}

func TestChatSendFailurePreservesDraft(t *testing.T) {
	stub := newChatStub(t)
	stub.seed("t1")
	stub.sendErr = &APIError{StatusCode: http.StatusForbidden, Code: "FORBIDDEN", Message: "ticket is finished"}
	session, _ := newChatSession(t, stub)
	session.SetTicket("t1")
	ctx := context.Background()
	if _, err := session.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := session.SendMessage(ctx, "  lost words  ")
	if err == nil {
		t.Fatal("send should fail")
	}
	if got := session.Draft(); got != "lost words" {
		t.Fatalf("failed send should restore the draft, got %q", got)
	}
	if msgs := session.Messages(); len(msgs) != 0 {
		t.Fatalf("failed send must not linger in the thread: %v", msgs)
	}
}

func TestChatSendWhitespaceOnlyIsNoOp(t *testing.T) {
	stub := newChatStub(t)
	session, _ := newChatSession(t, stub)
	session.SetTicket("t1")

	msg, err := session.SendMessage(context.Background(), "   \n\t ")
	if err != nil || msg.ID != "" {
		t.Fatalf("whitespace-only send should be a silent no-op, got %+v, %v", msg, err)
	}
	if msgs := session.Messages(); len(msgs) != 0 {
		t.Fatalf("no-op send produced messages: %v", msgs)
	}
}

func TestChatFallbackServesLastThreadDuringOutage(t *testing.T) {
	stub := newChatStub(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub.seed("t1", domain.Message{ID: "m1", TicketID: "t1", Content: "kept", CreatedAt: base})

	fallback := NewMemoryFallback()
	cache := NewCache()
	session := NewChatSession(NewClient(stub.srv.URL), cache, fallback)
	session.SetTicket("t1")
	ctx := context.Background()
	if _, err := session.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	stub.srv.Close()
	// Evict the cached copy so only the fallback can answer; the failed
	// refresh records the error.
	cache.Remove(MessagesKey("t1"))
	session.SetTicket("")
	session.SetTicket("t1")
	if _, err := session.Refresh(ctx); err == nil {
		t.Fatal("refresh against a dead server should fail")
	}

	msgs := session.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("fallback thread not served: %v", msgs)
	}
}

func TestChatAtBottomThreshold(t *testing.T) {
	stub := newChatStub(t)
	session, _ := newChatSession(t, stub)
	session.SetTicket("t1")

	cases := []struct {
		name                   string
		top, viewport, content int
		want                   bool
	}{
		{"exactly at bottom", 500, 300, 800, true},
		{"within threshold", 490, 300, 800, true},
		{"at threshold boundary", 300, 490, 800, true},
		{"just past threshold", 489, 300, 800, false},
		{"scrolled up", 0, 300, 800, false},
	}
	for _, tc := range cases {
		session.UpdateScroll(tc.top, tc.viewport, tc.content)
		if got := session.AtBottom(); got != tc.want {
			t.Errorf("%s: AtBottom() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestChatAutoScroll(t *testing.T) {
	stub := newChatStub(t)
	session, _ := newChatSession(t, stub)
	session.SetTicket("t1")

	// First render after a ticket switch always pins to the bottom.
	if !session.AutoScroll(3) {
		t.Error("first render after SetTicket should force scroll")
	}

	// At the bottom, growth keeps the pin.
	session.UpdateScroll(500, 300, 800)
	if !session.AutoScroll(4) {
		t.Error("new message while at bottom should scroll")
	}
	// No growth, no scroll.
	if session.AutoScroll(4) {
		t.Error("unchanged count should not scroll")
	}

	// Scrolled up into history, growth must not yank the view down.
	session.UpdateScroll(0, 300, 800)
	if session.AutoScroll(5) {
		t.Error("new message while reading history should not scroll")
	}

	// Switching tickets re-arms the forced scroll.
	session.SetTicket("t2")
	if !session.AutoScroll(1) {
		t.Error("ticket switch should force scroll again")
	}
}

func TestChatSetTicketResetsSessionState(t *testing.T) {
	stub := newChatStub(t)
	session, _ := newChatSession(t, stub)
	session.SetTicket("t1")
	session.SetDraft("half-typed reply")

	session.SetTicket("t2")
	if session.Draft() != "" {
		t.Error("draft belongs to the previous ticket and should reset")
	}
	if session.TicketID() != "t2" {
		t.Errorf("ticket = %s, want t2", session.TicketID())
	}

	// Re-selecting the same ticket is a no-op.
	session.SetDraft("keep me")
	session.SetTicket("t2")
	if session.Draft() != "keep me" {
		t.Error("re-selecting the open ticket should not reset the draft")
	}
}

func TestChatEvict(t *testing.T) {
	stub := newChatStub(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub.seed("t1", domain.Message{ID: "m1", TicketID: "t1", Content: "bye", CreatedAt: base})

	fallback := NewMemoryFallback()
	cache := NewCache()
	session := NewChatSession(NewClient(stub.srv.URL), cache, fallback)
	session.SetTicket("t1")
	ctx := context.Background()
	if _, err := session.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	session.Evict("t1")
	if snap := cache.Get(MessagesKey("t1")); snap.HasValue() {
		t.Error("cache entry should be gone after Evict")
	}
	if _, ok := fallback.Get("t1"); ok {
		t.Error("fallback entry should be gone after Evict")
	}
	if session.TicketID() != "" {
		t.Error("evicting the open ticket should close the session")
	}
}
