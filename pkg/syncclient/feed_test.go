package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peopledesk/ticketd/internal/api/dto"
	"github.com/peopledesk/ticketd/internal/domain"
)

// stubServer is a minimal ticket-service double serving the endpoints the
// sync client talks to.
type stubServer struct {
	mu      sync.Mutex
	tickets []domain.Ticket
	// finishErr, when set, rejects PUT /ticket/:id/finish.
	finishErr *APIError
	srv       *httptest.Server
}

func newStubServer(t *testing.T) *stubServer {
	t.Helper()
	s := &stubServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ticket", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeData(w, ticketDTOs(s.tickets))
	})
	mux.HandleFunc("GET /ticket/my", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeData(w, ticketDTOs(s.tickets))
	})
	mux.HandleFunc("PUT /ticket/{id}/finish", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.finishErr != nil {
			writeAPIError(w, s.finishErr)
			return
		}
		id := r.PathValue("id")
		for i := range s.tickets {
			if s.tickets[i].ID == id {
				s.tickets[i].Status = domain.TicketStatusFinished
				resp := dto.TicketFromDomain(&s.tickets[i])
				writeData(w, resp)
				return
			}
		}
		writeAPIError(w, &APIError{StatusCode: http.StatusNotFound, Code: "NOT_FOUND", Message: "ticket not found"})
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubServer) setTickets(tickets []domain.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = tickets
}

func writeData(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": v}) //nolint:errcheck
}

func writeAPIError(w http.ResponseWriter, e *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"error": map[string]string{"code": e.Code, "message": e.Message},
	})
}

func ticketDTOs(tickets []domain.Ticket) []dto.TicketResponse {
	out := make([]dto.TicketResponse, len(tickets))
	for i := range tickets {
		out[i] = dto.TicketFromDomain(&tickets[i])
	}
	return out
}

func seedTickets() []domain.Ticket {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []domain.Ticket{
		{ID: "t-pending", Status: domain.TicketStatusPending, Title: "badge reader", CreatedAt: base},
		{ID: "t-ongoing", Status: domain.TicketStatusOngoing, Title: "vpn access", CreatedAt: base.Add(time.Hour)},
		{ID: "t-awaiting", Status: domain.TicketStatusAwaitingConfirmation, Title: "new laptop", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "t-finished", Status: domain.TicketStatusFinished, Title: "desk move", CreatedAt: base.Add(3 * time.Hour)},
	}
}

func TestFeedRefreshAndDerivedViews(t *testing.T) {
	stub := newStubServer(t)
	stub.setTickets(seedTickets())

	api := NewClient(stub.srv.URL, WithToken("test"))
	cache := NewCache()
	feed := NewTicketFeed(api, cache)
	feed.Refresh(context.Background())

	tickets, snap := feed.Tickets(KeyMyTickets)
	if snap.Err != nil {
		t.Fatal(snap.Err)
	}
	if len(tickets) != 4 {
		t.Fatalf("got %d tickets, want 4", len(tickets))
	}
	// Personal ordering: ONGOING leads, FINISHED trails.
	if tickets[0].ID != "t-ongoing" || tickets[3].ID != "t-finished" {
		t.Fatalf("unexpected order: %s .. %s", tickets[0].ID, tickets[3].ID)
	}

	counts := feed.Counts(KeyMyTickets)
	for status, want := range map[domain.TicketStatus]int{
		domain.TicketStatusPending:              1,
		domain.TicketStatusOngoing:              1,
		domain.TicketStatusAwaitingConfirmation: 1,
		domain.TicketStatusFinished:             1,
	} {
		if counts[status] != want {
			t.Errorf("count[%s] = %d, want %d", status, counts[status], want)
		}
	}
	if got := len(feed.Active(KeyMyTickets)); got != 3 {
		t.Errorf("active = %d, want 3", got)
	}
	if got := len(feed.Finished(KeyMyTickets)); got != 1 {
		t.Errorf("finished = %d, want 1", got)
	}
}

func TestFeedDerivedViewsMemoized(t *testing.T) {
	stub := newStubServer(t)
	stub.setTickets(seedTickets())
	feed := NewTicketFeed(NewClient(stub.srv.URL), NewCache())
	feed.Refresh(context.Background())

	v1 := feed.view(KeyMyTickets)
	v2 := feed.view(KeyMyTickets)
	if v1 != v2 {
		t.Error("derived view should be memoized while the snapshot is unchanged")
	}

	feed.Refresh(context.Background())
	v3 := feed.view(KeyMyTickets)
	if v3 == v1 {
		t.Error("derived view should be recomputed after a refresh")
	}
}

func TestFeedMarkFinishedOptimisticThenConfirmed(t *testing.T) {
	stub := newStubServer(t)
	stub.setTickets(seedTickets())
	cache := NewCache()
	feed := NewTicketFeed(NewClient(stub.srv.URL), cache)
	ctx := context.Background()
	feed.Refresh(ctx)

	updated, err := feed.MarkFinished(ctx, "t-ongoing")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != domain.TicketStatusFinished {
		t.Fatalf("server status = %s, want FINISHED", updated.Status)
	}
	if got := statusOf(feed, "t-ongoing"); got != domain.TicketStatusFinished {
		t.Fatalf("cached status = %s, want FINISHED", got)
	}
	if got := len(feed.Finished(KeyMyTickets)); got != 2 {
		t.Errorf("finished subset should include the optimistic update, got %d", got)
	}
}

func TestFeedMarkFinishedRollsBackOnRejection(t *testing.T) {
	stub := newStubServer(t)
	stub.setTickets(seedTickets())
	stub.finishErr = &APIError{StatusCode: http.StatusForbidden, Code: "FORBIDDEN", Message: "invalid status transition"}

	cache := NewCache()
	feed := NewTicketFeed(NewClient(stub.srv.URL), cache)
	ctx := context.Background()
	feed.Refresh(ctx)

	before, _ := feed.Tickets(KeyMyTickets)

	_, err := feed.MarkFinished(ctx, "t-ongoing")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Code != "FORBIDDEN" {
		t.Fatalf("want FORBIDDEN APIError, got %v", err)
	}

	after, _ := feed.Tickets(KeyMyTickets)
	if len(after) != len(before) {
		t.Fatalf("rollback changed list length: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID || after[i].Status != before[i].Status {
			t.Fatalf("rollback mismatch at %d: %+v vs %+v", i, before[i], after[i])
		}
	}
	if got := statusOf(feed, "t-ongoing"); got != domain.TicketStatusOngoing {
		t.Fatalf("status after rollback = %s, want ONGOING", got)
	}
}

func TestFeedNetworkErrorKeepsStaleData(t *testing.T) {
	stub := newStubServer(t)
	stub.setTickets(seedTickets())
	cache := NewCache()
	feed := NewTicketFeed(NewClient(stub.srv.URL), cache)
	ctx := context.Background()
	feed.Refresh(ctx)

	stub.srv.Close()
	feed.Refresh(ctx)

	tickets, snap := feed.Tickets(KeyMyTickets)
	if snap.Err == nil {
		t.Fatal("refresh against a dead server should record an error")
	}
	var netErr *NetworkError
	if !errors.As(snap.Err, &netErr) {
		t.Fatalf("want NetworkError, got %T", snap.Err)
	}
	if len(tickets) != 4 {
		t.Fatalf("stale data should survive the outage, got %d tickets", len(tickets))
	}
	if !snap.Stale() {
		t.Error("snapshot should report stale")
	}
}

func statusOf(feed *TicketFeed, id string) domain.TicketStatus {
	tickets, _ := feed.Tickets(KeyMyTickets)
	for _, t := range tickets {
		if t.ID == id {
			return t.Status
		}
	}
	return ""
}

func TestFeedSharedCacheAcrossInstances(t *testing.T) {
	stub := newStubServer(t)
	stub.setTickets(seedTickets())
	cache := NewCache()
	api := NewClient(stub.srv.URL)

	writer := NewTicketFeed(api, cache)
	reader := NewTicketFeed(api, cache)
	ctx := context.Background()
	writer.Refresh(ctx)

	if _, err := writer.MarkFinished(ctx, "t-pending"); err != nil {
		t.Fatal(err)
	}
	// The second instance reads the same cache and sees the settled write.
	deadline := time.After(time.Second)
	for {
		tickets, _ := reader.Tickets(KeyMyTickets)
		done := false
		for _, tk := range tickets {
			if tk.ID == "t-pending" && tk.Status == domain.TicketStatusFinished {
				done = true
			}
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("second feed instance never observed the finished ticket")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClientErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, &APIError{StatusCode: http.StatusNotFound, Code: "NOT_FOUND", Message: "ticket not found"})
	}))
	defer srv.Close()

	api := NewClient(srv.URL)
	_, err := api.ListMessages(context.Background(), "whatever")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("want *APIError, got %T: %v", err, err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected decode: %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "NOT_FOUND") {
		t.Errorf("error string should carry the code: %s", apiErr.Error())
	}
}
