package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/peopledesk/ticketd/internal/domain"
)

// Cache keys for the ticket list views.
const (
	KeyAllTickets = "tickets:all"
	KeyMyTickets  = "tickets:my"
)

// MessagesKey is the cache key for one ticket's message thread.
func MessagesKey(ticketID string) string { return "messages:" + ticketID }

// TicketFeed exposes the ticket list views backed by the shared cache:
// polled refresh, derived per-status counts and active/finished subsets, and
// optimistic status mutations with rollback.
type TicketFeed struct {
	api   *Client
	cache *Cache
	keys  []string

	mu      sync.Mutex
	derived map[string]*derivedView
}

type derivedView struct {
	at       time.Time
	counts   map[domain.TicketStatus]int
	active   []domain.Ticket
	finished []domain.Ticket
}

// FeedOption customizes a TicketFeed.
type FeedOption func(*TicketFeed)

// WithAggregateView also tracks the all-tickets view. Requires an elevated
// role; without it the view's refresh fails with FORBIDDEN.
func WithAggregateView() FeedOption {
	return func(f *TicketFeed) { f.keys = append(f.keys, KeyAllTickets) }
}

// NewTicketFeed registers the list fetchers on the cache. Every feed and
// chat session sharing one cache observes each other's refreshes and
// invalidations.
func NewTicketFeed(api *Client, cache *Cache, opts ...FeedOption) *TicketFeed {
	f := &TicketFeed{
		api:     api,
		cache:   cache,
		keys:    []string{KeyMyTickets},
		derived: make(map[string]*derivedView),
	}
	for _, opt := range opts {
		opt(f)
	}
	cache.Register(KeyMyTickets, func(ctx context.Context) (any, error) {
		tickets, err := api.ListMine(ctx)
		if err != nil {
			return nil, err
		}
		domain.SortAssigneeView(tickets)
		return tickets, nil
	})
	for _, key := range f.keys {
		if key == KeyAllTickets {
			cache.Register(KeyAllTickets, func(ctx context.Context) (any, error) {
				tickets, err := api.ListAll(ctx)
				if err != nil {
					return nil, err
				}
				domain.SortManagerView(tickets)
				return tickets, nil
			})
		}
	}
	return f
}

// Refresh fetches every tracked view once.
func (f *TicketFeed) Refresh(ctx context.Context) {
	for _, key := range f.keys {
		f.cache.FetchRegistered(ctx, key) //nolint:errcheck
	}
}

// Poller builds a poller that refreshes the tracked views on an interval.
func (f *TicketFeed) Poller(interval time.Duration) *Poller {
	return NewPoller(interval, f.Refresh)
}

// Snapshot returns the raw cache snapshot for a view key.
func (f *TicketFeed) Snapshot(key string) Snapshot {
	return f.cache.Get(key)
}

// Tickets returns the last-known ticket list for a view key, already in
// server sort order, along with its snapshot metadata.
func (f *TicketFeed) Tickets(key string) ([]domain.Ticket, Snapshot) {
	snap := f.cache.Get(key)
	tickets, _ := snap.Value.([]domain.Ticket)
	return tickets, snap
}

// Counts returns per-status totals for a view key, memoized against the
// snapshot timestamp.
func (f *TicketFeed) Counts(key string) map[domain.TicketStatus]int {
	return f.view(key).counts
}

// Active returns the non-finished tickets of a view key.
func (f *TicketFeed) Active(key string) []domain.Ticket {
	return f.view(key).active
}

// Finished returns the finished tickets of a view key.
func (f *TicketFeed) Finished(key string) []domain.Ticket {
	return f.view(key).finished
}

func (f *TicketFeed) view(key string) *derivedView {
	snap := f.cache.Get(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.derived[key]; ok && v.at.Equal(snap.UpdatedAt) {
		return v
	}
	v := &derivedView{at: snap.UpdatedAt, counts: make(map[domain.TicketStatus]int)}
	if tickets, ok := snap.Value.([]domain.Ticket); ok {
		for _, t := range tickets {
			v.counts[t.Status]++
			if t.Status == domain.TicketStatusFinished {
				v.finished = append(v.finished, t)
			} else {
				v.active = append(v.active, t)
			}
		}
	}
	f.derived[key] = v
	return v
}

// CreateTicket opens a ticket and refreshes the list views. Creation is not
// optimistic: the server assigns the ID and timestamps.
func (f *TicketFeed) CreateTicket(ctx context.Context, employeeID, title, description string) (domain.Ticket, error) {
	ticket, err := f.api.CreateTicket(ctx, employeeID, title, description)
	if err != nil {
		return domain.Ticket{}, err
	}
	f.cache.Invalidate(ctx, f.keys...)
	return ticket, nil
}

// MarkAwaitingConfirmation optimistically moves a ticket to
// AWAITING_CONFIRMATION in every tracked view, then confirms with the
// server. On rejection all views roll back to their prior state.
func (f *TicketFeed) MarkAwaitingConfirmation(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return f.setStatus(ctx, ticketID, domain.TicketStatusAwaitingConfirmation, f.api.MarkAwaitingConfirmation)
}

// MarkFinished optimistically moves a ticket to FINISHED in every tracked
// view, then confirms with the server. On rejection all views roll back.
func (f *TicketFeed) MarkFinished(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return f.setStatus(ctx, ticketID, domain.TicketStatusFinished, f.api.MarkFinished)
}

func (f *TicketFeed) setStatus(ctx context.Context, ticketID string, next domain.TicketStatus, call func(context.Context, string) (domain.Ticket, error)) (domain.Ticket, error) {
	writes := make([]*OptimisticWrite, 0, len(f.keys))
	for _, key := range f.keys {
		writes = append(writes, f.cache.BeginOptimistic(key, func(prev any) any {
			tickets, ok := prev.([]domain.Ticket)
			if !ok {
				return prev
			}
			return withStatus(tickets, ticketID, next)
		}))
		f.dropView(key)
	}

	ticket, err := call(ctx, ticketID)
	if err != nil {
		for _, w := range writes {
			w.Rollback()
		}
		for _, key := range f.keys {
			f.dropView(key)
		}
		return domain.Ticket{}, err
	}
	for _, w := range writes {
		w.Commit()
	}
	f.cache.Invalidate(ctx, f.keys...)
	return ticket, nil
}

// dropView forgets the memoized derived view so optimistic state is
// recomputed even though the snapshot timestamp did not move.
func (f *TicketFeed) dropView(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.derived, key)
}

func withStatus(tickets []domain.Ticket, ticketID string, status domain.TicketStatus) []domain.Ticket {
	out := make([]domain.Ticket, len(tickets))
	copy(out, tickets)
	for i := range out {
		if out[i].ID == ticketID {
			out[i].Status = status
		}
	}
	return out
}
