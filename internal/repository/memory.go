package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/peopledesk/ticketd/internal/domain"
	"github.com/peopledesk/ticketd/pkg/errorutil"
)

// MemoryStore backs the repository interfaces with in-process maps. Used in
// tests and when the service runs without a Postgres DSN. Missing rows are
// reported as pgx.ErrNoRows so callers behave identically on both backends.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	byEmail  map[string]string
	tickets  map[string]domain.Ticket
	messages map[string][]domain.Message
}

// NewMemoryStore initializes an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		byEmail:  make(map[string]string),
		tickets:  make(map[string]domain.Ticket),
		messages: make(map[string][]domain.Message),
	}
}

// Users returns the UserRepository view.
func (s *MemoryStore) Users() UserRepository { return &memoryUsers{s} }

// Tickets returns the TicketRepository view.
func (s *MemoryStore) Tickets() TicketRepository { return &memoryTickets{s} }

// Messages returns the MessageRepository view.
func (s *MemoryStore) Messages() MessageRepository { return &memoryMessages{s} }

type memoryUsers struct{ s *MemoryStore }

func (r *memoryUsers) Create(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.byEmail[user.Email]; exists {
		return errorutil.NewValidationError("email already registered", nil)
	}
	now := time.Now()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = *user
	r.s.byEmail[user.Email] = user.ID
	return nil
}

func (r *memoryUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r *memoryUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	user := r.s.users[id]
	return &user, nil
}

type memoryTickets struct{ s *MemoryStore }

func (r *memoryTickets) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	r.s.tickets[ticket.ID] = *ticket
	return nil
}

func (r *memoryTickets) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ticket, ok := r.s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &ticket, nil
}

func (r *memoryTickets) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.collect(func(domain.Ticket) bool { return true }), nil
}

func (r *memoryTickets) ListByAssignee(ctx context.Context, assigneeID string) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.collect(func(t domain.Ticket) bool { return t.AssigneeID == assigneeID }), nil
}

func (r *memoryTickets) UpdateStatus(ctx context.Context, id string, from, to domain.TicketStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ticket, ok := r.s.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if ticket.Status != from {
		return ErrStatusConflict
	}
	ticket.Status = to
	ticket.UpdatedAt = time.Now()
	r.s.tickets[id] = ticket
	return nil
}

func (s *MemoryStore) collect(keep func(domain.Ticket) bool) []domain.Ticket {
	result := make([]domain.Ticket, 0, len(s.tickets))
	for _, ticket := range s.tickets {
		if keep(ticket) {
			result = append(result, ticket)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

type memoryMessages struct{ s *MemoryStore }

func (r *memoryMessages) Append(ctx context.Context, msg *domain.Message) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ticket, ok := r.s.tickets[msg.TicketID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if ticket.Status.IsTerminal() {
		return false, errorutil.NewForbidden("ticket is finished")
	}

	reset := false
	if next := domain.StatusAfterMessage(ticket.Status); next != ticket.Status {
		ticket.Status = next
		ticket.UpdatedAt = time.Now()
		r.s.tickets[ticket.ID] = ticket
		reset = true
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	r.s.messages[msg.TicketID] = append(r.s.messages[msg.TicketID], *msg)
	return reset, nil
}

func (r *memoryMessages) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msgs := append([]domain.Message(nil), r.s.messages[ticketID]...)
	domain.SortMessages(msgs)
	return msgs, nil
}
