package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/peopledesk/ticketd/internal/chatcache"
	"github.com/peopledesk/ticketd/internal/domain"
	"github.com/peopledesk/ticketd/internal/events"
	"github.com/peopledesk/ticketd/internal/observability"
	"github.com/peopledesk/ticketd/internal/repository"
	"github.com/peopledesk/ticketd/pkg/errorutil"
)

// TicketService coordinates the ticket lifecycle. It is the single source of
// truth for status transitions; clients only mirror them for optimistic UI.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.MessageRepository
	users      repository.UserRepository
	chat       chatcache.Store
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	UserRepo    repository.UserRepository
	ChatCache   chatcache.Store
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	AssigneeID  string
	Title       string
	Description string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		users:      deps.UserRepo,
		chat:       deps.ChatCache,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// Create opens a ticket for an assignee. Fails with NotFound when the
// assignee does not exist.
func (s *TicketService) Create(ctx context.Context, authorID string, input TicketCreateInput) (*domain.Ticket, error) {
	assignee, err := s.users.GetByID(ctx, input.AssigneeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewNotFound("assignee", map[string]any{"assignee_id": input.AssigneeID})
		}
		return nil, err
	}

	ticket := &domain.Ticket{
		AuthorID:    authorID,
		AssigneeID:  assignee.ID,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Status:      domain.TicketStatusPending,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		ActorID:  authorID,
		Payload: events.TicketCreatedPayload{
			AssigneeID: ticket.AssigneeID,
			Title:      ticket.Title,
		},
	})
	return ticket, nil
}

// ListAll returns every ticket in the aggregate/manager ordering.
func (s *TicketService) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	domain.SortManagerView(tickets)
	return tickets, nil
}

// ListAssigned returns the caller's tickets in the personal ordering.
func (s *TicketService) ListAssigned(ctx context.Context, userID string) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListByAssignee(ctx, userID)
	if err != nil {
		return nil, err
	}
	domain.SortAssigneeView(tickets)
	return tickets, nil
}

// ListMessages returns the ordered thread for a ticket. Non-participants get
// NotFound so ticket existence stays hidden. When the primary read fails, the
// fallback cache is consulted before giving up.
func (s *TicketService) ListMessages(ctx context.Context, requester *domain.User, ticketID string) ([]domain.Message, error) {
	ticket, err := s.getAccessible(ctx, requester, ticketID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		if cached := s.fallbackMessages(ctx, ticket.ID); cached != nil {
			s.logger.Warn("serving messages from fallback cache",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
			return cached, nil
		}
		return nil, err
	}
	domain.SortMessages(msgs)
	return msgs, nil
}

// AddMessage appends a message to the thread. A ticket awaiting confirmation
// is reset to ongoing in the same transaction as the insert.
func (s *TicketService) AddMessage(ctx context.Context, sender *domain.User, ticketID, content string) (*domain.Message, error) {
	ticket, err := s.getAccessible(ctx, sender, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, errorutil.NewForbidden("ticket is finished")
	}

	msg := &domain.Message{
		TicketID: ticket.ID,
		SenderID: sender.ID,
		Content:  strings.TrimSpace(content),
	}
	reset, err := s.messages.Append(ctx, msg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewNotFound("ticket", nil)
		}
		return nil, err
	}

	s.metrics.RecordMessage()
	if reset {
		s.metrics.RecordTransition(string(domain.TicketStatusAwaitingConfirmation), string(domain.TicketStatusOngoing))
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketStatusChanged,
			TicketID: ticket.ID,
			ActorID:  sender.ID,
			Payload: events.TicketStatusChangedPayload{
				OldStatus: domain.TicketStatusAwaitingConfirmation,
				NewStatus: domain.TicketStatusOngoing,
			},
		})
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketMessageAdded,
		TicketID: ticket.ID,
		ActorID:  sender.ID,
		Payload: events.TicketMessageAddedPayload{
			MessageID:   msg.ID,
			SenderID:    msg.SenderID,
			BodyPreview: stringPreview(msg.Content, 120),
			StatusReset: reset,
		},
	})

	s.refreshFallback(ctx, ticket.ID)
	return msg, nil
}

// MarkAwaitingConfirmation lets the assignee flag the ticket for author
// sign-off.
func (s *TicketService) MarkAwaitingConfirmation(ctx context.Context, requester *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.AssigneeID != requester.ID {
		return nil, errorutil.NewForbidden("only the assignee may mark a ticket awaiting confirmation")
	}
	return s.transition(ctx, requester, ticket, domain.TicketStatusAwaitingConfirmation)
}

// MarkFinished finalizes the ticket. Finishing an already finished ticket is
// rejected rather than treated as a no-op; see the double-finish tests.
func (s *TicketService) MarkFinished(ctx context.Context, requester *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !requester.CanAccessTicket(ticket) {
		return nil, errorutil.NewForbidden("access denied")
	}
	updated, err := s.transition(ctx, requester, ticket, domain.TicketStatusFinished)
	if err != nil {
		return nil, err
	}

	// A finished ticket accepts no more messages; drop its fallback entry so
	// a reused id can never resurface a stale thread.
	if s.chat != nil {
		if err := s.chat.Clear(ctx, ticket.ID); err != nil {
			s.logger.Warn("clear chat fallback", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	return updated, nil
}

func (s *TicketService) transition(ctx context.Context, requester *domain.User, ticket *domain.Ticket, next domain.TicketStatus) (*domain.Ticket, error) {
	if !domain.CanTransition(ticket.Status, next) {
		return nil, errorutil.NewForbidden("invalid status transition")
	}
	if err := s.tickets.UpdateStatus(ctx, ticket.ID, ticket.Status, next); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, errorutil.NewForbidden("invalid status transition")
		}
		return nil, err
	}

	oldStatus := ticket.Status
	ticket.Status = next
	ticket.UpdatedAt = time.Now()

	s.metrics.RecordTransition(string(oldStatus), string(next))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		ActorID:  requester.ID,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: next,
		},
	})
	return ticket, nil
}

func (s *TicketService) getTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewNotFound("ticket", nil)
		}
		return nil, err
	}
	return ticket, nil
}

// getAccessible hides ticket existence from non-participants: both an unknown
// id and a ticket the requester has no part in come back as NotFound.
func (s *TicketService) getAccessible(ctx context.Context, requester *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !requester.CanAccessTicket(ticket) {
		return nil, errorutil.NewNotFound("ticket", nil)
	}
	return ticket, nil
}

func (s *TicketService) fallbackMessages(ctx context.Context, ticketID string) []domain.Message {
	if s.chat == nil {
		return nil
	}
	cached, err := s.chat.Get(ctx, ticketID)
	if err != nil {
		s.logger.Warn("chat fallback read failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return nil
	}
	return cached
}

func (s *TicketService) refreshFallback(ctx context.Context, ticketID string) {
	if s.chat == nil {
		return
	}
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return
	}
	if err := s.chat.Put(ctx, ticketID, msgs); err != nil {
		s.logger.Warn("chat fallback write failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}
