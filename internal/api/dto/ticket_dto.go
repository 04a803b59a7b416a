package dto

import (
	"time"

	"github.com/peopledesk/ticketd/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	EmployeeID  string `json:"employeeId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Content string `json:"content"`
}

// TicketResponse represents a ticket on the wire.
type TicketResponse struct {
	ID          string              `json:"id"`
	AuthorID    string              `json:"authorId"`
	AssigneeID  string              `json:"assigneeId"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Status      domain.TicketStatus `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// MessageResponse represents a thread message on the wire.
type MessageResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticketId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// TicketFromDomain maps a domain ticket to its wire form.
func TicketFromDomain(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:          t.ID,
		AuthorID:    t.AuthorID,
		AssigneeID:  t.AssigneeID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// ToDomain maps a wire ticket back to the domain model.
func (r TicketResponse) ToDomain() domain.Ticket {
	return domain.Ticket{
		ID:          r.ID,
		AuthorID:    r.AuthorID,
		AssigneeID:  r.AssigneeID,
		Title:       r.Title,
		Description: r.Description,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// MessageFromDomain maps a domain message to its wire form.
func MessageFromDomain(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		TicketID:  m.TicketID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// ToDomain maps a wire message back to the domain model.
func (r MessageResponse) ToDomain() domain.Message {
	return domain.Message{
		ID:        r.ID,
		TicketID:  r.TicketID,
		SenderID:  r.SenderID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}
