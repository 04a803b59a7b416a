package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/peopledesk/ticketd/internal/api/dto"
	"github.com/peopledesk/ticketd/internal/auth"
	"github.com/peopledesk/ticketd/internal/domain"
	"github.com/peopledesk/ticketd/internal/service"
	"github.com/peopledesk/ticketd/pkg/errorutil"
)

// TicketsHandler exposes the ticket lifecycle endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// ListAll GET /ticket (manager view).
func (h *TicketsHandler) ListAll(c *fiber.Ctx) error {
	tickets, err := h.service.ListAll(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponses(tickets)})
}

// ListMine GET /ticket/my (assignee view).
func (h *TicketsHandler) ListMine(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return errorutil.NewUnauthorized("authentication required")
	}
	tickets, err := h.service.ListAssigned(c.Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponses(tickets)})
}

// Create POST /ticket.
func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return errorutil.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return errorutil.NewValidationError("invalid payload", nil)
	}
	if req.EmployeeID == "" {
		return errorutil.NewValidationError("employeeId required", nil)
	}
	if err := validateLength("title", req.Title, domain.TitleMaxLen); err != nil {
		return err
	}
	if err := validateLength("description", req.Description, domain.DescriptionMaxLen); err != nil {
		return err
	}

	ticket, err := h.service.Create(c.Context(), user.ID, service.TicketCreateInput{
		AssigneeID:  req.EmployeeID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.TicketFromDomain(ticket)})
}

// ListMessages GET /ticket/:id/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return errorutil.NewUnauthorized("authentication required")
	}
	msgs, err := h.service.ListMessages(c.Context(), user, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, dto.MessageFromDomain(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// AddMessage POST /ticket/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return errorutil.NewUnauthorized("authentication required")
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return errorutil.NewValidationError("invalid payload", nil)
	}
	if err := validateLength("content", req.Content, domain.ContentMaxLen); err != nil {
		return err
	}

	msg, err := h.service.AddMessage(c.Context(), user, c.Params("id"), req.Content)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.MessageFromDomain(msg)})
}

// MarkAwaitingConfirmation PUT /ticket/:id/awaiting-confirmation.
func (h *TicketsHandler) MarkAwaitingConfirmation(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return errorutil.NewUnauthorized("authentication required")
	}
	ticket, err := h.service.MarkAwaitingConfirmation(c.Context(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketFromDomain(ticket)})
}

// MarkFinished PUT /ticket/:id/finish.
func (h *TicketsHandler) MarkFinished(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return errorutil.NewUnauthorized("authentication required")
	}
	ticket, err := h.service.MarkFinished(c.Context(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketFromDomain(ticket)})
}

func validateLength(field, value string, max int) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return errorutil.NewValidationError(field+" required", map[string]any{"field": field})
	}
	if len(trimmed) > max {
		return errorutil.NewValidationError(field+" too long", map[string]any{
			"field": field,
			"max":   max,
		})
	}
	return nil
}

func ticketResponses(tickets []domain.Ticket) []dto.TicketResponse {
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.TicketFromDomain(&tickets[i]))
	}
	return items
}
