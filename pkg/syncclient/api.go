package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/peopledesk/ticketd/internal/api/dto"
	"github.com/peopledesk/ticketd/internal/domain"
)

// NetworkError wraps transport and decode failures so callers can tell them
// apart from server-side rejections.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a structured rejection decoded from the server's error
// envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Client is a thin typed HTTP client for the ticket service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) { c.token = token }

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		User dto.UserResponse `json:"user"`
		Auth dto.AuthResponse `json:"auth"`
	}
	req := dto.LoginRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &out); err != nil {
		return "", err
	}
	c.token = out.Auth.Token
	return out.Auth.Token, nil
}

// ListAll fetches every ticket (elevated roles only).
func (c *Client) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	var out []dto.TicketResponse
	if err := c.do(ctx, http.MethodGet, "/ticket", nil, &out); err != nil {
		return nil, err
	}
	return ticketsToDomain(out), nil
}

// ListMine fetches tickets assigned to the authenticated user.
func (c *Client) ListMine(ctx context.Context) ([]domain.Ticket, error) {
	var out []dto.TicketResponse
	if err := c.do(ctx, http.MethodGet, "/ticket/my", nil, &out); err != nil {
		return nil, err
	}
	return ticketsToDomain(out), nil
}

// ListMessages fetches the full message thread of one ticket.
func (c *Client) ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	var out []dto.MessageResponse
	if err := c.do(ctx, http.MethodGet, "/ticket/"+ticketID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, len(out))
	for i, m := range out {
		msgs[i] = m.ToDomain()
	}
	return msgs, nil
}

// CreateTicket opens a ticket assigned to the given employee.
func (c *Client) CreateTicket(ctx context.Context, employeeID, title, description string) (domain.Ticket, error) {
	req := dto.CreateTicketRequest{EmployeeID: employeeID, Title: title, Description: description}
	var out dto.TicketResponse
	if err := c.do(ctx, http.MethodPost, "/ticket", req, &out); err != nil {
		return domain.Ticket{}, err
	}
	return out.ToDomain(), nil
}

// SendMessage appends a message to a ticket's thread.
func (c *Client) SendMessage(ctx context.Context, ticketID, content string) (domain.Message, error) {
	req := dto.CreateMessageRequest{Content: content}
	var out dto.MessageResponse
	if err := c.do(ctx, http.MethodPost, "/ticket/"+ticketID+"/messages", req, &out); err != nil {
		return domain.Message{}, err
	}
	return out.ToDomain(), nil
}

// MarkAwaitingConfirmation moves a ticket to AWAITING_CONFIRMATION.
func (c *Client) MarkAwaitingConfirmation(ctx context.Context, ticketID string) (domain.Ticket, error) {
	var out dto.TicketResponse
	if err := c.do(ctx, http.MethodPut, "/ticket/"+ticketID+"/awaiting-confirmation", nil, &out); err != nil {
		return domain.Ticket{}, err
	}
	return out.ToDomain(), nil
}

// MarkFinished moves a ticket to FINISHED.
func (c *Client) MarkFinished(ctx context.Context, ticketID string) (domain.Ticket, error) {
	var out dto.TicketResponse
	if err := c.do(ctx, http.MethodPut, "/ticket/"+ticketID+"/finish", nil, &out); err != nil {
		return domain.Ticket{}, err
	}
	return out.ToDomain(), nil
}

type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &NetworkError{Op: method, URL: url, Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &NetworkError{Op: method, URL: url, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: method, URL: url, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "INTERNAL_ERROR", Message: http.StatusText(resp.StatusCode)}
		var env errorEnvelope
		if json.Unmarshal(payload, &env) == nil && env.Error.Code != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	var env dataEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return &NetworkError{Op: method, URL: url, Err: err}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &NetworkError{Op: method, URL: url, Err: err}
	}
	return nil
}

func ticketsToDomain(in []dto.TicketResponse) []domain.Ticket {
	tickets := make([]domain.Ticket, len(in))
	for i, t := range in {
		tickets[i] = t.ToDomain()
	}
	return tickets
}
