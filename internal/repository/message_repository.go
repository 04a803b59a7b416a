package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peopledesk/ticketd/internal/domain"
	"github.com/peopledesk/ticketd/pkg/errorutil"
)

// MessageRepository manages ticket thread messages.
type MessageRepository interface {
	// Append inserts the message and, in the same transaction, resets a
	// ticket awaiting confirmation back to ongoing. Returns whether the
	// reset happened. Fails with Forbidden when the ticket is finished.
	Append(ctx context.Context, msg *domain.Message) (statusReset bool, err error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status domain.TicketStatus
	if err := tx.QueryRow(ctx,
		`SELECT status FROM tickets WHERE id=$1 FOR UPDATE`, msg.TicketID,
	).Scan(&status); err != nil {
		return false, err
	}
	if status.IsTerminal() {
		return false, errorutil.NewForbidden("ticket is finished")
	}

	reset := false
	if next := domain.StatusAfterMessage(status); next != status {
		if _, err := tx.Exec(ctx,
			`UPDATE tickets SET status=$2, updated_at=NOW() WHERE id=$1`,
			msg.TicketID, next,
		); err != nil {
			return false, err
		}
		reset = true
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO ticket_messages (ticket_id, sender_id, content)
         VALUES ($1,$2,$3)
         RETURNING id, created_at`,
		msg.TicketID, msg.SenderID, msg.Content,
	).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return reset, nil
}

func (r *messageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	const query = `
        SELECT id, ticket_id, sender_id, content, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.SenderID,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
