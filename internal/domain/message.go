package domain

import (
	"sort"
	"time"
)

// Message captures one entry in a ticket's chat thread. Messages are
// immutable once created and ordered by creation time ascending.
type Message struct {
	ID        string
	TicketID  string
	SenderID  string
	Content   string
	CreatedAt time.Time
}

// ContentMaxLen bounds message content at the API boundary.
const ContentMaxLen = 1000

// SortMessages orders messages by creation time ascending for display.
// Applied as a final step so arrival order never matters.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}
