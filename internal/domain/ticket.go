package domain

import (
	"sort"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending              TicketStatus = "PENDING"
	TicketStatusOngoing              TicketStatus = "ONGOING"
	TicketStatusAwaitingConfirmation TicketStatus = "AWAITING_CONFIRMATION"
	TicketStatusFinished             TicketStatus = "FINISHED"
)

// Ticket is a unit of work assigned by an author to an assignee.
type Ticket struct {
	ID          string
	AuthorID    string
	AssigneeID  string
	Title       string
	Description string
	Status      TicketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Field limits enforced at the API boundary.
const (
	TitleMaxLen       = 200
	DescriptionMaxLen = 2000
)

// allowedTransitions encodes the lifecycle. FINISHED is terminal. The
// AWAITING_CONFIRMATION -> ONGOING edge is taken when a new message arrives
// on a ticket that was awaiting sign-off.
var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusPending:              {TicketStatusOngoing, TicketStatusAwaitingConfirmation, TicketStatusFinished},
	TicketStatusOngoing:              {TicketStatusAwaitingConfirmation, TicketStatusFinished},
	TicketStatusAwaitingConfirmation: {TicketStatusOngoing, TicketStatusFinished},
	TicketStatusFinished:             {},
}

// CanTransition reports whether moving from current to next is legal.
func CanTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status accepts no further changes.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusFinished
}

// StatusAfterMessage returns the status a ticket holds after a message is
// appended: a ticket awaiting confirmation is reopened, everything else is
// left untouched.
func StatusAfterMessage(current TicketStatus) TicketStatus {
	if current == TicketStatusAwaitingConfirmation {
		return TicketStatusOngoing
	}
	return current
}

// managerViewRank orders the aggregate view: tickets needing author sign-off
// surface first.
var managerViewRank = map[TicketStatus]int{
	TicketStatusAwaitingConfirmation: 0,
	TicketStatusOngoing:              1,
	TicketStatusPending:              2,
	TicketStatusFinished:             3,
}

// assigneeViewRank orders the personal view: tickets the assignee is actively
// working on surface first. Not interchangeable with the manager ordering.
var assigneeViewRank = map[TicketStatus]int{
	TicketStatusOngoing:              0,
	TicketStatusAwaitingConfirmation: 1,
	TicketStatusPending:              2,
	TicketStatusFinished:             3,
}

// SortManagerView sorts tickets in place for the aggregate/manager listing.
// Within equal priority, newest CreatedAt first.
func SortManagerView(tickets []Ticket) {
	sortByRank(tickets, managerViewRank)
}

// SortAssigneeView sorts tickets in place for the personal/assignee listing.
func SortAssigneeView(tickets []Ticket) {
	sortByRank(tickets, assigneeViewRank)
}

func sortByRank(tickets []Ticket, rank map[TicketStatus]int) {
	sort.SliceStable(tickets, func(i, j int) bool {
		ri, rj := rank[tickets[i].Status], rank[tickets[j].Status]
		if ri != rj {
			return ri < rj
		}
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
}
