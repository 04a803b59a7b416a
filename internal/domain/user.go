package domain

import "time"

// UserRole enumerates application roles.
type UserRole string

const (
	UserRoleAdmin    UserRole = "ADMIN"
	UserRoleManager  UserRole = "MANAGER"
	UserRoleEmployee UserRole = "EMPLOYEE"
)

// Elevated reports whether the role may see and create tickets for others.
func (r UserRole) Elevated() bool {
	return r == UserRoleAdmin || r == UserRoleManager
}

// ValidRole reports whether the value is a known role.
func ValidRole(r UserRole) bool {
	switch r {
	case UserRoleAdmin, UserRoleManager, UserRoleEmployee:
		return true
	}
	return false
}

// UserStatus represents lifecycle states for an account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the domain model for people who author or work tickets.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         UserRole
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanAccessTicket reports whether the user participates in the ticket,
// either as its author or its assignee.
func (u *User) CanAccessTicket(t *Ticket) bool {
	return u != nil && (t.AuthorID == u.ID || t.AssigneeID == u.ID)
}
