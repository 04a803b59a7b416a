package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/peopledesk/ticketd/internal/domain"
	"github.com/peopledesk/ticketd/pkg/errorutil"
)

// RequireRole ensures the caller holds one of the allowed roles.
func RequireRole(allowed ...domain.UserRole) fiber.Handler {
	allowedSet := make(map[domain.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		user, ok := UserFromContext(c)
		if !ok {
			return errorutil.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[user.Role]; !exists {
			return errorutil.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireElevated ensures the caller may operate on other people's tickets.
func RequireElevated() fiber.Handler {
	return RequireRole(domain.UserRoleAdmin, domain.UserRoleManager)
}
