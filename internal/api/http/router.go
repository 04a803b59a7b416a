package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/peopledesk/ticketd/internal/api/http/handlers"
	"github.com/peopledesk/ticketd/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	ticket := app.Group("/ticket", cfg.AuthMiddleware.Handle)
	ticket.Get("/", auth.RequireElevated(), cfg.Tickets.ListAll)
	ticket.Get("/my", cfg.Tickets.ListMine)
	ticket.Get("/:id/messages", cfg.Tickets.ListMessages)
	ticket.Post("/", auth.RequireElevated(), cfg.Tickets.Create)
	ticket.Post("/:id/messages", cfg.Tickets.AddMessage)
	ticket.Put("/:id/awaiting-confirmation", cfg.Tickets.MarkAwaitingConfirmation)
	ticket.Put("/:id/finish", cfg.Tickets.MarkFinished)
}
