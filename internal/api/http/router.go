package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticketflow/internal/api/http/handlers"
	"github.com/spec-kit/ticketflow/internal/auth"
	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Rules          *handlers.RulesHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle, auth.RequireRole())
	v1.Get("/kinds", cfg.Rules.ListKinds)
	v1.Get("/kinds/:kind/rules", cfg.Rules.GetRules)

	tickets := v1.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:ticketId", cfg.Tickets.GetTicket)
	tickets.Post("/:ticketId/cancel",
		auth.RequireRole(domain.ActorRoleSupervisor, domain.ActorRoleAdmin, domain.ActorRoleSystem),
		cfg.Tickets.CancelTicket)

	details := tickets.Group("/:ticketId/details/:detailId")
	details.Get("/", cfg.Tickets.GetDetail)
	details.Post("/transitions", cfg.Tickets.TransitionDetail)
	details.Post("/cancel", cfg.Tickets.CancelDetail)
	details.Post("/allocate", cfg.Tickets.AllocateDetail)
}
