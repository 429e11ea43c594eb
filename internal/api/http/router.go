package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-engine/internal/api/http/handlers"
	"github.com/spec-kit/case-engine/internal/auth"
	"github.com/spec-kit/case-engine/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Cases          *handlers.CasesHandler
	Presence       *handlers.PresenceHandler
	SLA            *handlers.SLAHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)

	cases := v1.Group("/cases", auth.RequireRole(domain.RoleAgent, domain.RoleSupervisor, domain.RoleSystem))
	cases.Post("/", cfg.Cases.CreateCase)
	cases.Get("/:id", cfg.Cases.GetCase)
	cases.Post("/:id/comments", auth.RequireRole(domain.RoleAgent, domain.RoleSupervisor), cfg.Cases.RecordComment)
	cases.Post("/:id/transitions", cfg.Cases.Transition)
	cases.Get("/:id/transitions", cfg.Cases.ListTransitions)

	presence := v1.Group("/presence")
	presence.Post("/heartbeat", auth.RequireRole(domain.RoleAgent, domain.RoleSupervisor), cfg.Presence.Heartbeat)
	presence.Get("/", auth.RequireRole(domain.RoleSupervisor, domain.RoleAgent), cfg.Presence.List)

	v1.Post("/sla/sweep", auth.RequireRole(domain.RoleSupervisor, domain.RoleSystem), cfg.SLA.Sweep)
}
