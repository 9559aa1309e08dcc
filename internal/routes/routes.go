package routes

import (
	"github.com/BradenHooton/petguard/internal/auth"
	"github.com/BradenHooton/petguard/internal/handlers"
	"github.com/BradenHooton/petguard/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	loginHandler *handlers.LoginHandler,
	jobsHandler *handlers.JobsHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	loginRateLimit middleware.RateLimitConfig,
) {
	// Public login guard. A service-role token is optional; it unlocks forwarding
	// the end user's IP in the body and reporting successful logins.
	router.Route("/login", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(loginRateLimit))
		r.Use(auth.OptionalServiceRole(tokenManager))
		r.Post("/check", loginHandler.Check)
		r.Post("/record", loginHandler.Record)
	})

	// Trusted scheduler and operators only
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireServiceRole(tokenManager))

		r.Post("/jobs/retry/run", jobsHandler.RunRetries)
		r.Post("/jobs", jobsHandler.Enqueue)
		r.Get("/jobs", jobsHandler.List)
		r.Post("/jobs/{id}/requeue", jobsHandler.Requeue)

		r.Get("/admin/whitelist", adminHandler.ListWhitelist)
		r.Post("/admin/whitelist", adminHandler.AddWhitelist)
		r.Delete("/admin/whitelist/{ip}", adminHandler.RemoveWhitelist)
		r.Get("/admin/blocked-ips", adminHandler.ListBlockedIPs)
	})
}
