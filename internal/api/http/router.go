package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/backoffice/internal/api/http/handlers"
	"github.com/spec-kit/backoffice/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Auth           *handlers.AuthHandler
	Payments       *handlers.PaymentsHandler
	Clients        *handlers.ClientsHandler
	Webhooks       *handlers.WebhookHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/logout", cfg.AuthMiddleware.Handle, auth.RequireAnyRole(), cfg.Auth.Logout)

	company := app.Group("/company", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	company.Post("/pay", cfg.Payments.Pay)
	company.Post("/payouts/:id/pay", cfg.Payments.PayPayout)
	company.Post("/payment-source", cfg.Payments.AssociateSource)

	clients := app.Group("/clients", cfg.AuthMiddleware.Handle, auth.RequireAdminOrAgent())
	clients.Put("/:id/payment-info", cfg.Clients.SetPaymentInfo)
	clients.Get("/:id/payment-info", cfg.Clients.GetPaymentInfo)

	app.Post("/webhooks/fastpay", cfg.Webhooks.FastPay)
}
