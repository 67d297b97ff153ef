// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"

	"dslock/internal/domain"
)

const readinessTimeout = 2 * time.Second

// NewHealthCheck creates a Fiber healthcheck middleware with Kubernetes-style endpoints.
//
// Endpoints:
//   - GET /livez  - Liveness probe (app is running)
//   - GET /readyz - Readiness probe (app is ready to serve, Redis primary reachable)
//
// This middleware should be registered BEFORE other routes.
func NewHealthCheck(store domain.Pinger) fiber.Handler {
	return healthcheck.New(healthcheck.Config{
		LivenessEndpoint: "/livez",
		LivenessProbe: func(_ *fiber.Ctx) bool {
			return true
		},

		ReadinessEndpoint: "/readyz",
		ReadinessProbe: func(c *fiber.Ctx) bool {
			if store == nil {
				return false
			}
			ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
			defer cancel()

			return store.Ping(ctx) == nil
		},
	})
}
