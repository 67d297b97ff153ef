// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Locals keys set by handlers when a guarded call was rejected.
const (
	LocalLockKey    = "dslock.lock_key"
	LocalLockPolicy = "dslock.lock_policy"
)

// Logger returns a middleware that logs HTTP requests. Lock contention
// answers (409, 423) are logged at info level with the rejected key since
// they are expected under duplicate traffic.
func Logger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		fields := []zap.Field{
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			zap.String("method", c.Method()),
			zap.String("route", c.Route().Path),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if key, ok := c.Locals(LocalLockKey).(string); ok {
			fields = append(fields, zap.String("lock_key", key))
		}
		if policy, ok := c.Locals(LocalLockPolicy).(string); ok {
			fields = append(fields, zap.String("lock_policy", policy))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}

		switch {
		case status >= 500:
			logger.Error("request failed", fields...)
		case status == fiber.StatusConflict || status == fiber.StatusLocked:
			logger.Info("lock contention", fields...)
		case status >= 400:
			logger.Warn("request error", fields...)
		default:
			logger.Debug("request completed", fields...)
		}

		return err
	}
}
