package middleware

import (
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"dslock/internal/transport/httpserver/dto"
)

// Recover returns a middleware that turns panics into 500 answers. Guarded
// calls have already released their lock by the time the panic gets here.
func Recover(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			logger.Error("panic recovered",
				zap.Any("error", r),
				zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
				zap.String("route", c.Route().Path),
				zap.ByteString("stack", debug.Stack()),
			)

			err = c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: "internal server error",
				Code:  "PANIC",
			})
		}()

		return c.Next()
	}
}
