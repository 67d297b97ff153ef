// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"dslock/internal/domain"
	"dslock/internal/transport/httpserver/dto"
	"dslock/internal/transport/httpserver/middleware"
	"dslock/pkg/locker"
)

// respondError maps service errors to HTTP responses.
//
// Mapping:
//   - lock acquisition failed → 409 Conflict
//   - lock wait timed out     → 423 Locked
//   - submission not found    → 404 Not Found
//   - caller went away        → 499
//   - anything else           → 500
func respondError(c *fiber.Ctx, err error, logger *zap.Logger) error {
	switch {
	case errors.Is(err, locker.ErrLockAcquisitionFailed):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "LOCK_REJECTED",
			Details: rejectionDetails(c, err),
		})
	case errors.Is(err, locker.ErrLockWaitTimedOut):
		return c.Status(fiber.StatusLocked).JSON(dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "LOCK_TIMEOUT",
			Details: rejectionDetails(c, err),
		})
	case errors.Is(err, domain.ErrSubmissionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: "submission not found",
			Code:  "NOT_FOUND",
		})
	case errors.Is(err, context.Canceled):
		return c.Status(499).JSON(dto.ErrorResponse{
			Error: "request cancelled",
			Code:  "CANCELLED",
		})
	}

	logger.Error("request failed", zap.Error(err), zap.String("path", c.Path()))

	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: "internal error",
		Code:  "INTERNAL_ERROR",
	})
}

func rejectionDetails(c *fiber.Ctx, err error) any {
	var rejected *locker.RejectedError
	if !errors.As(err, &rejected) {
		return nil
	}

	c.Locals(middleware.LocalLockKey, rejected.Key)
	c.Locals(middleware.LocalLockPolicy, rejected.Policy.String())

	return fiber.Map{
		"key":    rejected.Key,
		"policy": rejected.Policy.String(),
		"reason": rejected.Reason,
	}
}

// callerContext tags the request context with the caller identity used in
// lock owner tokens: the request id and the route that served it.
func callerContext(c *fiber.Ctx) context.Context {
	id := c.GetRespHeader(fiber.HeaderXRequestID)
	if id == "" {
		return c.UserContext()
	}

	return locker.WithCaller(c.UserContext(), id, c.Route().Path)
}

func validationFailed(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:   "validation failed",
		Code:    "VALIDATION_ERROR",
		Details: err,
	})
}
