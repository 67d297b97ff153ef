package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"dslock/internal/app/service"
	"dslock/internal/transport/httpserver/dto"
	"dslock/internal/validator"
)

// LockHandler handles lock inspection and administration requests.
type LockHandler struct {
	service   *service.LockService
	validator *validator.Validator
	scanCount int64
	logger    *zap.Logger
}

// NewLockHandler creates a new LockHandler.
func NewLockHandler(svc *service.LockService, v *validator.Validator, scanCount int64, logger *zap.Logger) *LockHandler {
	return &LockHandler{
		service:   svc,
		validator: v,
		scanCount: scanCount,
		logger:    logger,
	}
}

// Count handles GET /api/v1/locks
func (h *LockHandler) Count(c *fiber.Ctx) error {
	return c.JSON(dto.LockCountResponse{
		Count: h.service.Count(c.UserContext(), h.scanCount),
	})
}

// Status handles GET /api/v1/locks/:key
func (h *LockHandler) Status(c *fiber.Ctx) error {
	param := dto.LockKeyParam{Key: c.Params("key")}
	if err := h.validator.Validate(&param); err != nil {
		return validationFailed(c, err)
	}

	status := h.service.Status(c.UserContext(), param.Key)

	return c.JSON(dto.FromLockStatus(status))
}

// Release handles DELETE /api/v1/locks/:key?owner=...
func (h *LockHandler) Release(c *fiber.Ctx) error {
	param := dto.LockKeyParam{Key: c.Params("key")}
	if err := h.validator.Validate(&param); err != nil {
		return validationFailed(c, err)
	}

	var req dto.ReleaseRequest
	if err := c.QueryParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid query parameters",
			Code:  "INVALID_PARAMS",
		})
	}
	if err := h.validator.Validate(&req); err != nil {
		return validationFailed(c, err)
	}

	released := h.service.Release(c.UserContext(), param.Key, req.Owner)
	resp := dto.ReleaseResponse{Key: h.service.Key(param.Key), Released: released}
	if !released {
		return c.Status(fiber.StatusConflict).JSON(resp)
	}

	return c.JSON(resp)
}
