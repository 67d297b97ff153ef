package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"dslock/internal/app/service"
	"dslock/internal/transport/httpserver/dto"
	"dslock/internal/validator"
)

// SubmissionHandler handles submission requests.
type SubmissionHandler struct {
	service   *service.SubmissionService
	validator *validator.Validator
	logger    *zap.Logger
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(svc *service.SubmissionService, v *validator.Validator, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Submit handles POST /api/v1/submissions
func (h *SubmissionHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_BODY",
		})
	}

	if err := h.validator.Validate(&req); err != nil {
		return validationFailed(c, err)
	}

	receipt, err := h.service.Submit(callerContext(c), req.ToSubmission())
	if err != nil {
		return respondError(c, err, h.logger)
	}

	return c.Status(fiber.StatusAccepted).JSON(dto.FromReceipt(receipt))
}

// Get handles GET /api/v1/submissions/:id
func (h *SubmissionHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "id is required",
			Code:  "MISSING_ID",
		})
	}

	sub, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err, h.logger)
	}

	return c.JSON(dto.FromSubmission(sub))
}

// Process handles POST /api/v1/submissions/:id/process
func (h *SubmissionHandler) Process(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "id is required",
			Code:  "MISSING_ID",
		})
	}

	result, err := h.service.Process(callerContext(c), id)
	if err != nil {
		return respondError(c, err, h.logger)
	}

	return c.JSON(dto.FromProcessResult(result))
}
