package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/pkg/response"
)

type GenerationHandler struct {
	service     *service.GenerationService
	validator   *validator.Validate
	purchaseURL string
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate, purchaseURL string) *GenerationHandler {
	return &GenerationHandler{
		service:     svc,
		validator:   v,
		purchaseURL: purchaseURL,
	}
}

// Estimate handles POST /api/generation/estimate
func (h *GenerationHandler) Estimate(c *fiber.Ctx) error {
	var req model.EstimateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	admission := h.service.Estimate(c.Context(), middleware.GetUserID(c), req.Request)
	return response.OK(c, admission)
}

// Start handles POST /api/generation/start
func (h *GenerationHandler) Start(c *fiber.Ctx) error {
	var req model.GenerationStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.Context(), middleware.GetUserID(c), req.Requests)
	if err != nil {
		return h.fail(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/generation/status
func (h *GenerationHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.Status(middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/generation/cancel
func (h *GenerationHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	return response.OK(c, result)
}

// Retry handles POST /api/generation/retry
func (h *GenerationHandler) Retry(c *fiber.Ctx) error {
	result, err := h.service.Retry(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	return response.Accepted(c, result)
}

// fail maps orchestrator errors onto the error envelope.
func (h *GenerationHandler) fail(c *fiber.Ctx, err error) error {
	return generationError(c, err, h.purchaseURL)
}

func generationError(c *fiber.Ctx, err error, purchaseURL string) error {
	var denied *model.AdmissionDeniedError
	switch {
	case errors.As(err, &denied):
		return response.PaymentRequired(c, response.CreditDetails{
			Cost:        denied.Cost,
			Balance:     denied.Balance,
			Shortfall:   denied.Shortfall,
			PurchaseURL: purchaseURL,
		})
	case errors.Is(err, model.ErrInvalidRequest):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, model.ErrNothingToRetry):
		return response.ValidationError(c, "Nothing to retry", nil)
	case errors.Is(err, model.ErrBusy):
		return response.Conflict(c, "A generation is already in progress")
	case errors.Is(err, orchestrator.ErrClosed):
		return response.Error(c, fiber.StatusServiceUnavailable, response.CodeServiceError, "Server is shutting down", nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}
