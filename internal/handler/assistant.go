package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/pkg/response"
)

type AssistantHandler struct {
	service     *service.AssistantService
	validator   *validator.Validate
	purchaseURL string
}

func NewAssistantHandler(svc *service.AssistantService, v *validator.Validate, purchaseURL string) *AssistantHandler {
	return &AssistantHandler{
		service:     svc,
		validator:   v,
		purchaseURL: purchaseURL,
	}
}

// Message handles POST /api/assistant/message
func (h *AssistantHandler) Message(c *fiber.Ctx) error {
	var req model.AssistantMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Message(c.Context(), middleware.GetUserID(c), req.Text)
	if err != nil {
		if errors.Is(err, model.ErrInvalidEnvelope) {
			return response.AIError(c, "Assistant returned an invalid response")
		}
		var denied *model.AdmissionDeniedError
		if errors.As(err, &denied) || errors.Is(err, model.ErrBusy) || errors.Is(err, model.ErrInvalidRequest) {
			return generationError(c, err, h.purchaseURL)
		}
		return response.AIError(c, err.Error())
	}

	return response.OK(c, result)
}
