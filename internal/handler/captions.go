package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/service"
	"github.com/campaignops/api/pkg/response"
)

type CaptionHandler struct {
	service   service.CaptionWriter
	validator *validator.Validate
}

func NewCaptionHandler(svc service.CaptionWriter, v *validator.Validate) *CaptionHandler {
	return &CaptionHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/captions/generate
// @Summary      Generate captions
// @Description  Write social captions for a platform using AI
// @Tags         Captions
// @Accept       json
// @Produce      json
// @Param        request body model.CaptionGenerateRequest true "Generate request"
// @Success      200 {object} model.CaptionGenerateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/captions/generate [post]
func (h *CaptionHandler) Generate(c *fiber.Ctx) error {
	var req model.CaptionGenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Generate(c.UserContext(), &req)
	if errors.Is(err, service.ErrCampaignNotFound) {
		return response.NotFound(c, "Campaign not found")
	}
	if err != nil {
		return response.AIError(c, err.Error())
	}

	return response.OK(c, result)
}
