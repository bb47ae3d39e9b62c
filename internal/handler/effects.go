package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/campaignops/api/internal/effects"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/pkg/response"
)

type EffectsHandler struct {
	compositor *effects.Compositor
	validator  *validator.Validate
}

func NewEffectsHandler(compositor *effects.Compositor, v *validator.Validate) *EffectsHandler {
	return &EffectsHandler{
		compositor: compositor,
		validator:  v,
	}
}

// Compose handles POST /api/effects/compose
// @Summary      Compose effect chain
// @Description  Build the delivery locator of an asset with effect settings applied
// @Tags         Effects
// @Accept       json
// @Produce      json
// @Param        request body model.ComposeRequest true "Compose request"
// @Success      200 {object} model.ComposeResponse
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/effects/compose [post]
func (h *EffectsHandler) Compose(c *fiber.Ctx) error {
	var req model.ComposeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	chain, locator := h.compositor.ComposeChain(req.AssetID, req.Settings)
	if chain == nil {
		chain = model.EffectChain{}
	}
	return response.OK(c, model.ComposeResponse{Locator: locator, Chain: chain})
}
