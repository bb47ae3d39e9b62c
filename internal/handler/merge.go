package handler

import (
	"bufio"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/service"
	"github.com/campaignops/api/pkg/response"
)

type MergeHandler struct {
	service   *service.MergeService
	validator *validator.Validate
}

func NewMergeHandler(svc *service.MergeService, v *validator.Validate) *MergeHandler {
	return &MergeHandler{
		service:   svc,
		validator: v,
	}
}

// Preview handles POST /api/merge/preview
// @Summary      Preview merge
// @Description  Resolve one template against one record and context
// @Tags         Merge
// @Accept       json
// @Produce      json
// @Param        request body model.MergePreviewRequest true "Preview request"
// @Success      200 {object} service.MergePreviewResponse
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/merge/preview [post]
func (h *MergeHandler) Preview(c *fiber.Ctx) error {
	var req model.MergePreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	return response.OK(c, h.service.Preview(&req))
}

// Export handles POST /api/merge/export
// @Summary      Export merge
// @Description  Resolve templates over every record; returns CSV, or a link when store is set
// @Tags         Merge
// @Accept       json
// @Produce      text/csv
// @Param        request body model.MergeExportRequest true "Export request"
// @Success      200 {object} model.MergeExportResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/merge/export [post]
func (h *MergeHandler) Export(c *fiber.Ctx) error {
	var req model.MergeExportRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if req.Store {
		result, err := h.service.StoreExport(c.UserContext(), &req)
		if err != nil {
			return h.exportError(c, err)
		}
		return response.OK(c, result)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="merge.csv"`)
	w := bufio.NewWriter(c.Response().BodyWriter())
	if _, err := h.service.Export(c.UserContext(), &req, w); err != nil {
		c.Response().ResetBody()
		return h.exportError(c, err)
	}
	return w.Flush()
}

func (h *MergeHandler) exportError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrCampaignNotFound) {
		return response.NotFound(c, "Campaign not found")
	}
	return response.ServiceError(c, err.Error())
}
