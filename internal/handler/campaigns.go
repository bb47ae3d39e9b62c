package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/campaignops/api/internal/middleware"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/service"
	"github.com/campaignops/api/pkg/response"
)

type CampaignHandler struct {
	service   *service.CampaignService
	validator *validator.Validate
}

func NewCampaignHandler(svc *service.CampaignService, v *validator.Validate) *CampaignHandler {
	return &CampaignHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/campaigns
// @Summary      Create campaign
// @Tags         Campaigns
// @Accept       json
// @Produce      json
// @Param        request body model.CreateCampaignRequest true "Campaign"
// @Success      201 {object} model.Campaign
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns [post]
func (h *CampaignHandler) Create(c *fiber.Ctx) error {
	var req model.CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.StartDate != "" && req.EndDate != "" && req.EndDate < req.StartDate {
		return response.ValidationError(c, "Validation failed", map[string]string{"EndDate": "gtefield"})
	}

	result, err := h.service.Create(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// List handles GET /api/campaigns
// @Summary      List campaigns
// @Tags         Campaigns
// @Produce      json
// @Success      200 {object} model.CampaignListResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns [get]
func (h *CampaignHandler) List(c *fiber.Ctx) error {
	campaigns, err := h.service.List(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, model.CampaignListResponse{Campaigns: campaigns})
}

// Get handles GET /api/campaigns/:id
// @Summary      Get campaign
// @Description  Get a campaign with its status derived from its jobs
// @Tags         Campaigns
// @Produce      json
// @Param        id path string true "Campaign ID"
// @Success      200 {object} model.Campaign
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns/{id} [get]
func (h *CampaignHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, service.ErrCampaignNotFound) {
		return response.NotFound(c, "Campaign not found")
	}
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// AttachJob handles POST /api/campaigns/:id/jobs/:jobId
// @Summary      Attach job to campaign
// @Tags         Campaigns
// @Produce      json
// @Param        id    path string true "Campaign ID"
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.Campaign
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns/{id}/jobs/{jobId} [post]
func (h *CampaignHandler) AttachJob(c *fiber.Ctx) error {
	result, err := h.service.AttachJob(c.UserContext(), c.Params("id"), c.Params("jobId"))
	switch {
	case errors.Is(err, service.ErrCampaignNotFound):
		return response.NotFound(c, "Campaign not found")
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case err != nil:
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}
