package handler

import (
	"errors"
	"mime"
	"path"

	"github.com/gofiber/fiber/v2"

	"github.com/campaignops/api/internal/client"
	"github.com/campaignops/api/internal/service"
	"github.com/campaignops/api/pkg/response"
)

// FileHandler serves objects kept by the in-memory storage used when R2 is
// not configured, so locally returned file URLs resolve.
type FileHandler struct {
	uploads *service.UploadService
}

func NewFileHandler(uploads *service.UploadService) *FileHandler {
	return &FileHandler{uploads: uploads}
}

// Get handles GET /files/*
func (h *FileHandler) Get(c *fiber.Ctx) error {
	key := c.Params("*")
	if key == "" {
		return response.NotFound(c, "File not found")
	}

	body, err := h.uploads.Open(c.UserContext(), key)
	if errors.Is(err, client.ErrNotFound) {
		return response.NotFound(c, "File not found")
	}
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	return c.SendStream(body)
}
