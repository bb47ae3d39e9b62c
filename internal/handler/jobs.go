package handler

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/middleware"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/service"
	"github.com/campaignops/api/pkg/response"
)

const maxUploadSize = 500 * 1024 * 1024 // 500MB per file

type JobHandler struct {
	jobs      *service.JobService
	uploads   *service.UploadService
	exports   *service.ExportService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewJobHandler(jobs *service.JobService, uploads *service.UploadService, exports *service.ExportService, v *validator.Validate, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{
		jobs:      jobs,
		uploads:   uploads,
		exports:   exports,
		validator: v,
		logger:    logger,
	}
}

// Submit handles POST /api/jobs
// @Summary      Submit job
// @Description  Upload job inputs and queue the job for processing
// @Tags         Jobs
// @Accept       multipart/form-data
// @Produce      json
// @Param        kind  formData string true "Job kind"
// @Param        files formData file   false "Input files"
// @Success      202 {object} model.SubmitJobResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs [post]
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Invalid multipart body", nil)
	}

	kind := model.JobKind(firstValue(form.Value[model.FormFieldKind]))
	if !kind.Valid() {
		return response.ValidationError(c, "Unknown job kind", map[string]interface{}{
			"kind":  kind,
			"valid": model.ValidJobKinds,
		})
	}

	files := form.File[model.FormFieldFiles]
	for _, f := range files {
		if f.Size > maxUploadSize {
			return response.ValidationError(c, "File size exceeds 500MB limit", map[string]interface{}{
				"file":     f.Filename,
				"maxSize":  maxUploadSize,
				"fileSize": f.Size,
			})
		}
	}

	metadata := make(map[string]string, len(form.Value))
	for k, v := range form.Value {
		if k != model.FormFieldKind && len(v) > 0 {
			metadata[k] = v[0]
		}
	}

	userID := middleware.GetUserID(c)
	ctx := c.UserContext()

	var stored []model.StoredFile
	if kind.RequiresUpload() || len(files) > 0 {
		stored, err = h.uploads.StoreFiles(ctx, userID, kind.Category(), files)
		if errors.Is(err, service.ErrNoFiles) || errors.Is(err, service.ErrUnsupportedMedia) {
			return response.ValidationError(c, err.Error(), nil)
		}
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
	}

	job, err := h.jobs.CreateJob(ctx, userID, kind, stored, metadata)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, model.SubmitJobResponse{
		JobID:     job.ID,
		State:     job.State,
		CreatedAt: job.CreatedAt,
	})
}

// Status handles GET /api/jobs/:jobId
// @Summary      Get job status
// @Description  Get the state, progress and, once ready, the result of a job
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.StatusReport
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	job, ok, err := h.ownedJob(c)
	if !ok {
		return err
	}
	return response.OK(c, job.Report())
}

// List handles GET /api/jobs
// @Summary      List jobs
// @Description  List the caller's jobs, oldest first
// @Tags         Jobs
// @Produce      json
// @Success      200 {object} model.JobListResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs [get]
func (h *JobHandler) List(c *fiber.Ctx) error {
	jobs, err := h.jobs.ListJobs(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	out := model.JobListResponse{Jobs: make([]model.StatusReport, 0, len(jobs))}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, *j.Report())
	}
	return response.OK(c, out)
}

// Dismiss handles DELETE /api/jobs/:jobId
// @Summary      Dismiss job
// @Description  Remove a job from the caller's list
// @Tags         Jobs
// @Param        jobId path string true "Job ID"
// @Success      204 "No Content"
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId} [delete]
func (h *JobHandler) Dismiss(c *fiber.Ctx) error {
	err := h.jobs.DismissJob(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if errors.Is(err, service.ErrJobNotFound) {
		return response.NotFound(c, "Job not found")
	}
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// Export handles GET /api/jobs/:jobId/export
// @Summary      Export job result
// @Description  Download the result of a ready job as CSV or JSON, or store it and return a link
// @Tags         Jobs
// @Produce      text/csv
// @Param        jobId  path  string true  "Job ID"
// @Param        format query string false "csv or json"
// @Param        store  query bool   false "Store the export and return its URL"
// @Success      200 {object} model.ExportJobResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId}/export [get]
func (h *JobHandler) Export(c *fiber.Ctx) error {
	job, ok, err := h.ownedJob(c)
	if !ok {
		return err
	}
	if job.State != model.JobStateReady {
		return response.Conflict(c, "Job not ready yet")
	}

	format := model.ExportFormat(c.Query("format", string(model.ExportFormatCSV)))
	if format != model.ExportFormatCSV && format != model.ExportFormatJSON {
		return response.ValidationError(c, "Unsupported export format", map[string]interface{}{"format": format})
	}

	if c.QueryBool("store") {
		result, err := h.exports.Store(c.UserContext(), job.ID, format)
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
		return response.OK(c, result)
	}

	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.%s"`, job.ID, format))
	if format == model.ExportFormatJSON {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	} else {
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	}

	w := bufio.NewWriter(c.Response().BodyWriter())
	if err := service.EncodeResult(job, format, w); err != nil {
		return response.ServiceError(c, err.Error())
	}
	return w.Flush()
}

// ownedJob loads the :jobId job. When the caller does not own it, the error
// response is already written and ok is false.
func (h *JobHandler) ownedJob(c *fiber.Ctx) (job *model.Job, ok bool, err error) {
	job, err = h.jobs.GetJob(c.UserContext(), c.Params("jobId"))
	if errors.Is(err, service.ErrJobNotFound) || (err == nil && job.UserID != middleware.GetUserID(c)) {
		return nil, false, response.NotFound(c, "Job not found")
	}
	if err != nil {
		return nil, false, response.ServiceError(c, err.Error())
	}
	return job, true, nil
}

func firstValue(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
