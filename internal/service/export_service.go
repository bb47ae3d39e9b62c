package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/merge"
	"github.com/campaignops/api/internal/model"
)

const exportLinkExpiry = 24 * time.Hour

// ExportService renders ready job results as delimited text or JSON
type ExportService struct {
	jobs    *JobService
	uploads *UploadService
	logger  *zap.Logger
}

// NewExportService creates a new export service
func NewExportService(jobs *JobService, uploads *UploadService, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		jobs:    jobs,
		uploads: uploads,
		logger:  logger,
	}
}

// Write encodes the result of a ready job to w
func (s *ExportService) Write(ctx context.Context, jobID string, format model.ExportFormat, w io.Writer) error {
	job, err := s.jobs.ResultOf(ctx, jobID)
	if err != nil {
		return err
	}
	return EncodeResult(job, format, w)
}

// Store encodes the result of a ready job and keeps it in object storage
func (s *ExportService) Store(ctx context.Context, jobID string, format model.ExportFormat) (*model.ExportJobResponse, error) {
	var buf bytes.Buffer
	if err := s.Write(ctx, jobID, format, &buf); err != nil {
		return nil, err
	}

	size := int64(buf.Len())
	key := fmt.Sprintf("exports/%s/%s.%s", jobID, uuid.New().String(), format)
	url, err := s.uploads.Put(ctx, key, &buf, contentTypeOf(format))
	if err != nil {
		return nil, fmt.Errorf("failed to store export: %w", err)
	}

	s.logger.Info("export stored", zap.String("jobId", jobID), zap.String("key", key), zap.Int64("size", size))
	return &model.ExportJobResponse{
		JobID:     jobID,
		FileURL:   url,
		Size:      size,
		Format:    format,
		ExpiresAt: time.Now().Add(exportLinkExpiry),
	}, nil
}

func contentTypeOf(format model.ExportFormat) string {
	if format == model.ExportFormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// EncodeResult writes a ready job's result in the requested format
func EncodeResult(job *model.Job, format model.ExportFormat, w io.Writer) error {
	switch format {
	case model.ExportFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(job.Result)
	case model.ExportFormatCSV, "":
		header, rows, err := ResultTable(job.Result)
		if err != nil {
			return err
		}
		return merge.WriteCSV(w, header, rows)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ResultTable flattens a job result into a header and rows
func ResultTable(result model.JobResult) ([]string, [][]string, error) {
	switch r := result.(type) {
	case model.EnrichmentResult:
		records := make([]map[string]*string, len(r.Records))
		for i, rec := range r.Records {
			records[i] = rec
		}
		header := merge.SchemaFromRecords(records, nil).RecordFields
		rows := make([][]string, len(records))
		for i, rec := range records {
			line := make([]string, len(header))
			for j, f := range header {
				if v := rec[f]; v != nil {
					line[j] = *v
				}
			}
			rows[i] = line
		}
		return header, rows, nil

	case model.ClipResult:
		return clipHeader, clipRows(r.Clips), nil

	case model.CampaignResult:
		header := []string{"type", "id", "platform", "caption", "url", "scheduledAt"}
		rows := make([][]string, 0, len(r.Clips)+len(r.Posts))
		for _, c := range r.Clips {
			rows = append(rows, []string{"clip", c.ID, "", c.Caption, c.Locator, ""})
		}
		for _, p := range r.Posts {
			rows = append(rows, []string{"post", p.ID, string(p.Platform), p.Caption, p.MediaURL, p.ScheduledAt.Format(time.RFC3339)})
		}
		return header, rows, nil

	case model.PostConversionResult:
		header := []string{"postId", "adId", "status", "budget", "audience"}
		rows := make([][]string, len(r.Ads))
		for i, ad := range r.Ads {
			rows[i] = []string{ad.PostID, ad.AdID, ad.Status, strconv.Itoa(ad.Budget), ad.Audience}
		}
		return header, rows, nil

	case nil:
		return nil, nil, fmt.Errorf("job has no result")
	default:
		return nil, nil, fmt.Errorf("unsupported result type %T", result)
	}
}

var clipHeader = []string{"id", "sourceKey", "start", "end", "locator", "caption"}

func clipRows(clips []model.Clip) [][]string {
	rows := make([][]string, len(clips))
	for i, c := range clips {
		rows[i] = []string{
			c.ID,
			c.SourceKey,
			strconv.FormatFloat(c.Start, 'f', -1, 64),
			strconv.FormatFloat(c.End, 'f', -1, 64),
			c.Locator,
			c.Caption,
		}
	}
	return rows
}
