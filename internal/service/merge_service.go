package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/config"
	"github.com/campaignops/api/internal/merge"
	"github.com/campaignops/api/internal/model"
)

// MergePreviewResponse is a resolved template plus the tokens it referenced
type MergePreviewResponse struct {
	Resolved      model.ResolvedTemplate `json:"resolved"`
	RecordTokens  []string               `json:"recordTokens"`
	ContextTokens []string               `json:"contextTokens"`
}

// MergeService resolves templates for previews and bulk exports
type MergeService struct {
	campaigns *CampaignService
	uploads   *UploadService
	cfg       config.MergeConfig
	logger    *zap.Logger
}

func NewMergeService(campaigns *CampaignService, uploads *UploadService, cfg config.MergeConfig, logger *zap.Logger) *MergeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MergeService{
		campaigns: campaigns,
		uploads:   uploads,
		cfg:       cfg,
		logger:    logger,
	}
}

// Preview resolves one template. Field lists default to the keys present in
// the record and context.
func (s *MergeService) Preview(req *model.MergePreviewRequest) *MergePreviewResponse {
	schema := merge.Schema{RecordFields: req.RecordFields, ContextFields: req.ContextFields}
	resolved := merge.NewResolver(schema).ResolveTemplate(req.Template, req.Record, req.Context)

	recordTokens, contextTokens := merge.Tokens(req.Template.Subject + "\n" + req.Template.Body)
	return &MergePreviewResponse{
		Resolved:      resolved,
		RecordTokens:  recordTokens,
		ContextTokens: contextTokens,
	}
}

// Export resolves every template for every record and writes the table as
// CSV. Returns the number of rows written.
func (s *MergeService) Export(ctx context.Context, req *model.MergeExportRequest, w io.Writer) (int, error) {
	mctx, err := s.contextFor(ctx, req)
	if err != nil {
		return 0, err
	}

	schema := merge.SchemaFromRecords(req.Records, mctx)
	schema.RecordFields = mergeFieldOrder(req.RecordFields, schema.RecordFields)

	batch := merge.NewBatch(merge.NewResolver(schema), s.logger)
	if s.cfg.BatchSize > 0 {
		batch.Size = s.cfg.BatchSize
	}
	if s.cfg.WarnThreshold > 0 {
		batch.WarnThreshold = s.cfg.WarnThreshold
	}

	rows, err := batch.Run(ctx, req.Records, req.Templates, mctx)
	if err != nil {
		return 0, err
	}

	header, table := merge.Table(req.RecordFields, req.Templates, rows)
	if err := merge.WriteCSV(w, header, table); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(rows), nil
}

// StoreExport runs Export into object storage
func (s *MergeService) StoreExport(ctx context.Context, req *model.MergeExportRequest) (*model.MergeExportResponse, error) {
	var buf bytes.Buffer
	n, err := s.Export(ctx, req, &buf)
	if err != nil {
		return nil, err
	}

	size := int64(buf.Len())
	key := fmt.Sprintf("exports/merge/%s.csv", uuid.New().String())
	url, err := s.uploads.Put(ctx, key, &buf, "text/csv")
	if err != nil {
		return nil, fmt.Errorf("failed to store export: %w", err)
	}
	return &model.MergeExportResponse{FileURL: url, Rows: n, Size: size}, nil
}

// contextFor starts from the campaign's fields, if any, and lets the
// request's context override them
func (s *MergeService) contextFor(ctx context.Context, req *model.MergeExportRequest) (map[string]*string, error) {
	mctx := map[string]*string{}
	if req.CampaignID != "" {
		campaign, err := s.campaigns.Get(ctx, req.CampaignID)
		if err != nil {
			return nil, err
		}
		maps.Copy(mctx, campaign.MergeContext())
	}
	maps.Copy(mctx, req.Context)
	return mctx, nil
}

// mergeFieldOrder keeps the requested fields first and appends any other
// field seen in the records so they still resolve
func mergeFieldOrder(requested, seen []string) []string {
	out := make([]string, 0, len(requested)+len(seen))
	set := make(map[string]bool, len(requested))
	for _, f := range requested {
		if !set[f] {
			set[f] = true
			out = append(out, f)
		}
	}
	for _, f := range seen {
		if !set[f] {
			set[f] = true
			out = append(out, f)
		}
	}
	return out
}
