package model

import "time"

// ExportFormat selects the encoding of an exported job result
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
)

// ExportJobResponse represents the response when an export is stored remotely
type ExportJobResponse struct {
	JobID     string       `json:"jobId"`
	FileURL   string       `json:"fileUrl"`
	Size      int64        `json:"size"`
	Format    ExportFormat `json:"format"`
	ExpiresAt time.Time    `json:"expiresAt"`
}
