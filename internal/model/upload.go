package model

import "time"

// UploadedFile describes one input file accepted with a job submission
type UploadedFile struct {
	Name        string    `json:"name"`
	FileURL     string    `json:"fileUrl"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Multipart form field names shared by the gateway and the upload handler
const (
	FormFieldKind       = "kind"
	FormFieldFiles      = "files"
	FormFieldCampaignID = "campaignId"
)
