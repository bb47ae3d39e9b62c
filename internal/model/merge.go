package model

// MergeTemplate is a named subject/body pair containing merge tokens
type MergeTemplate struct {
	Name    string `json:"name" validate:"required,min=1,max=100"`
	Subject string `json:"subject" validate:"max=1000"`
	Body    string `json:"body" validate:"max=100000"`
}

// ResolvedTemplate is a template with every recognised token substituted
type ResolvedTemplate struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MergedRow is the output for one record: one resolved pair per template
type MergedRow struct {
	Record    map[string]*string `json:"record"`
	Templates []ResolvedTemplate `json:"templates"`
}

// MergePreviewRequest resolves one template against one record and context
type MergePreviewRequest struct {
	Template      MergeTemplate      `json:"template" validate:"required"`
	Record        map[string]*string `json:"record"`
	Context       map[string]*string `json:"context"`
	RecordFields  []string           `json:"recordFields"`
	ContextFields []string           `json:"contextFields"`
}

// MergeExportRequest resolves templates over a record set into delimited text
type MergeExportRequest struct {
	CampaignID   string               `json:"campaignId" validate:"omitempty,uuid"`
	Templates    []MergeTemplate      `json:"templates" validate:"required,min=1,dive"`
	Records      []map[string]*string `json:"records" validate:"required,min=1"`
	RecordFields []string             `json:"recordFields" validate:"required,min=1"`
	Context      map[string]*string   `json:"context"`
	Store        bool                 `json:"store"`
}

// MergeExportResponse is returned when the export is stored instead of streamed
type MergeExportResponse struct {
	FileURL string `json:"fileUrl"`
	Rows    int    `json:"rows"`
	Size    int64  `json:"size"`
}
