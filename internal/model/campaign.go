package model

import "time"

// Campaign is a client-owned record aggregating the jobs run for it
type Campaign struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"clientId"`
	Name      string         `json:"name"`
	Owner     string         `json:"owner"`
	StartDate string         `json:"startDate,omitempty"`
	EndDate   string         `json:"endDate,omitempty"`
	JobIDs    []string       `json:"jobIds"`
	Status    CampaignStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Context field names exposed to merge templates
const (
	ContextCampaignName = "CampaignName"
	ContextOwner        = "Owner"
	ContextClientID     = "ClientId"
	ContextStartDate    = "StartDate"
	ContextEndDate      = "EndDate"
)

// CampaignContextFields lists the context tokens a campaign can resolve
var CampaignContextFields = []string{
	ContextCampaignName, ContextOwner, ContextClientID, ContextStartDate, ContextEndDate,
}

// MergeContext exposes the campaign's fields as a context-token map.
// Empty fields resolve to nil so templates render them as blank.
func (c *Campaign) MergeContext() map[string]*string {
	return map[string]*string{
		ContextCampaignName: optional(c.Name),
		ContextOwner:        optional(c.Owner),
		ContextClientID:     optional(c.ClientID),
		ContextStartDate:    optional(c.StartDate),
		ContextEndDate:      optional(c.EndDate),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DeriveCampaignStatus folds the states of a campaign's jobs into one status
func DeriveCampaignStatus(states []JobState) CampaignStatus {
	if len(states) == 0 {
		return CampaignStatusDraft
	}

	failed := false
	for _, s := range states {
		if !s.Terminal() {
			return CampaignStatusProcessing
		}
		if s == JobStateFailed {
			failed = true
		}
	}
	if failed {
		return CampaignStatusFailed
	}
	return CampaignStatusReady
}

// CreateCampaignRequest represents the request body for creating a campaign
type CreateCampaignRequest struct {
	ClientID  string `json:"clientId" validate:"required,min=1,max=64"`
	Name      string `json:"name" validate:"required,min=1,max=200"`
	Owner     string `json:"owner" validate:"omitempty,max=200"`
	StartDate string `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
}

// CampaignListResponse represents the response for listing campaigns
type CampaignListResponse struct {
	Campaigns []Campaign `json:"campaigns"`
}
