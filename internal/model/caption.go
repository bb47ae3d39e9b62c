package model

// CaptionGenerateRequest represents the request body for caption generation
type CaptionGenerateRequest struct {
	Platform   Platform `json:"platform" validate:"required,oneof=facebook instagram tiktok linkedin x"`
	Tone       Tone     `json:"tone" validate:"required,oneof=friendly professional playful urgent"`
	Topic      string   `json:"topic" validate:"required,min=1,max=500"`
	Keywords   []string `json:"keywords" validate:"omitempty,max=10,dive,min=1,max=40"`
	Count      int      `json:"count" validate:"omitempty,min=1,max=5"`
	CampaignID string   `json:"campaignId" validate:"omitempty,uuid"`
}

// CaptionGenerateResponse represents the response for caption generation
type CaptionGenerateResponse struct {
	Captions []string `json:"captions"`
}
