package model

// JobKind selects the processing pipeline and the result shape of a job
type JobKind string

const (
	JobKindEnrichment         JobKind = "enrichment"
	JobKindClipExtraction     JobKind = "clip-extraction"
	JobKindCampaignProcessing JobKind = "campaign-processing"
	JobKindPostConversion     JobKind = "post-conversion"
)

var ValidJobKinds = []JobKind{
	JobKindEnrichment, JobKindClipExtraction, JobKindCampaignProcessing, JobKindPostConversion,
}

// Valid reports whether k is one of the known kinds
func (k JobKind) Valid() bool {
	_, ok := kindStates[k]
	return ok
}

// Job state
type JobState string

const (
	JobStateSubmitted  JobState = "submitted"
	JobStateUploading  JobState = "uploading"
	JobStateAnalyzing  JobState = "analyzing"
	JobStateExtracting JobState = "extracting"
	JobStateProcessing JobState = "processing"
	JobStateReady      JobState = "ready"
	JobStateFailed     JobState = "failed"
)

var ValidJobStates = []JobState{
	JobStateSubmitted, JobStateUploading, JobStateAnalyzing, JobStateExtracting,
	JobStateProcessing, JobStateReady, JobStateFailed,
}

// Terminal reports whether no further transitions are accepted from s
func (s JobState) Terminal() bool {
	return s == JobStateReady || s == JobStateFailed
}

// Campaign status, derived from the campaign's jobs
type CampaignStatus string

const (
	CampaignStatusDraft      CampaignStatus = "draft"
	CampaignStatusProcessing CampaignStatus = "processing"
	CampaignStatusReady      CampaignStatus = "ready"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// MediaCategory is the family of content types a submission accepts
type MediaCategory string

const (
	MediaCategoryVideo MediaCategory = "video"
	MediaCategoryImage MediaCategory = "image"
	MediaCategoryAudio MediaCategory = "audio"
	MediaCategoryCSV   MediaCategory = "csv"
	MediaCategoryNone  MediaCategory = ""
)

// Social platforms targeted by captions and converted posts
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformX         Platform = "x"
)

// Caption tone
type Tone string

const (
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	TonePlayful      Tone = "playful"
	ToneUrgent       Tone = "urgent"
)
