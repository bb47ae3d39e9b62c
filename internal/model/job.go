package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// kindStates holds the ordered state path of every kind. failed is reachable
// from any non-terminal state and is not listed.
var kindStates = map[JobKind][]JobState{
	JobKindEnrichment:         {JobStateSubmitted, JobStateUploading, JobStateProcessing, JobStateReady},
	JobKindClipExtraction:     {JobStateSubmitted, JobStateUploading, JobStateAnalyzing, JobStateExtracting, JobStateReady},
	JobKindCampaignProcessing: {JobStateSubmitted, JobStateUploading, JobStateAnalyzing, JobStateProcessing, JobStateReady},
	JobKindPostConversion:     {JobStateSubmitted, JobStateProcessing, JobStateReady},
}

// States returns the ordered state path of the kind, ending with ready
func (k JobKind) States() []JobState {
	states := kindStates[k]
	out := make([]JobState, len(states))
	copy(out, states)
	return out
}

// Category returns the media category a kind's submission must carry
func (k JobKind) Category() MediaCategory {
	switch k {
	case JobKindEnrichment:
		return MediaCategoryCSV
	case JobKindClipExtraction, JobKindCampaignProcessing:
		return MediaCategoryVideo
	default:
		return MediaCategoryNone
	}
}

// RequiresUpload reports whether the kind passes through the uploading state
func (k JobKind) RequiresUpload() bool {
	return k.index(JobStateUploading) >= 0
}

// Allows reports whether the state belongs to the kind's path
func (k JobKind) Allows(s JobState) bool {
	return s == JobStateFailed || k.index(s) >= 0
}

func (k JobKind) index(s JobState) int {
	for i, st := range kindStates[k] {
		if st == s {
			return i
		}
	}
	return -1
}

// Reachable reports whether a job of kind k may move from one state to another.
// Staying in the same non-terminal state is reachable (progress updates).
func Reachable(k JobKind, from, to JobState) bool {
	if from.Terminal() {
		return false
	}
	if to == JobStateFailed {
		return true
	}
	fi, ti := k.index(from), k.index(to)
	if fi < 0 || ti < 0 {
		return false
	}
	return ti >= fi
}

// Job is one unit of asynchronous remote work
type Job struct {
	ID             string            `json:"id"`
	Kind           JobKind           `json:"kind"`
	State          JobState          `json:"state"`
	Progress       int               `json:"progress"`
	UploadProgress int               `json:"uploadProgress,omitempty"`
	Error          string            `json:"error,omitempty"`
	Result         JobResult         `json:"-"`
	RawResult      json.RawMessage   `json:"result,omitempty"`
	Generated      []MergedRow       `json:"generated,omitempty"`
	CampaignID     string            `json:"campaignId,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	Files          []StoredFile      `json:"files,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Provisional    bool              `json:"provisional,omitempty"`
	Seq            uint64            `json:"seq,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	TerminalAt     *time.Time        `json:"terminalAt,omitempty"`
}

// Terminal reports whether the job has reached ready or failed
func (j *Job) Terminal() bool {
	return j.State.Terminal()
}

// Report builds the status endpoint view of the job
func (j *Job) Report() *StatusReport {
	r := &StatusReport{
		JobID:    j.ID,
		Kind:     j.Kind,
		State:    j.State,
		Progress: j.Progress,
		Error:    j.Error,
	}
	if j.State == JobStateReady {
		r.Result = j.RawResult
	}
	return r
}

// StoredFile is an uploaded input file kept in object storage
type StoredFile struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// StatusReport is the wire shape returned by the status endpoint
type StatusReport struct {
	JobID    string          `json:"jobId"`
	Kind     JobKind         `json:"kind"`
	State    JobState        `json:"state"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// SubmitJobResponse is returned by the upload endpoint
type SubmitJobResponse struct {
	JobID     string    `json:"jobId"`
	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobListResponse is returned by the list endpoint
type JobListResponse struct {
	Jobs []StatusReport `json:"jobs"`
}

// JobResult is the kind-specific payload of a ready job
type JobResult interface {
	Kind() JobKind
}

// EnrichedRecord is one contact row, as uploaded plus enrichment fields
type EnrichedRecord map[string]*string

// EnrichmentResult lists enriched contact records
type EnrichmentResult struct {
	Records []EnrichedRecord `json:"records"`
}

func (EnrichmentResult) Kind() JobKind { return JobKindEnrichment }

// Clip is one generated short video
type Clip struct {
	ID        string  `json:"id"`
	SourceKey string  `json:"sourceKey"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Locator   string  `json:"locator"`
	Caption   string  `json:"caption,omitempty"`
}

// ClipResult lists generated clips
type ClipResult struct {
	Clips []Clip `json:"clips"`
}

func (ClipResult) Kind() JobKind { return JobKindClipExtraction }

// ScheduledPost is a post produced for a campaign
type ScheduledPost struct {
	ID          string    `json:"id"`
	Platform    Platform  `json:"platform"`
	Caption     string    `json:"caption"`
	MediaURL    string    `json:"mediaUrl"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// CampaignResult lists the clips and posts produced for a campaign
type CampaignResult struct {
	Clips []Clip          `json:"clips"`
	Posts []ScheduledPost `json:"posts"`
}

func (CampaignResult) Kind() JobKind { return JobKindCampaignProcessing }

// ConvertedAd is an ad created from an existing post
type ConvertedAd struct {
	PostID   string `json:"postId"`
	AdID     string `json:"adId"`
	Status   string `json:"status"`
	Budget   int    `json:"budget"`
	Audience string `json:"audience,omitempty"`
}

// PostConversionResult lists ads created from posts
type PostConversionResult struct {
	Ads []ConvertedAd `json:"ads"`
}

func (PostConversionResult) Kind() JobKind { return JobKindPostConversion }

// DecodeResult decodes a raw result payload into the type owned by the kind
func DecodeResult(kind JobKind, raw json.RawMessage) (JobResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var (
		result JobResult
		err    error
	)
	switch kind {
	case JobKindEnrichment:
		var r EnrichmentResult
		err = json.Unmarshal(raw, &r)
		result = r
	case JobKindClipExtraction:
		var r ClipResult
		err = json.Unmarshal(raw, &r)
		result = r
	case JobKindCampaignProcessing:
		var r CampaignResult
		err = json.Unmarshal(raw, &r)
		result = r
	case JobKindPostConversion:
		var r PostConversionResult
		err = json.Unmarshal(raw, &r)
		result = r
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", kind, err)
	}
	return result, nil
}

// JobTaskPayload is the asynq payload for processing a job
type JobTaskPayload struct {
	JobID string  `json:"jobId"`
	Kind  JobKind `json:"kind"`
}
