package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campaignops/api/internal/merge"
	"github.com/campaignops/api/internal/model"
)

// Metadata keys read from the submission's form fields
const (
	MetaEffects   = "effects"
	MetaClipCount = "clipCount"
	MetaClipSecs  = "clipSeconds"
	MetaTopic     = "topic"
	MetaPlatforms = "platforms"
	MetaTone      = "tone"
	MetaPosts     = "posts"
	MetaBudget    = "budget"
	MetaAudience  = "audience"
)

const (
	defaultClipCount   = 3
	defaultClipSeconds = 15
	defaultAdBudget    = 100
)

var errNoInput = errors.New("job has no input file")

func (w *JobWorker) buildResult(ctx context.Context, job *model.Job) (model.JobResult, error) {
	switch job.Kind {
	case model.JobKindEnrichment:
		return w.enrich(ctx, job)
	case model.JobKindClipExtraction:
		clips, err := w.extractClips(job)
		if err != nil {
			return nil, err
		}
		return model.ClipResult{Clips: clips}, nil
	case model.JobKindCampaignProcessing:
		return w.processCampaign(ctx, job)
	case model.JobKindPostConversion:
		return w.convertPosts(job)
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// enrich reads the uploaded contact list and appends derived fields to every
// record
func (w *JobWorker) enrich(ctx context.Context, job *model.Job) (model.JobResult, error) {
	if len(job.Files) == 0 {
		return nil, errNoInput
	}

	var records []model.EnrichedRecord
	for _, f := range job.Files {
		rc, err := w.files.Open(ctx, f.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		recs, err := readContacts(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		records = append(records, recs...)
	}

	for _, rec := range records {
		enrichRecord(rec)
	}
	return model.EnrichmentResult{Records: records}, nil
}

// readContacts parses an uploaded contact list
func readContacts(r io.Reader) ([]model.EnrichedRecord, error) {
	_, rows, err := merge.ReadCSV(r)
	if err != nil {
		return nil, err
	}
	out := make([]model.EnrichedRecord, len(rows))
	for i, row := range rows {
		out[i] = model.EnrichedRecord(row)
	}
	return out, nil
}

// Fields added by enrichment
const (
	FieldEmailDomain = "EmailDomain"
	FieldEmailValid  = "EmailValid"
	FieldFirstName   = "FirstName"
)

func enrichRecord(rec model.EnrichedRecord) {
	email := lookup(rec, "Email", "email", "E-mail")
	if email != "" {
		local, domain, ok := strings.Cut(email, "@")
		valid := ok && local != "" && strings.Contains(domain, ".")
		rec[FieldEmailValid] = ptr(strconv.FormatBool(valid))
		if ok && domain != "" {
			rec[FieldEmailDomain] = ptr(strings.ToLower(domain))
		}
	} else {
		rec[FieldEmailValid] = ptr("false")
	}

	if _, ok := rec[FieldFirstName]; !ok {
		if name := lookup(rec, "Name", "name", "FullName"); name != "" {
			rec[FieldFirstName] = ptr(strings.Fields(name)[0])
		}
	}
}

func lookup(rec model.EnrichedRecord, keys ...string) string {
	for _, k := range keys {
		if v := rec[k]; v != nil && strings.TrimSpace(*v) != "" {
			return strings.TrimSpace(*v)
		}
	}
	return ""
}

func ptr(s string) *string { return &s }

// extractClips cuts evenly spaced clips from every uploaded video and gives
// each a locator with the submission's effect settings applied
func (w *JobWorker) extractClips(job *model.Job) ([]model.Clip, error) {
	if len(job.Files) == 0 {
		return nil, errNoInput
	}

	var settings model.EffectSettings
	if raw := job.Metadata[MetaEffects]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			return nil, fmt.Errorf("invalid effect settings: %w", err)
		}
	}
	count := metaInt(job.Metadata, MetaClipCount, defaultClipCount)
	length := float64(metaInt(job.Metadata, MetaClipSecs, defaultClipSeconds))

	clips := make([]model.Clip, 0, count*len(job.Files))
	for _, f := range job.Files {
		for i := 0; i < count; i++ {
			start := float64(i) * length
			clips = append(clips, model.Clip{
				ID:        uuid.New().String(),
				SourceKey: f.Key,
				Start:     start,
				End:       start + length,
				Locator:   w.compositor.Compose(f.Key, settings),
			})
		}
	}
	return clips, nil
}

// processCampaign extracts clips and schedules one captioned post per
// platform, a day apart
func (w *JobWorker) processCampaign(ctx context.Context, job *model.Job) (model.JobResult, error) {
	clips, err := w.extractClips(job)
	if err != nil {
		return nil, err
	}

	platforms := metaList(job.Metadata, MetaPlatforms)
	if len(platforms) == 0 {
		platforms = []string{string(model.PlatformInstagram), string(model.PlatformTikTok)}
	}
	topic := job.Metadata[MetaTopic]
	if topic == "" {
		topic = "our latest campaign"
	}
	tone := model.Tone(job.Metadata[MetaTone])
	if tone == "" {
		tone = model.ToneFriendly
	}

	start := w.now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	posts := make([]model.ScheduledPost, 0, len(platforms))
	for i, p := range platforms {
		resp, err := w.captions.Generate(ctx, &model.CaptionGenerateRequest{
			Platform:   model.Platform(p),
			Tone:       tone,
			Topic:      topic,
			Count:      1,
			CampaignID: job.CampaignID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write caption for %s: %w", p, err)
		}

		clip := &clips[i%len(clips)]
		if clip.Caption == "" {
			clip.Caption = resp.Captions[0]
		}
		posts = append(posts, model.ScheduledPost{
			ID:          uuid.New().String(),
			Platform:    model.Platform(p),
			Caption:     resp.Captions[0],
			MediaURL:    clip.Locator,
			ScheduledAt: start.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	return model.CampaignResult{Clips: clips, Posts: posts}, nil
}

// convertPosts creates one ad per listed post
func (w *JobWorker) convertPosts(job *model.Job) (model.JobResult, error) {
	posts := metaList(job.Metadata, MetaPosts)
	if len(posts) == 0 {
		return nil, errors.New("no posts to convert")
	}
	budget := metaInt(job.Metadata, MetaBudget, defaultAdBudget)

	ads := make([]model.ConvertedAd, len(posts))
	for i, id := range posts {
		ads[i] = model.ConvertedAd{
			PostID:   id,
			AdID:     uuid.New().String(),
			Status:   "pending_review",
			Budget:   budget,
			Audience: job.Metadata[MetaAudience],
		}
	}
	return model.PostConversionResult{Ads: ads}, nil
}

func metaInt(meta map[string]string, key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(meta[key]))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func metaList(meta map[string]string, key string) []string {
	var out []string
	for _, part := range strings.Split(meta[key], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
