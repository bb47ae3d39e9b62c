package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignops/api/internal/effects"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/service"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func newMemStore(jobs ...*model.Job) *memStore {
	s := &memStore{jobs: map[string]*model.Job{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) Advance(_ context.Context, id string, state model.JobState, progress int) (*model.Job, error) {
	return s.mutate(id, func(j *model.Job) error {
		if !model.Reachable(j.Kind, j.State, state) {
			return fmt.Errorf("%s -> %s: %w", j.State, state, service.ErrInvalidTransition)
		}
		j.State = state
		j.Progress = max(j.Progress, progress)
		return nil
	})
}

func (s *memStore) CompleteJob(_ context.Context, id string, result model.JobResult) (*model.Job, error) {
	return s.mutate(id, func(j *model.Job) error {
		j.State = model.JobStateReady
		j.Progress = 100
		j.Result = result
		j.RawResult, _ = json.Marshal(result)
		return nil
	})
}

func (s *memStore) FailJob(_ context.Context, id, msg string) (*model.Job, error) {
	return s.mutate(id, func(j *model.Job) error {
		j.State = model.JobStateFailed
		j.Error = msg
		return nil
	})
}

func (s *memStore) mutate(id string, fn func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	if j.Terminal() {
		return nil, service.ErrInvalidTransition
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	j.Seq++
	cp := *j
	return &cp, nil
}

type memFiles map[string]string

func (m memFiles) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

type event struct {
	kind  string
	state model.JobState
	seq   uint64
	prog  int
}

type recordingHub struct {
	mu     sync.Mutex
	events []event
}

func (h *recordingHub) add(kind string, j *model.Job) {
	h.mu.Lock()
	h.events = append(h.events, event{kind: kind, state: j.State, seq: j.Seq, prog: j.Progress})
	h.mu.Unlock()
}

func (h *recordingHub) BroadcastProgress(j *model.Job, _ string) { h.add("progress", j) }
func (h *recordingHub) BroadcastComplete(j *model.Job)           { h.add("complete", j) }
func (h *recordingHub) BroadcastError(j *model.Job, _ string)    { h.add("error", j) }

type stubCaptions struct{}

func (stubCaptions) Generate(_ context.Context, req *model.CaptionGenerateRequest) (*model.CaptionGenerateResponse, error) {
	return &model.CaptionGenerateResponse{Captions: []string{string(req.Platform) + ": " + req.Topic}}, nil
}

func newTestWorker(store JobStore, files FileOpener, hub Broadcaster) *JobWorker {
	w := NewJobWorker(store, files, stubCaptions{}, effects.NewCompositor("https://cdn.test/video/upload"), hub, 0, nil)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC) }
	return w
}

func task(t *testing.T, j *model.Job) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(model.JobTaskPayload{JobID: j.ID, Kind: j.Kind})
	require.NoError(t, err)
	return asynq.NewTask(service.TaskTypeJob, payload)
}

func submitted(id string, kind model.JobKind) *model.Job {
	return &model.Job{ID: id, Kind: kind, State: model.JobStateSubmitted, Seq: 1, Metadata: map[string]string{}}
}

func TestPlan_FollowsKindStates(t *testing.T) {
	for _, kind := range model.ValidJobKinds {
		t.Run(string(kind), func(t *testing.T) {
			steps := plan(kind)
			require.NotEmpty(t, steps)

			prev := model.JobStateSubmitted
			last := 0
			for _, s := range steps {
				assert.True(t, model.Reachable(kind, prev, s.state), "%s -> %s", prev, s.state)
				assert.Greater(t, s.progress, last)
				assert.Less(t, s.progress, 100)
				prev, last = s.state, s.progress
			}
		})
	}
}

func TestProcessTask_Enrichment(t *testing.T) {
	job := submitted("e1", model.JobKindEnrichment)
	job.Files = []model.StoredFile{{Name: "contacts.csv", Key: "uploads/u/contacts.csv"}}
	store := newMemStore(job)
	hub := &recordingHub{}
	files := memFiles{"uploads/u/contacts.csv": "Name,Email\nAda Lovelace,ada@Example.com\nBob\n"}

	require.NoError(t, newTestWorker(store, files, hub).ProcessTask(context.Background(), task(t, job)))

	got, _ := store.GetJob(context.Background(), "e1")
	require.Equal(t, model.JobStateReady, got.State)
	result := got.Result.(model.EnrichmentResult)
	require.Len(t, result.Records, 2)

	ada := result.Records[0]
	assert.Equal(t, "example.com", *ada[FieldEmailDomain])
	assert.Equal(t, "true", *ada[FieldEmailValid])
	assert.Equal(t, "Ada", *ada[FieldFirstName])

	bob := result.Records[1]
	assert.Nil(t, bob["Email"])
	assert.Equal(t, "false", *bob[FieldEmailValid])
	assert.Equal(t, "Bob", *bob[FieldFirstName])

	require.NotEmpty(t, hub.events)
	var lastSeq uint64
	for _, e := range hub.events {
		assert.Greater(t, e.seq, lastSeq)
		lastSeq = e.seq
	}
	assert.Equal(t, "complete", hub.events[len(hub.events)-1].kind)
}

func TestProcessTask_ClipExtraction(t *testing.T) {
	job := submitted("c1", model.JobKindClipExtraction)
	job.Files = []model.StoredFile{{Name: "a.mp4", Key: "a.mp4"}}
	job.Metadata[MetaClipCount] = "2"
	job.Metadata[MetaEffects] = `{"fadeIn":1}`
	store := newMemStore(job)

	require.NoError(t, newTestWorker(store, memFiles{}, &recordingHub{}).ProcessTask(context.Background(), task(t, job)))

	got, _ := store.GetJob(context.Background(), "c1")
	clips := got.Result.(model.ClipResult).Clips
	require.Len(t, clips, 2)
	assert.Equal(t, "https://cdn.test/video/upload/e_fade:1000/a.mp4", clips[0].Locator)
	assert.Equal(t, 15.0, clips[1].Start)
	assert.Equal(t, 30.0, clips[1].End)
}

func TestProcessTask_CampaignSchedulesPosts(t *testing.T) {
	job := submitted("p1", model.JobKindCampaignProcessing)
	job.Files = []model.StoredFile{{Name: "a.mp4", Key: "a.mp4"}}
	job.Metadata[MetaPlatforms] = "tiktok, linkedin"
	job.Metadata[MetaTopic] = "spring sale"
	store := newMemStore(job)

	require.NoError(t, newTestWorker(store, memFiles{}, &recordingHub{}).ProcessTask(context.Background(), task(t, job)))

	got, _ := store.GetJob(context.Background(), "p1")
	result := got.Result.(model.CampaignResult)
	require.Len(t, result.Posts, 2)
	assert.Equal(t, "tiktok: spring sale", result.Posts[0].Caption)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), result.Posts[0].ScheduledAt)
	assert.Equal(t, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), result.Posts[1].ScheduledAt)
	assert.Equal(t, result.Clips[1].Locator, result.Posts[1].MediaURL)
}

func TestProcessTask_PostConversion(t *testing.T) {
	job := submitted("x1", model.JobKindPostConversion)
	job.Metadata[MetaPosts] = "p-1,p-2"
	job.Metadata[MetaBudget] = "250"
	store := newMemStore(job)

	require.NoError(t, newTestWorker(store, memFiles{}, &recordingHub{}).ProcessTask(context.Background(), task(t, job)))

	got, _ := store.GetJob(context.Background(), "x1")
	ads := got.Result.(model.PostConversionResult).Ads
	require.Len(t, ads, 2)
	assert.Equal(t, "p-2", ads[1].PostID)
	assert.Equal(t, 250, ads[1].Budget)
}

func TestProcessTask_FailureIsTerminal(t *testing.T) {
	job := submitted("f1", model.JobKindEnrichment)
	store := newMemStore(job)
	hub := &recordingHub{}

	err := newTestWorker(store, memFiles{}, hub).ProcessTask(context.Background(), task(t, job))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	got, _ := store.GetJob(context.Background(), "f1")
	assert.Equal(t, model.JobStateFailed, got.State)
	assert.Equal(t, errNoInput.Error(), got.Error)
	assert.Equal(t, "error", hub.events[len(hub.events)-1].kind)
}

func TestProcessTask_DismissedJobIsSkipped(t *testing.T) {
	job := submitted("gone", model.JobKindEnrichment)
	err := newTestWorker(newMemStore(), memFiles{}, &recordingHub{}).ProcessTask(context.Background(), task(t, job))
	assert.NoError(t, err)
}

func TestProcessTask_RetryResumes(t *testing.T) {
	job := submitted("r1", model.JobKindPostConversion)
	job.State = model.JobStateProcessing
	job.Progress = 94
	job.Metadata[MetaPosts] = "p-1"
	store := newMemStore(job)

	require.NoError(t, newTestWorker(store, memFiles{}, &recordingHub{}).ProcessTask(context.Background(), task(t, job)))

	got, _ := store.GetJob(context.Background(), "r1")
	assert.Equal(t, model.JobStateReady, got.State)
}

func TestProcessTask_CancelledContext(t *testing.T) {
	job := submitted("k1", model.JobKindPostConversion)
	job.Metadata[MetaPosts] = "p-1"
	store := newMemStore(job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newTestWorker(store, memFiles{}, &recordingHub{}).ProcessTask(ctx, task(t, job))
	assert.ErrorIs(t, err, context.Canceled)

	got, _ := store.GetJob(context.Background(), "k1")
	assert.Equal(t, model.JobStateSubmitted, got.State)
}
