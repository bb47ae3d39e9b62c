package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignops/api/internal/model"
)

func newTrackedStore(kind model.JobKind, state model.JobState) *Store {
	s := NewStore()
	s.Add(model.Job{ID: "j1", Kind: kind, State: state})
	return s
}

func TestApplyDiscardsStaleRegression(t *testing.T) {
	s := newTrackedStore(model.JobKindCampaignProcessing, model.JobStateUploading)

	_, ok := s.Apply(Update{JobID: "j1", Seq: 2, State: model.JobStateProcessing, Progress: 40})
	require.True(t, ok)

	// slow earlier response processed later with a newer sequence number
	_, ok = s.Apply(Update{JobID: "j1", Seq: 3, State: model.JobStateAnalyzing, Progress: 20})
	assert.False(t, ok)

	// earlier sequence number
	_, ok = s.Apply(Update{JobID: "j1", Seq: 1, State: model.JobStateProcessing, Progress: 90})
	assert.False(t, ok)

	j, _ := s.Get("j1")
	assert.Equal(t, model.JobStateProcessing, j.State)
	assert.Equal(t, 40, j.Progress)
}

func TestApplyIsIdempotent(t *testing.T) {
	s := newTrackedStore(model.JobKindEnrichment, model.JobStateUploading)
	u := Update{JobID: "j1", State: model.JobStateProcessing, Progress: 30}

	_, ok := s.Apply(u)
	require.True(t, ok)
	_, ok = s.Apply(u)
	assert.False(t, ok)

	j, _ := s.Get("j1")
	assert.Equal(t, 30, j.Progress)
}

func TestApplyKeepsProgressMonotonicAcrossStates(t *testing.T) {
	s := newTrackedStore(model.JobKindClipExtraction, model.JobStateAnalyzing)
	s.Apply(Update{JobID: "j1", State: model.JobStateAnalyzing, Progress: 70})

	j, ok := s.Apply(Update{JobID: "j1", State: model.JobStateExtracting, Progress: 10})
	require.True(t, ok)
	assert.Equal(t, model.JobStateExtracting, j.State)
	assert.Equal(t, 70, j.Progress)

	_, ok = s.Apply(Update{JobID: "j1", State: model.JobStateExtracting, Progress: 50})
	assert.False(t, ok)
}

func TestTerminalJobsAreFrozen(t *testing.T) {
	s := newTrackedStore(model.JobKindClipExtraction, model.JobStateExtracting)

	j, ok := s.Apply(Update{JobID: "j1", State: model.JobStateReady, Result: json.RawMessage(`{"clips":[{"id":"c1"}]}`)})
	require.True(t, ok)
	assert.Equal(t, 100, j.Progress)
	require.NotNil(t, j.TerminalAt)
	clips, ok := j.Result.(model.ClipResult)
	require.True(t, ok)
	assert.Len(t, clips.Clips, 1)

	_, ok = s.Apply(Update{JobID: "j1", Seq: 99, State: model.JobStateFailed, Error: "late"})
	assert.False(t, ok)
	j, _ = s.Get("j1")
	assert.Equal(t, model.JobStateReady, j.State)
	assert.Empty(t, j.Error)
}

func TestApplyFailures(t *testing.T) {
	s := newTrackedStore(model.JobKindEnrichment, model.JobStateProcessing)
	j, ok := s.Apply(Update{JobID: "j1", State: model.JobStateFailed})
	require.True(t, ok)
	assert.Equal(t, "processing failed", j.Error)

	s = newTrackedStore(model.JobKindEnrichment, model.JobStateProcessing)
	j, ok = s.Apply(Update{JobID: "j1", State: model.JobStateReady, Result: json.RawMessage(`{"records":`)})
	require.True(t, ok)
	assert.Equal(t, model.JobStateFailed, j.State)
	assert.NotEmpty(t, j.Error)

	_, ok = s.Apply(Update{JobID: "missing", State: model.JobStateReady})
	assert.False(t, ok)
}

func TestStoreListOperations(t *testing.T) {
	s := NewStore()
	require.True(t, s.Add(model.Job{ID: "a", Kind: model.JobKindEnrichment, State: model.JobStateUploading, Provisional: true}))
	require.True(t, s.Add(model.Job{ID: "b", Kind: model.JobKindEnrichment, State: model.JobStateProcessing}))
	assert.False(t, s.Add(model.Job{ID: "b"}))

	require.NoError(t, s.Rename("a", "a2"))
	assert.Error(t, s.Rename("a2", "b"))
	assert.ErrorIs(t, s.Rename("zzz", "y"), ErrJobNotFound)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a2", snap[0].ID)
	assert.False(t, snap[0].Provisional)

	assert.True(t, s.Remove("a2"))
	assert.False(t, s.Remove("a2"))
	assert.Equal(t, 1, s.Len())
	_, ok := s.Apply(Update{JobID: "a2", State: model.JobStateProcessing, Progress: 5})
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTrackedStore(model.JobKindEnrichment, model.JobStateProcessing)
	snap := s.Snapshot()
	snap[0].State = model.JobStateFailed

	j, _ := s.Get("j1")
	assert.Equal(t, model.JobStateProcessing, j.State)
}
