// Package orchestrator ties submission, observation and merge resolution
// together over an in-memory job list.
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/campaignops/api/internal/model"
)

// ErrJobNotFound is returned for ids the store does not track
var ErrJobNotFound = errors.New("job not found")

// Update is one observed change to a job. Seq zero marks a local update that
// skips the sequence check but not the reachability check. UploadProgress is
// the local transfer percentage; Progress is what the processor reports.
type Update struct {
	JobID          string
	Seq            uint64
	State          model.JobState
	Progress       int
	UploadProgress int
	Result         json.RawMessage
	Error          string
	Generated      []model.MergedRow
}

// Store is the ordered job list. All state changes go through Apply.
type Store struct {
	mu    sync.RWMutex
	jobs  []*model.Job
	index map[string]*model.Job
	now   func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		index: make(map[string]*model.Job),
		now:   time.Now,
	}
}

// Add appends a job unless its id is already tracked
func (s *Store) Add(job model.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[job.ID]; ok {
		return false
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	j := &job
	s.jobs = append(s.jobs, j)
	s.index[j.ID] = j
	return true
}

// Rename replaces a provisional id with the processor-assigned one. It fails
// when the new id is already tracked.
func (s *Store) Rename(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.index[oldID]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldID, ErrJobNotFound)
	}
	if _, taken := s.index[newID]; taken {
		return fmt.Errorf("rename %s: job %s already tracked", oldID, newID)
	}
	delete(s.index, oldID)
	j.ID = newID
	j.Provisional = false
	j.UpdatedAt = s.now()
	s.index[newID] = j
	return nil
}

// Remove drops a job from the list
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	s.jobs = slices.DeleteFunc(s.jobs, func(x *model.Job) bool { return x == j })
	return true
}

// Apply merges an update into the job with the same id. It returns the new
// job and true when the update changed anything. Updates for unknown or
// terminal jobs, stale sequence numbers, unreachable states and progress
// regressions are discarded, so Apply is safe to call repeatedly and out of
// order.
func (s *Store) Apply(u Update) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.index[u.JobID]
	if !ok || j.Terminal() {
		return model.Job{}, false
	}
	if u.Seq != 0 {
		if u.Seq <= j.Seq {
			return model.Job{}, false
		}
		j.Seq = u.Seq
	}
	if !model.Reachable(j.Kind, j.State, u.State) {
		return model.Job{}, false
	}

	progress := min(max(u.Progress, 0), 100)
	upload := min(max(u.UploadProgress, 0), 100)
	if u.State == j.State && progress <= j.Progress && upload <= j.UploadProgress {
		return model.Job{}, false
	}

	switch u.State {
	case model.JobStateReady:
		result, err := model.DecodeResult(j.Kind, u.Result)
		if err != nil {
			s.fail(j, err.Error())
			break
		}
		j.State = model.JobStateReady
		j.Progress = 100
		j.Result = result
		j.RawResult = u.Result
		j.Generated = u.Generated
		s.terminate(j)
	case model.JobStateFailed:
		msg := u.Error
		if msg == "" {
			msg = "processing failed"
		}
		s.fail(j, msg)
	default:
		j.State = u.State
		j.Progress = max(progress, j.Progress)
		j.UploadProgress = max(upload, j.UploadProgress)
	}

	j.UpdatedAt = s.now()
	return cloneJob(j), true
}

func (s *Store) fail(j *model.Job, msg string) {
	j.State = model.JobStateFailed
	j.Error = msg
	s.terminate(j)
}

func (s *Store) terminate(j *model.Job) {
	t := s.now()
	j.TerminalAt = &t
}

// Get returns a copy of the job
func (s *Store) Get(id string) (model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.index[id]
	if !ok {
		return model.Job{}, false
	}
	return cloneJob(j), true
}

// Snapshot returns copies of all jobs in list order
func (s *Store) Snapshot() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Job, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = cloneJob(j)
	}
	return out
}

// Len returns the number of tracked jobs
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func cloneJob(j *model.Job) model.Job {
	c := *j
	c.Files = slices.Clone(j.Files)
	c.Generated = slices.Clone(j.Generated)
	if j.TerminalAt != nil {
		t := *j.TerminalAt
		c.TerminalAt = &t
	}
	return c
}
