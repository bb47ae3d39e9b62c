package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/campaignops/api/internal/model"
)

// tracker prints job changes as they arrive and remembers terminal jobs so
// a caller can wait for one, even when it finished before wait was called.
type tracker struct {
	mu       sync.Mutex
	out      io.Writer
	last     map[string]string
	terminal map[string]model.Job
	waiters  map[string]chan model.Job
}

func newTracker(out io.Writer) *tracker {
	return &tracker{
		out:      out,
		last:     make(map[string]string),
		terminal: make(map[string]model.Job),
		waiters:  make(map[string]chan model.Job),
	}
}

func (t *tracker) onChange(jobs []model.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, j := range jobs {
		line := jobLine(j)
		if t.last[j.ID] != line {
			t.last[j.ID] = line
			fmt.Fprintln(t.out, line)
		}
		if !j.Terminal() {
			continue
		}
		if _, seen := t.terminal[j.ID]; seen {
			continue
		}
		t.terminal[j.ID] = j
		if ch, ok := t.waiters[j.ID]; ok {
			ch <- j
			delete(t.waiters, j.ID)
		}
	}
}

// wait blocks until the job is terminal or ctx is done
func (t *tracker) wait(ctx context.Context, jobID string) (model.Job, error) {
	t.mu.Lock()
	if j, ok := t.terminal[jobID]; ok {
		t.mu.Unlock()
		return j, nil
	}
	ch := make(chan model.Job, 1)
	t.waiters[jobID] = ch
	t.mu.Unlock()

	select {
	case j := <-ch:
		return j, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiters, jobID)
		t.mu.Unlock()
		return model.Job{}, ctx.Err()
	}
}

func jobLine(j model.Job) string {
	switch {
	case j.Provisional:
		return fmt.Sprintf("uploading %s  %3d%%", j.Kind, j.UploadProgress)
	case j.State == model.JobStateFailed:
		return fmt.Sprintf("%s  failed: %s", j.ID, j.Error)
	default:
		return fmt.Sprintf("%s  %-11s %3d%%", j.ID, j.State, j.Progress)
	}
}
