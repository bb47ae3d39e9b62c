package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/effects"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/service"
)

// JobStore is the part of the job service the worker drives
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	Advance(ctx context.Context, jobID string, state model.JobState, progress int) (*model.Job, error)
	CompleteJob(ctx context.Context, jobID string, result model.JobResult) (*model.Job, error)
	FailJob(ctx context.Context, jobID, errMsg string) (*model.Job, error)
}

// FileOpener streams stored job inputs
type FileOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Broadcaster pushes job events to subscribers
type Broadcaster interface {
	BroadcastProgress(job *model.Job, step string)
	BroadcastComplete(job *model.Job)
	BroadcastError(job *model.Job, code string)
}

// JobWorker advances queued jobs through their kind's states and produces
// their results
type JobWorker struct {
	jobs       JobStore
	files      FileOpener
	captions   service.CaptionWriter
	compositor *effects.Compositor
	hub        Broadcaster
	stepDelay  time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewJobWorker creates a new job worker
func NewJobWorker(jobs JobStore, files FileOpener, captions service.CaptionWriter, compositor *effects.Compositor, hub Broadcaster, stepDelay time.Duration, logger *zap.Logger) *JobWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobWorker{
		jobs:       jobs,
		files:      files,
		captions:   captions,
		compositor: compositor,
		hub:        hub,
		stepDelay:  stepDelay,
		now:        time.Now,
		logger:     logger,
	}
}

// ProcessTask handles job task processing
func (w *JobWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.JobTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	logger := w.logger.With(zap.String("jobId", payload.JobID), zap.String("kind", string(payload.Kind)))

	job, err := w.jobs.GetJob(ctx, payload.JobID)
	if errors.Is(err, service.ErrJobNotFound) {
		logger.Info("job dismissed before processing")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Terminal() {
		return nil
	}

	logger.Info("starting job")
	for _, step := range plan(job.Kind) {
		// a retried task resumes where the previous attempt stopped
		if !model.Reachable(job.Kind, job.State, step.state) || (job.State == step.state && job.Progress >= step.progress) {
			continue
		}
		if err := w.pause(ctx); err != nil {
			logger.Info("job interrupted", zap.Error(err))
			return err
		}
		if job, err = w.advance(ctx, job.ID, step); err != nil {
			return err
		}
	}

	result, err := w.buildResult(ctx, job)
	if err != nil {
		logger.Warn("job failed", zap.Error(err))
		w.failJob(ctx, job.ID, err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	job, err = w.jobs.CompleteJob(ctx, job.ID, result)
	if err != nil {
		w.failJob(ctx, payload.JobID, "Failed to save result")
		return err
	}

	w.hub.BroadcastComplete(job)
	logger.Info("job completed")
	return nil
}

// step is one progress report while the job runs
type step struct {
	state    model.JobState
	progress int
	label    string
}

var stepLabels = map[model.JobState]string{
	model.JobStateUploading:  "Ingesting inputs...",
	model.JobStateAnalyzing:  "Analyzing media...",
	model.JobStateExtracting: "Extracting clips...",
	model.JobStateProcessing: "Processing...",
}

// plan spreads two progress reports over every intermediate state of the
// kind, ending below 100
func plan(kind model.JobKind) []step {
	states := kind.States()
	if len(states) < 2 {
		return nil
	}
	mid := states[1 : len(states)-1]
	if len(mid) == 0 {
		return nil
	}

	const ceiling = 95
	span := ceiling / len(mid)
	steps := make([]step, 0, 2*len(mid))
	for i, st := range mid {
		base := i * span
		steps = append(steps,
			step{state: st, progress: base + span/2, label: stepLabels[st]},
			step{state: st, progress: base + span, label: stepLabels[st]},
		)
	}
	return steps
}

func (w *JobWorker) pause(ctx context.Context) error {
	if w.stepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(w.stepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *JobWorker) advance(ctx context.Context, jobID string, s step) (*model.Job, error) {
	job, err := w.jobs.Advance(ctx, jobID, s.state, s.progress)
	if err != nil {
		return nil, fmt.Errorf("failed to advance job: %w", err)
	}
	w.hub.BroadcastProgress(job, s.label)
	return job, nil
}

func (w *JobWorker) failJob(ctx context.Context, jobID, errMsg string) {
	job, err := w.jobs.FailJob(ctx, jobID, errMsg)
	if err != nil {
		w.logger.Error("failed to mark job as failed", zap.String("jobId", jobID), zap.Error(err))
		return
	}
	w.hub.BroadcastError(job, "JOB_FAILED")
}
