package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/model"
)

// TaskTypeJob is the asynq task that drives a job through its states
const TaskTypeJob = "job:process"

const (
	jobTTL         = 24 * time.Hour
	maxTxAttempts  = 5
	userJobsKeyFmt = "user:%s:jobs"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotReady       = errors.New("job not ready")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// QueueFor returns the asynq queue that processes jobs of the kind
func QueueFor(kind model.JobKind) string {
	return "jobs:" + string(kind)
}

// Queues returns the asynq queue weights for every kind
func Queues() map[string]int {
	return map[string]int{
		QueueFor(model.JobKindEnrichment):         3,
		QueueFor(model.JobKindPostConversion):     3,
		QueueFor(model.JobKindClipExtraction):     2,
		QueueFor(model.JobKindCampaignProcessing): 2,
	}
}

// JobService stores jobs in redis and queues them for the worker
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	logger      *zap.Logger
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client, logger *zap.Logger) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobService{
		redis:       redisClient,
		asynqClient: asynqClient,
		logger:      logger,
	}
}

// CreateJob records a submitted job and enqueues it on its kind's queue
func (s *JobService) CreateJob(ctx context.Context, userID string, kind model.JobKind, files []model.StoredFile, metadata map[string]string) (*model.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		State:      model.JobStateSubmitted,
		UserID:     userID,
		CampaignID: metadata[model.FormFieldCampaignID],
		Files:      files,
		Metadata:   metadata,
		Seq:        1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if userID != "" {
		key := fmt.Sprintf(userJobsKeyFmt, userID)
		pipe := s.redis.TxPipeline()
		pipe.SAdd(ctx, key, job.ID)
		pipe.Expire(ctx, key, jobTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to index job: %w", err)
		}
	}

	task, err := newJobTask(job)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(QueueFor(kind)),
		asynq.MaxRetry(3),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("job queued",
		zap.String("jobId", job.ID),
		zap.String("kind", string(kind)),
		zap.Int("files", len(files)),
	)
	return job, nil
}

// GetJob loads a job
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.getJob(ctx, jobID)
}

// ListJobs returns the user's jobs, oldest first. Expired entries are pruned
// from the index.
func (s *JobService) ListJobs(ctx context.Context, userID string) ([]*model.Job, error) {
	key := fmt.Sprintf(userJobsKeyFmt, userID)
	ids, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*model.Job, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		job, err := s.getJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if len(stale) > 0 {
		s.redis.SRem(ctx, key, stale...)
	}

	slices.SortFunc(jobs, func(a, b *model.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return jobs, nil
}

// DismissJob deletes a job owned by the user
func (s *JobService) DismissJob(ctx context.Context, userID, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.UserID != userID {
		return ErrJobNotFound
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, jobKey(jobID))
	pipe.SRem(ctx, fmt.Sprintf(userJobsKeyFmt, userID), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dismiss job: %w", err)
	}
	return nil
}

// ResultOf returns a ready job, or ErrJobNotReady
func (s *JobService) ResultOf(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != model.JobStateReady {
		return nil, ErrJobNotReady
	}
	return job, nil
}

// Advance moves a job to state with progress (called by worker). Progress
// never decreases within a job.
func (s *JobService) Advance(ctx context.Context, jobID string, state model.JobState, progress int) (*model.Job, error) {
	return s.mutate(ctx, jobID, func(job *model.Job) error {
		if !model.Reachable(job.Kind, job.State, state) || state.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, state)
		}
		job.State = state
		job.Progress = max(job.Progress, min(progress, 99))
		return nil
	})
}

// CompleteJob marks a job ready with its result (called by worker)
func (s *JobService) CompleteJob(ctx context.Context, jobID string, result model.JobResult) (*model.Job, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return s.mutate(ctx, jobID, func(job *model.Job) error {
		if job.Terminal() {
			return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, job.State)
		}
		if result.Kind() != job.Kind {
			return fmt.Errorf("%w: %s result for %s job", ErrInvalidTransition, result.Kind(), job.Kind)
		}
		job.State = model.JobStateReady
		job.Progress = 100
		job.RawResult = raw
		job.Result = result
		return nil
	})
}

// FailJob marks a job failed (called by worker)
func (s *JobService) FailJob(ctx context.Context, jobID, errMsg string) (*model.Job, error) {
	return s.mutate(ctx, jobID, func(job *model.Job) error {
		if job.Terminal() {
			return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, job.State)
		}
		job.State = model.JobStateFailed
		job.Error = errMsg
		return nil
	})
}

// mutate applies fn to the stored job under optimistic locking and bumps its
// sequence number
func (s *JobService) mutate(ctx context.Context, jobID string, fn func(*model.Job) error) (*model.Job, error) {
	key := jobKey(jobID)
	var out *model.Job

	txf := func(tx *redis.Tx) error {
		job, err := decodeJob(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Seq++
		job.UpdatedAt = now
		if job.Terminal() && job.TerminalAt == nil {
			job.TerminalAt = &now
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, jobTTL)
			return nil
		})
		if err == nil {
			out = job
		}
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("job %s: too much contention", jobID)
}

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	return decodeJob(s.redis.Get(ctx, jobKey(jobID)))
}

func decodeJob(cmd *redis.StringCmd) (*model.Job, error) {
	data, err := cmd.Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Result, err = model.DecodeResult(job.Kind, job.RawResult); err != nil {
		return nil, err
	}
	return &job, nil
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

func newJobTask(job *model.Job) (*asynq.Task, error) {
	payload, err := json.Marshal(model.JobTaskPayload{JobID: job.ID, Kind: job.Kind})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeJob, payload), nil
}
