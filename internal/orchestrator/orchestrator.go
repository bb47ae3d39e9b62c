package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/gateway"
	"github.com/campaignops/api/internal/merge"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/poller"
)

// DefaultRemoveAfter is how long a ready job stays listed
const DefaultRemoveAfter = 5 * time.Second

// Submitter hands a submission to the processor
type Submitter interface {
	Submit(ctx context.Context, sub gateway.Submission, onProgress gateway.ProgressFunc) (string, error)
}

// JobLister returns the processor's authoritative job list
type JobLister interface {
	ListJobs(ctx context.Context) ([]model.StatusReport, error)
}

// Dismisser removes a job from the processor's list. A JobLister that also
// implements it is told about every dismissal.
type Dismisser interface {
	DismissJob(ctx context.Context, jobID string) error
}

// Config tunes an Orchestrator. Zero values take defaults.
type Config struct {
	PollInterval      time.Duration
	RemoveAfter       time.Duration
	MergeBatchSize    int
	MergeWarnAt       int
	Logger            *zap.Logger

	// ConfirmLargeMerge is asked before resolving templates over more than
	// MergeWarnAt records. ctx is cancelled when the job is dismissed or the
	// orchestrator closes, and the answer must then be false.
	ConfirmLargeMerge func(ctx context.Context, records int) bool

	// OnChange receives the job list after every accepted change. It runs
	// on observer goroutines and must not call Dismiss or Close itself.
	OnChange func([]model.Job)
}

// Request is one user submission
type Request struct {
	Submission gateway.Submission
	CampaignID string
	Templates  []model.MergeTemplate
	Context    map[string]*string
}

type mergeInput struct {
	templates []model.MergeTemplate
	context   map[string]*string
}

// Orchestrator submits jobs, merges observations into its Store, resolves
// templates over ready enrichment results and expires finished jobs.
type Orchestrator struct {
	gateway  Submitter
	observer poller.Observer
	lister   JobLister
	remote   Dismisser
	store    *Store
	cfg      Config
	logger   *zap.Logger

	// ctx bounds template merges; Close cancels it
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	merges    map[string]mergeInput
	running   map[string]context.CancelFunc
	timers    map[string]*time.Timer
	dismissed map[string]struct{}
	closed    bool

	notifyMu sync.Mutex
}

// New creates an orchestrator. lister may be nil when reconciliation is not
// needed.
func New(gw Submitter, observer poller.Observer, lister JobLister, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = poller.SubmissionInterval
	}
	if cfg.RemoveAfter <= 0 {
		cfg.RemoveAfter = DefaultRemoveAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	remote, _ := lister.(Dismisser)
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		gateway:   gw,
		observer:  observer,
		lister:    lister,
		remote:    remote,
		store:     NewStore(),
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		merges:    make(map[string]mergeInput),
		running:   make(map[string]context.CancelFunc),
		timers:    make(map[string]*time.Timer),
		dismissed: make(map[string]struct{}),
	}
}

// Store exposes the job list for reading
func (o *Orchestrator) Store() *Store {
	return o.store
}

// Jobs returns the current job list
func (o *Orchestrator) Jobs() []model.Job {
	return o.store.Snapshot()
}

// Submit uploads the request's files and starts observing the new job. On
// a submission or transport error no job remains in the list and the error
// is returned for display.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (model.Job, error) {
	if o.isClosed() {
		return model.Job{}, errors.New("orchestrator closed")
	}

	kind := req.Submission.Kind
	state := model.JobStateSubmitted
	if kind.RequiresUpload() {
		state = model.JobStateUploading
	}

	localID := "local-" + uuid.NewString()
	o.store.Add(model.Job{
		ID:          localID,
		Kind:        kind,
		State:       state,
		CampaignID:  req.CampaignID,
		Provisional: true,
	})
	o.notify()

	jobID, err := o.gateway.Submit(ctx, req.Submission, func(pct int) {
		if _, ok := o.store.Apply(Update{JobID: localID, State: state, UploadProgress: pct}); ok {
			o.notify()
		}
	})
	if err != nil {
		o.store.Remove(localID)
		o.notify()
		o.logger.Warn("submission failed", zap.String("kind", string(kind)), zap.Error(err))
		return model.Job{}, fmt.Errorf("submit %s job: %w", kind, err)
	}

	if err := o.store.Rename(localID, jobID); err != nil {
		// a reconcile already picked the job up
		o.store.Remove(localID)
	}
	if kind == model.JobKindEnrichment && len(req.Templates) > 0 {
		o.mu.Lock()
		o.merges[jobID] = mergeInput{templates: req.Templates, context: req.Context}
		o.mu.Unlock()
	}
	o.notify()

	o.watch(ctx, jobID)
	job, _ := o.store.Get(jobID)
	o.logger.Info("job tracked", zap.String("jobId", jobID), zap.String("kind", string(kind)))
	return job, nil
}

func (o *Orchestrator) watch(ctx context.Context, jobID string) {
	// the watch outlives the submitting request
	o.observer.Watch(context.WithoutCancel(ctx), jobID, o.cfg.PollInterval, o.deliver)
}

// deliver merges one observation into the store
func (o *Orchestrator) deliver(obs poller.Observation) {
	u := Update{JobID: obs.JobID, Seq: obs.Seq}
	if obs.Err != nil {
		u.State = model.JobStateFailed
		u.Error = "status check failed: " + obs.Err.Error()
	} else {
		u.State = obs.Report.State
		u.Progress = obs.Report.Progress
		u.Result = obs.Report.Result
		u.Error = obs.Report.Error
	}

	if !o.apply(u) {
		o.logger.Debug("observation discarded", zap.String("jobId", obs.JobID), zap.Uint64("seq", obs.Seq), zap.String("state", string(u.State)))
	}
}

// apply is the only path from an observed update to the store. It resolves
// templates for ready enrichment jobs and schedules removal of ready jobs.
func (o *Orchestrator) apply(u Update) bool {
	if u.State == model.JobStateReady {
		u.Generated = o.generate(u.JobID, u)
	}

	job, ok := o.store.Apply(u)
	if !ok {
		return false
	}

	if job.Terminal() {
		o.mu.Lock()
		delete(o.merges, job.ID)
		o.mu.Unlock()
	}
	switch job.State {
	case model.JobStateReady:
		o.scheduleRemoval(job.ID)
	case model.JobStateFailed:
		o.logger.Warn("job failed", zap.String("jobId", job.ID), zap.String("error", job.Error))
	}
	o.notify()
	return true
}

// generate resolves the job's templates over its enriched records. Only
// enrichment jobs submitted with templates produce rows.
func (o *Orchestrator) generate(jobID string, u Update) []model.MergedRow {
	o.mu.Lock()
	in, ok := o.merges[jobID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	job, found := o.store.Get(jobID)
	if !found || job.Terminal() {
		return nil
	}

	result, err := model.DecodeResult(job.Kind, u.Result)
	if err != nil {
		return nil
	}
	enriched, ok := result.(model.EnrichmentResult)
	if !ok {
		return nil
	}

	records := make([]map[string]*string, len(enriched.Records))
	for i, r := range enriched.Records {
		records[i] = r
	}
	batch := merge.NewBatch(merge.NewResolver(merge.SchemaFromRecords(records, in.context)), o.logger)
	if o.cfg.MergeBatchSize > 0 {
		batch.Size = o.cfg.MergeBatchSize
	}
	if o.cfg.MergeWarnAt > 0 {
		batch.WarnThreshold = o.cfg.MergeWarnAt
	}

	ctx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	o.running[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, jobID)
		o.mu.Unlock()
		cancel()
	}()
	if confirm := o.cfg.ConfirmLargeMerge; confirm != nil {
		batch.Confirm = func(n int) bool { return confirm(ctx, n) }
	}

	rows, err := batch.Run(ctx, records, in.templates, in.context)
	if err != nil {
		o.logger.Warn("merge skipped", zap.String("jobId", jobID), zap.Error(err))
		return nil
	}
	return rows
}

func (o *Orchestrator) scheduleRemoval(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if t, ok := o.timers[jobID]; ok {
		t.Stop()
	}
	o.timers[jobID] = time.AfterFunc(o.cfg.RemoveAfter, func() {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return
		}
		delete(o.timers, jobID)
		o.mu.Unlock()

		if o.store.Remove(jobID) {
			o.notify()
		}
	})
}

// Dismiss stops observing a job and removes it from the list. A dismissed
// id is never picked up again by Reconcile. When the lister can dismiss,
// the processor drops the job too, and an id unknown locally is not an
// error.
func (o *Orchestrator) Dismiss(ctx context.Context, jobID string) error {
	o.mu.Lock()
	o.dismissed[jobID] = struct{}{}
	if cancel, ok := o.running[jobID]; ok {
		cancel()
	}
	o.mu.Unlock()

	o.observer.Cancel(jobID)

	o.mu.Lock()
	if t, ok := o.timers[jobID]; ok {
		t.Stop()
		delete(o.timers, jobID)
	}
	delete(o.merges, jobID)
	o.mu.Unlock()

	removed := o.store.Remove(jobID)
	if removed {
		o.notify()
	}

	if o.remote != nil {
		if err := o.remote.DismissJob(ctx, jobID); err != nil {
			return fmt.Errorf("dismiss %s: %w", jobID, err)
		}
		return nil
	}
	if !removed {
		return fmt.Errorf("dismiss %s: %w", jobID, ErrJobNotFound)
	}
	return nil
}

// adopt adds a job found by Reconcile and watches it unless it is
// terminal. Dismissed ids are refused.
func (o *Orchestrator) adopt(ctx context.Context, job model.Job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, gone := o.dismissed[job.ID]; gone || o.closed {
		return false
	}
	if !o.store.Add(job) {
		return false
	}
	if !job.Terminal() {
		o.watch(ctx, job.ID)
	}
	return true
}

func (o *Orchestrator) isDismissed(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.dismissed[jobID]
	return ok
}

// Close cancels every watch and pending removal. The job list is kept.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancel()
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
	o.mu.Unlock()

	o.observer.Stop()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) notify() {
	if o.cfg.OnChange == nil {
		return
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	o.cfg.OnChange(o.store.Snapshot())
}
