// Package poller watches remote jobs until they reach a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/campaignops/api/internal/model"
)

// Default intervals per use
const (
	SubmissionInterval = 2 * time.Second
	CampaignInterval   = 3 * time.Second
	ListInterval       = 5 * time.Second
)

// ErrPollLimit is delivered when a watch exceeds its attempt or duration limit
var ErrPollLimit = errors.New("poll limit reached")

// StatusFetcher queries the status endpoint for one job
type StatusFetcher interface {
	FetchStatus(ctx context.Context, jobID string) (*model.StatusReport, error)
}

// Observation is one status report, or the error that ended a watch.
// Seq increases with every observation the source produces.
type Observation struct {
	JobID  string
	Seq    uint64
	Report *model.StatusReport
	Err    error
}

// DeliverFunc consumes observations. It must not call Cancel for the job it
// is delivering.
type DeliverFunc func(Observation)

// Observer is a source of job observations, either polled or pushed
type Observer interface {
	// Watch starts observing jobID and reports whether a new watch began
	Watch(ctx context.Context, jobID string, interval time.Duration, deliver DeliverFunc) bool
	// Cancel ends the watch. No observation is delivered after it returns.
	Cancel(jobID string)
	// Stop cancels every watch and waits for them to finish
	Stop()
}

// Options bound a watch. Zero values mean unlimited.
type Options struct {
	MaxAttempts int
	MaxDuration time.Duration
	Logger      *zap.Logger
}

// Poller issues sequential status requests per job
type Poller struct {
	fetcher StatusFetcher
	opts    Options
	logger  *zap.Logger
	seq     atomic.Uint64

	mu      sync.Mutex
	watches map[string]*watch
	stopped bool
	wg      sync.WaitGroup
}

type watch struct {
	cancel context.CancelFunc

	// mu is held while delivering so Cancel can wait out a delivery in progress
	mu        sync.Mutex
	cancelled bool
}

// New creates a poller
func New(fetcher StatusFetcher, opts Options) *Poller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		watches: make(map[string]*watch),
	}
}

var _ Observer = (*Poller)(nil)

// Watch starts polling jobID every interval until the job is terminal, a
// request fails, a limit is hit or the watch is cancelled. Watching an id
// that is already watched is a no-op.
func (p *Poller) Watch(ctx context.Context, jobID string, interval time.Duration, deliver DeliverFunc) bool {
	if interval <= 0 {
		interval = SubmissionInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if _, ok := p.watches[jobID]; ok {
		return false
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel}
	p.watches[jobID] = w
	p.wg.Add(1)
	go p.run(wctx, jobID, interval, w, deliver)

	p.logger.Debug("watch started", zap.String("jobId", jobID), zap.Duration("interval", interval))
	return true
}

// Cancel stops polling jobID. A request already in flight is abandoned and
// its response is never delivered.
func (p *Poller) Cancel(jobID string) {
	p.mu.Lock()
	w, ok := p.watches[jobID]
	if ok {
		delete(p.watches, jobID)
	}
	p.mu.Unlock()

	if ok {
		w.stop()
		p.logger.Debug("watch cancelled", zap.String("jobId", jobID))
	}
}

// Stop cancels every watch and waits for all polling goroutines to exit.
// The poller accepts no new watches afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	watches := p.watches
	p.watches = make(map[string]*watch)
	p.mu.Unlock()

	for _, w := range watches {
		w.stop()
	}
	p.wg.Wait()
}

// Watching reports whether jobID has an active watch
func (p *Poller) Watching(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watches[jobID]
	return ok
}

// Active returns the number of active watches
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

func (w *watch) stop() {
	w.cancel()
	w.mu.Lock()
	w.cancelled = true
	w.mu.Unlock()
}

// deliver hands obs to fn unless the watch was cancelled
func (w *watch) deliver(fn DeliverFunc, obs Observation) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		return false
	}
	fn(obs)
	return true
}

func (p *Poller) forget(jobID string, w *watch) {
	p.mu.Lock()
	if p.watches[jobID] == w {
		delete(p.watches, jobID)
	}
	p.mu.Unlock()
	w.cancel()
}

func (p *Poller) run(ctx context.Context, jobID string, interval time.Duration, w *watch, deliver DeliverFunc) {
	defer p.wg.Done()
	defer p.forget(jobID, w)

	started := time.Now()
	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if p.limitReached(attempt, started) {
			p.logger.Warn("poll limit reached", zap.String("jobId", jobID), zap.Int("attempts", attempt-1))
			w.deliver(deliver, Observation{JobID: jobID, Seq: p.seq.Add(1), Err: ErrPollLimit})
			return
		}

		report, err := p.fetch(ctx, jobID)
		if ctx.Err() != nil {
			return
		}

		obs := Observation{JobID: jobID, Seq: p.seq.Add(1), Report: report, Err: err}
		if !w.deliver(deliver, obs) {
			return
		}
		if err != nil {
			p.logger.Warn("poll failed", zap.String("jobId", jobID), zap.Int("attempt", attempt), zap.Error(err))
			return
		}
		if report.State.Terminal() {
			p.logger.Debug("job terminal", zap.String("jobId", jobID), zap.String("state", string(report.State)))
			return
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) limitReached(attempt int, started time.Time) bool {
	if p.opts.MaxAttempts > 0 && attempt > p.opts.MaxAttempts {
		return true
	}
	return p.opts.MaxDuration > 0 && time.Since(started) >= p.opts.MaxDuration
}

func (p *Poller) fetch(ctx context.Context, jobID string) (*model.StatusReport, error) {
	report, err := p.fetcher.FetchStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("empty status for job %s", jobID)
	}
	if report.JobID != "" && report.JobID != jobID {
		return nil, fmt.Errorf("status for job %s returned job %s", jobID, report.JobID)
	}
	if !slices.Contains(model.ValidJobStates, report.State) {
		return nil, fmt.Errorf("job %s reported unknown state %q", jobID, report.State)
	}
	if report.Progress < 0 || report.Progress > 100 {
		return nil, fmt.Errorf("job %s reported progress %d out of range", jobID, report.Progress)
	}
	if report.JobID == "" {
		report.JobID = jobID
	}
	return report, nil
}
