package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campaignops/api/internal/model"
)

// Reconcile merges the processor's job list into the local one by id.
// Tracked jobs are updated through Apply and never duplicated; unknown
// in-flight jobs are added and watched; unknown failed jobs are added so
// their error stays visible. Unknown ready jobs are already finished and
// are skipped, as are dismissed ids. Local jobs missing from the list are
// kept.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	if o.lister == nil {
		return errors.New("reconcile: no job lister configured")
	}
	reports, err := o.lister.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	changed := false
	for _, r := range reports {
		if !r.Kind.Valid() {
			o.logger.Debug("skipping job of unknown kind", zap.String("jobId", r.JobID), zap.String("kind", string(r.Kind)))
			continue
		}

		if o.isDismissed(r.JobID) {
			continue
		}
		if _, tracked := o.store.Get(r.JobID); tracked {
			o.apply(Update{JobID: r.JobID, State: r.State, Progress: r.Progress, Result: r.Result, Error: r.Error})
			continue
		}

		if r.State == model.JobStateReady {
			continue
		}

		job := model.Job{
			ID:       r.JobID,
			Kind:     r.Kind,
			State:    r.State,
			Progress: r.Progress,
			Error:    r.Error,
		}
		if r.State == model.JobStateFailed {
			now := time.Now()
			job.TerminalAt = &now
		}
		if o.adopt(ctx, job) {
			changed = true
		}
	}

	if changed {
		o.notify()
	}
	o.logger.Debug("reconciled", zap.Int("remote", len(reports)), zap.Int("local", o.store.Len()))
	return nil
}

// RefreshLoop reconciles every interval until ctx is done
func (o *Orchestrator) RefreshLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := o.Reconcile(ctx); err != nil && ctx.Err() == nil {
			o.logger.Warn("refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
