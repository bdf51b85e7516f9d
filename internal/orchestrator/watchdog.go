package orchestrator

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/pkg/creation"
)

// watchdog periodically fails jobs stuck in processing longer than
// MaxProcessing. It races the worker's own terminal write through the store
// version; whichever write lands first wins and the other is discarded.
func (o *Orchestrator) watchdog() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.sweep()
		}
	}
}

func (o *Orchestrator) sweep() {
	now := o.now()
	deadline := now.Add(-o.cfg.MaxProcessing)

	o.mu.Lock()
	var expired []string
	for id, started := range o.inflight {
		if started.Before(deadline) {
			expired = append(expired, id)
		}
	}
	o.mu.Unlock()

	for _, id := range expired {
		o.failTimedOut(id, now)
	}
}

func (o *Orchestrator) failTimedOut(id string, now time.Time) {
	log := o.log.With(zap.String("job_id", id))
	job, err := o.store.Get(o.ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("watchdog read failed", zap.Error(err))
		}
		o.untrackInflight(id)
		return
	}
	if job.Status != creation.StatusProcessing {
		o.untrackInflight(id)
		return
	}

	failed := job.Clone()
	failed.Status = creation.StatusFailed
	failed.CompletedAt = now
	failed.FailureReason = creation.ReasonTimeout
	if err := o.store.CompareAndSet(o.ctx, id, job.Version, failed); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			log.Error("watchdog timeout write failed", zap.Error(err))
		}
		return
	}
	o.untrackInflight(id)
	o.observer.JobFailed(creation.ReasonTimeout, now.Sub(job.CreatedAt))
	log.Warn("job timed out in processing",
		zap.Duration("limit", o.cfg.MaxProcessing),
		zap.Time("started_at", job.StartedAt))
}
