package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shayanmanesh/create/internal/inference"
	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/pkg/creation"
)

// maxAttempts allows exactly one automatic retry on a transient backend
// failure. Permanent rejections never retry.
const maxAttempts = 2

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopCh:
			return
		case id := <-o.workCh:
			o.releaseSlot()
			o.observer.QueueDepth(len(o.workCh))
			o.process(id)
		}
	}
}

// process moves one job through processing to a terminal status. Every
// store write is a compare-and-set; losing any race means another writer
// (normally the watchdog) already decided the job, and the loser's result
// is discarded without log noise at error level.
func (o *Orchestrator) process(id string) {
	log := o.log.With(zap.String("job_id", id))

	job, err := o.store.Get(o.ctx, id)
	if err != nil {
		log.Warn("job vanished before processing", zap.Error(err))
		o.dropSpec(id)
		return
	}
	if job.Status != creation.StatusQueued {
		o.dropSpec(id)
		return
	}

	started := o.now()
	next := job.Clone()
	next.Status = creation.StatusProcessing
	next.StartedAt = started
	next.Attempt = 1
	if err := o.store.CompareAndSet(o.ctx, id, job.Version, next); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			log.Error("start transition failed", zap.Error(err))
		}
		o.dropSpec(id)
		return
	}
	next.Version = job.Version + 1
	o.trackInflight(id, started)
	defer o.untrackInflight(id)

	spec, ok := o.takeSpec(id)
	if !ok {
		// Restart left a queued row without its input. Nothing to generate.
		o.finishFailed(log, next, creation.ReasonBackendError)
		return
	}

	var result inference.Result
	for attempt := 1; ; attempt++ {
		result, err = o.backend.Process(o.ctx, inference.Request{JobID: id, Owner: next.Owner, Spec: spec})
		if err == nil {
			break
		}
		if inference.IsTransient(err) && attempt < maxAttempts {
			log.Warn("transient backend failure, retrying",
				zap.Int("attempt", attempt), zap.Error(err))
			next.Attempt = attempt + 1
			continue
		}
		reason := creation.ReasonBackendRejected
		if inference.IsTransient(err) {
			reason = creation.ReasonRetryExhausted
		}
		log.Warn("generation failed", zap.Int("attempt", attempt),
			zap.String("reason", string(reason)), zap.Error(err))
		o.finishFailed(log, next, reason)
		return
	}

	ref, err := o.uploadArtifacts(id, result)
	if err != nil {
		log.Error("artifact upload failed", zap.Error(err))
		o.finishFailed(log, next, creation.ReasonBackendError)
		return
	}

	done := next.Clone()
	done.Status = creation.StatusCompleted
	done.CompletedAt = o.now()
	done.ResultReference = ref
	if err := o.store.CompareAndSet(o.ctx, id, next.Version, done); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Info("completion lost to a concurrent terminal write")
		} else {
			log.Error("completion write failed", zap.Error(err))
		}
		return
	}
	elapsed := done.CompletedAt.Sub(done.CreatedAt)
	o.observer.JobCompleted(elapsed)
	log.Info("creation completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("attempt", done.Attempt),
		zap.String("result", ref))
}

// finishFailed writes the failed terminal snapshot, discarding silently on a
// version conflict.
func (o *Orchestrator) finishFailed(log *zap.Logger, job creation.Job, reason creation.FailureReason) {
	failed := job.Clone()
	failed.Status = creation.StatusFailed
	failed.CompletedAt = o.now()
	failed.FailureReason = reason
	if err := o.store.CompareAndSet(o.ctx, job.ID, job.Version, failed); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			log.Error("failure write failed", zap.Error(err))
		}
		return
	}
	o.observer.JobFailed(reason, failed.CompletedAt.Sub(failed.CreatedAt))
}

// uploadArtifacts stores generated content and returns the manifest URL.
func (o *Orchestrator) uploadArtifacts(id string, result inference.Result) (string, error) {
	manifest := struct {
		Title     string   `json:"title"`
		Text      string   `json:"text,omitempty"`
		Images    []string `json:"images,omitempty"`
		Voiceover string   `json:"voiceover,omitempty"`
	}{Title: result.Title, Text: string(result.Text)}

	for i, img := range result.Images {
		key := fmt.Sprintf("%s/image-%d.png", id, i)
		url, err := o.objects.Put(o.ctx, key, img, "image/png")
		if err != nil {
			return "", err
		}
		manifest.Images = append(manifest.Images, url)
	}
	if len(result.Voiceover) > 0 {
		url, err := o.objects.Put(o.ctx, id+"/voiceover.mp3", result.Voiceover, "audio/mpeg")
		if err != nil {
			return "", err
		}
		manifest.Voiceover = url
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}
	return o.objects.Put(o.ctx, id+"/result.json", data, "application/json")
}

func (o *Orchestrator) rememberSpec(id string, spec creation.Spec) {
	o.mu.Lock()
	o.pending[id] = spec
	o.mu.Unlock()
}

func (o *Orchestrator) takeSpec(id string) (creation.Spec, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	spec, ok := o.pending[id]
	delete(o.pending, id)
	return spec, ok
}

func (o *Orchestrator) dropSpec(id string) {
	o.mu.Lock()
	delete(o.pending, id)
	o.mu.Unlock()
}

func (o *Orchestrator) trackInflight(id string, started time.Time) {
	o.mu.Lock()
	o.inflight[id] = started
	o.mu.Unlock()
}

func (o *Orchestrator) untrackInflight(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}
