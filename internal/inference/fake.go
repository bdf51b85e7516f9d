package inference

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-process backend for tests and local runs. Each call can be
// scripted to fail; by default it synthesizes a small deterministic result.
type Fake struct {
	mu sync.Mutex
	// Delay simulates generation latency.
	Delay time.Duration
	// FailNext queues errors returned before the next success.
	failures []error
	calls    int
}

// NewFake creates a backend that always succeeds instantly.
func NewFake() *Fake { return &Fake{} }

// FailNext queues errs to be returned by subsequent Process calls.
func (f *Fake) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// Calls reports how many times Process ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Process synthesizes content for the request.
func (f *Fake) Process(ctx context.Context, req Request) (Result, error) {
	f.mu.Lock()
	f.calls++
	var queued error
	if len(f.failures) > 0 {
		queued = f.failures[0]
		f.failures = f.failures[1:]
	}
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, &BackendError{Transient: true, Op: "call", Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	if queued != nil {
		return Result{}, queued
	}
	return Result{
		Title:     fmt.Sprintf("%s creation", req.Spec.CreationType),
		Text:      []byte(fmt.Sprintf(`{"job":%q,"script":"generated for %s"}`, req.JobID, req.Spec.CreationType)),
		Images:    [][]byte{[]byte("png:" + req.JobID)},
		Voiceover: []byte("mp3:" + req.JobID),
	}, nil
}
