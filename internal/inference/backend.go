// Package inference abstracts the external model gateway that turns an
// admitted creation request into generated content.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/shayanmanesh/create/pkg/creation"
)

// Request carries one job to the gateway.
type Request struct {
	JobID string
	Owner string
	Spec  creation.Spec
}

// Result is the generated content returned by the gateway. Artifacts are raw
// bytes; the worker uploads them to object storage and records the URL.
type Result struct {
	Title     string
	Text      []byte
	Images    [][]byte
	Voiceover []byte
}

// Backend processes creation requests against the external inference
// pipeline.
type Backend interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// BackendError classifies gateway failures. Transient failures (network,
// timeouts, 5xx) are eligible for one automatic retry; permanent rejections
// (the gateway refused the input) fail the job immediately.
type BackendError struct {
	Transient bool
	Op        string
	Err       error
}

func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("inference %s: %s failure: %v", e.Op, kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient
}
