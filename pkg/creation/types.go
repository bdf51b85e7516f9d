// Package creation defines the domain types shared between the created
// server and its clients.
package creation

import (
	"fmt"
	"strings"
	"time"
)

// Status describes the lifecycle stage of a creation job.
type Status string

// Lifecycle states. Transitions are strictly forward:
// QUEUED -> PROCESSING -> COMPLETED | FAILED.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is accepted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// InputType identifies how the submitted payload should be interpreted.
type InputType string

// Supported input types.
const (
	InputText  InputType = "text"
	InputAudio InputType = "audio"
	InputImage InputType = "image"
)

// FailureReason classifies why a job reached StatusFailed.
type FailureReason string

// Failure reason codes recorded on terminal snapshots.
const (
	ReasonBackendError    FailureReason = "backend_error"
	ReasonBackendRejected FailureReason = "backend_rejected"
	ReasonRetryExhausted  FailureReason = "retry_exhausted"
	ReasonTimeout         FailureReason = "timeout"
)

// Spec is a validated content-creation request.
type Spec struct {
	InputType      InputType `json:"input_type"`
	CreationType   string    `json:"creation_type"`
	TextInput      string    `json:"text_input,omitempty"`
	Payload        []byte    `json:"payload,omitempty"`
	Language       string    `json:"language,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// Validate checks the spec before any admission token or price quote is
// consumed. It returns a *ValidationError describing the first problem found.
func (s Spec) Validate() error {
	switch s.InputType {
	case InputText:
		if strings.TrimSpace(s.TextInput) == "" {
			return &ValidationError{Field: "text_input", Reason: "required for text input"}
		}
	case InputAudio, InputImage:
		if len(s.Payload) == 0 {
			return &ValidationError{Field: "payload", Reason: fmt.Sprintf("required for %s input", s.InputType)}
		}
	default:
		return &ValidationError{Field: "input_type", Reason: fmt.Sprintf("unsupported value %q", string(s.InputType))}
	}
	if strings.TrimSpace(s.CreationType) == "" {
		return &ValidationError{Field: "creation_type", Reason: "required"}
	}
	return nil
}

// ValidationError reports a malformed spec. It is rejected before admission,
// so no rate-limit token is spent on it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Job is a snapshot of a creation job as held by the status store.
// PriceCharged is fixed at submission and never mutated afterwards; Version
// strictly increases on every successful store write and drives optimistic
// concurrency for state transitions.
type Job struct {
	ID              string            `json:"id"`
	Owner           string            `json:"owner"`
	CreationType    string            `json:"creation_type"`
	InputType       InputType         `json:"input_type"`
	Status          Status            `json:"status"`
	PriceCharged    float64           `json:"price_charged"`
	SurgeActive     bool              `json:"surge_active"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       time.Time         `json:"started_at,omitempty"`
	CompletedAt     time.Time         `json:"completed_at,omitempty"`
	ResultReference string            `json:"result_reference,omitempty"`
	ShareLinks      map[string]string `json:"share_links,omitempty"`
	FailureReason   FailureReason     `json:"failure_reason,omitempty"`
	Attempt         int               `json:"attempt"`
	Version         uint64            `json:"version"`
}

// Clone returns a deep copy so callers can mutate a candidate snapshot
// without aliasing the stored one.
func (j Job) Clone() Job {
	out := j
	if j.ShareLinks != nil {
		out.ShareLinks = make(map[string]string, len(j.ShareLinks))
		for k, v := range j.ShareLinks {
			out.ShareLinks[k] = v
		}
	}
	return out
}

// SharePlatforms lists the platforms a finished creation links out to.
var SharePlatforms = []string{"tiktok", "instagram", "twitter", "youtube"}

// ShareLinks builds the per-platform share URLs for a creation id.
func ShareLinks(shareBaseURL, id string) map[string]string {
	base := strings.TrimRight(shareBaseURL, "/")
	links := make(map[string]string, len(SharePlatforms))
	for _, platform := range SharePlatforms {
		links[platform] = fmt.Sprintf("%s/share/%s?platform=%s", base, id, platform)
	}
	return links
}
