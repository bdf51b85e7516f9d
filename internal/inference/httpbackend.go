package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPBackend calls a remote inference gateway over HTTP.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBackend constructs a client for the given gateway base URL.
func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type processRequest struct {
	JobID        string `json:"job_id"`
	InputType    string `json:"input_type"`
	CreationType string `json:"creation_type"`
	TextInput    string `json:"text_input,omitempty"`
	Payload      string `json:"payload,omitempty"`
	Language     string `json:"language,omitempty"`
}

type processResponse struct {
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Images    []string `json:"images"`
	Voiceover string   `json:"voiceover"`
	Error     string   `json:"error"`
}

// Process submits the job and decodes the generated artifacts. Binary input
// travels hex-encoded, binary output base64, matching the gateway contract.
func (b *HTTPBackend) Process(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(processRequest{
		JobID:        req.JobID,
		InputType:    string(req.Spec.InputType),
		CreationType: req.Spec.CreationType,
		TextInput:    req.Spec.TextInput,
		Payload:      hex.EncodeToString(req.Spec.Payload),
		Language:     req.Spec.Language,
	})
	if err != nil {
		return Result{}, &BackendError{Op: "encode", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/process", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &BackendError{Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Result{}, &BackendError{Transient: true, Op: "call", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Result{}, &BackendError{Transient: true, Op: "read", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, &BackendError{Transient: true, Op: "call",
			Err: fmt.Errorf("gateway status %d", resp.StatusCode)}
	default:
		return Result{}, &BackendError{Op: "call",
			Err: fmt.Errorf("gateway rejected request: status %d: %s", resp.StatusCode, trimBody(body))}
	}

	var decoded processResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, &BackendError{Transient: true, Op: "decode", Err: err}
	}
	if decoded.Error != "" {
		return Result{}, &BackendError{Op: "process", Err: fmt.Errorf("%s", decoded.Error)}
	}

	result := Result{Title: decoded.Title, Text: []byte(decoded.Text)}
	for i, img := range decoded.Images {
		data, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			return Result{}, &BackendError{Op: "decode", Err: fmt.Errorf("image %d: %w", i, err)}
		}
		result.Images = append(result.Images, data)
	}
	if decoded.Voiceover != "" {
		data, err := base64.StdEncoding.DecodeString(decoded.Voiceover)
		if err != nil {
			return Result{}, &BackendError{Op: "decode", Err: fmt.Errorf("voiceover: %w", err)}
		}
		result.Voiceover = data
	}
	return result, nil
}

func trimBody(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}
