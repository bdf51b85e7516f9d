package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/shayanmanesh/create/internal/admission"
	"github.com/shayanmanesh/create/internal/orchestrator"
	"github.com/shayanmanesh/create/internal/payments"
	"github.com/shayanmanesh/create/pkg/creation"
)

// maxCreateBody bounds the request payload; audio and image inputs travel
// base64 inside the JSON body.
const maxCreateBody = 32 << 20

type createRequest struct {
	InputType      string `json:"input_type"`
	CreationType   string `json:"creation_type"`
	TextInput      string `json:"text_input,omitempty"`
	Payload        string `json:"payload,omitempty"`
	Language       string `json:"language,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type createResponse struct {
	CreationID  string            `json:"creation_id"`
	Status      string            `json:"status"`
	Price       float64           `json:"price"`
	SurgeActive bool              `json:"surge_active"`
	ShareLinks  map[string]string `json:"share_links"`
}

func (h *handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authenticated(w, r) {
		return
	}
	owner, key, tier := h.identity(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCreateBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	var req createRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	spec := creation.Spec{
		InputType:      creation.InputType(req.InputType),
		CreationType:   req.CreationType,
		TextInput:      req.TextInput,
		Language:       req.Language,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Payload != "" {
		payload, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			writeErrorDetail(w, http.StatusBadRequest, "invalid_request", "payload must be base64")
			return
		}
		spec.Payload = payload
	}

	job, err := h.orch.Submit(r.Context(), orchestrator.SubmitRequest{
		Owner:     owner,
		Tier:      tier,
		ClientKey: key,
		Path:      r.URL.Path,
		Spec:      spec,
	})
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createResponse{
		CreationID:  job.ID,
		Status:      string(job.Status),
		Price:       job.PriceCharged,
		SurgeActive: job.SurgeActive,
		ShareLinks:  job.ShareLinks,
	})
}

func (h *handler) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *creation.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorDetail(w, http.StatusBadRequest, "invalid_request", verr.Error())
	case errors.Is(err, admission.ErrRateLimited):
		if zone, ok := h.admission.ZoneFor(r.URL.Path); ok {
			secs := int(zone.RefillInterval().Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			if h.metrics != nil {
				h.metrics.AdmissionReject.WithLabelValues(zone.Name).Inc()
			}
		}
		writeError(w, http.StatusTooManyRequests, "rate_limited")
	case errors.Is(err, payments.ErrDeclined):
		if h.metrics != nil {
			h.metrics.PaymentsDeclined.Inc()
		}
		writeError(w, http.StatusPaymentRequired, "payment_declined")
	case errors.Is(err, orchestrator.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue_full")
	default:
		h.log.Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
