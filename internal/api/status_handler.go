package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/pkg/creation"
)

type statusResponse struct {
	CreationID      string            `json:"creation_id"`
	Status          string            `json:"status"`
	CreationType    string            `json:"creation_type"`
	PriceCharged    float64           `json:"price_charged"`
	SurgeActive     bool              `json:"surge_active"`
	CreatedAt       string            `json:"created_at"`
	CompletedAt     string            `json:"completed_at,omitempty"`
	ResultReference string            `json:"result_reference,omitempty"`
	ShareLinks      map[string]string `json:"share_links,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
}

func statusFromJob(job creation.Job) statusResponse {
	resp := statusResponse{
		CreationID:   job.ID,
		Status:       string(job.Status),
		CreationType: job.CreationType,
		PriceCharged: job.PriceCharged,
		SurgeActive:  job.SurgeActive,
		CreatedAt:    job.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if !job.CompletedAt.IsZero() {
		resp.CompletedAt = job.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if job.Status == creation.StatusCompleted {
		resp.ResultReference = job.ResultReference
		resp.ShareLinks = job.ShareLinks
	}
	if job.Status == creation.StatusFailed {
		resp.FailureReason = string(job.FailureReason)
	}
	return resp
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authenticated(w, r) {
		return
	}
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/creations/"))
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	owner, _, _ := h.identity(r)
	job, err := h.orch.Get(r.Context(), id, owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.log.Error("status read failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, statusFromJob(job))
}

type listResponse struct {
	Creations []statusResponse `json:"creations"`
}

func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authenticated(w, r) {
		return
	}
	owner, _, _ := h.identity(r)
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	jobs, err := h.orch.List(r.Context(), owner, offset, limit)
	if err != nil {
		h.log.Error("list failed", zap.String("owner", owner), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	resp := listResponse{Creations: make([]statusResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Creations = append(resp.Creations, statusFromJob(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
