// Package api exposes the created HTTP surface.
package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shayanmanesh/create/internal/admission"
	"github.com/shayanmanesh/create/internal/metrics"
	"github.com/shayanmanesh/create/internal/orchestrator"
	"github.com/shayanmanesh/create/internal/pricing"
)

// Header carrying the authenticated user id; set by the fronting proxy.
const (
	userHeader = "X-User-ID"
	tierHeader = "X-User-Tier"
)

// Config wires dependencies for the HTTP handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Admission    *admission.Controller
	Pricing      *pricing.Engine
	Metrics      *metrics.Metrics
	Log          *zap.Logger
	// TrustForwardedFor enables X-Forwarded-For as a client key source.
	TrustForwardedFor bool
	// RequireAuth rejects creation calls that carry no user header instead
	// of falling back to the client key as owner.
	RequireAuth bool
	// DefaultTier applies when the tier header is absent.
	DefaultTier string
}

// NewHandler builds the HTTP handler for the creation API.
func NewHandler(cfg Config) http.Handler {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = "free"
	}
	h := &handler{
		orch:        cfg.Orchestrator,
		admission:   cfg.Admission,
		pricing:     cfg.Pricing,
		metrics:     cfg.Metrics,
		log:         cfg.Log,
		clientKey:   admission.DefaultKeyFunc(userHeader, cfg.TrustForwardedFor),
		requireAuth: cfg.RequireAuth,
		defaultTier: cfg.DefaultTier,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/creations/create", h.handleCreate)
	mux.HandleFunc("/api/creations/", h.handleStatus)
	mux.HandleFunc("/api/creations", h.handleList)
	mux.HandleFunc("/api/pricing", h.handlePricing)
	mux.HandleFunc("/health", h.handleHealth)
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}
	return instrument(mux, cfg.Metrics, cfg.Log)
}

type handler struct {
	orch        *orchestrator.Orchestrator
	admission   *admission.Controller
	pricing     *pricing.Engine
	metrics     *metrics.Metrics
	log         *zap.Logger
	clientKey   admission.KeyFunc
	requireAuth bool
	defaultTier string
}

// authenticated enforces the user header on creation endpoints when auth is
// required. Without the flag, owner scoping falls back to the client key so
// unauthenticated local runs still work.
func (h *handler) authenticated(w http.ResponseWriter, r *http.Request) bool {
	if !h.requireAuth {
		return true
	}
	if strings.TrimSpace(r.Header.Get(userHeader)) == "" {
		writeError(w, http.StatusUnauthorized, "authentication_required")
		return false
	}
	return true
}

// identity derives (owner, clientKey, tier) for a request. Owner falls back
// to the client key so unauthenticated local runs still scope their jobs.
func (h *handler) identity(r *http.Request) (owner, key, tier string) {
	key = h.clientKey(r)
	owner = strings.TrimSpace(r.Header.Get(userHeader))
	if owner == "" {
		owner = key
	}
	tier = strings.ToLower(strings.TrimSpace(r.Header.Get(tierHeader)))
	if tier == "" {
		tier = h.defaultTier
	}
	return owner, key, tier
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
