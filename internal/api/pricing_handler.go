package api

import "net/http"

type tierQuote struct {
	CurrentPrice float64 `json:"current_price"`
	Multiplier   float64 `json:"multiplier"`
	SurgeActive  bool    `json:"surge_active"`
}

type pricingResponse struct {
	SurgeActive bool                 `json:"surge_active"`
	Multiplier  float64              `json:"multiplier"`
	Tiers       map[string]tierQuote `json:"tiers"`
}

// handlePricing reports the current quote per tier, keyed by tier name.
// Prices here are informational; the binding price is the one captured at
// submission.
func (h *handler) handlePricing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := h.pricing.State()
	resp := pricingResponse{
		SurgeActive: state.Active,
		Multiplier:  state.Multiplier,
		Tiers:       map[string]tierQuote{},
	}
	for _, name := range h.pricing.Tiers() {
		quote, err := h.pricing.Current(name)
		if err != nil {
			continue
		}
		resp.Tiers[name] = tierQuote{
			CurrentPrice: quote.Price,
			Multiplier:   quote.Multiplier,
			SurgeActive:  quote.SurgeActive,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
