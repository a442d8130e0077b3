package httpapi

import (
	"net/http"
)

type modelEntry struct {
	ID               string   `json:"id"`
	Tier             string   `json:"tier,omitempty"`
	PricePerMillion  float64  `json:"price_per_million_tokens"`
	Capabilities     []string `json:"capabilities,omitempty"`
	RequiresPayment  bool     `json:"requires_payment"`
}

// listModels implements GET /v1/models: the static catalog plus the four
// routing aliases.
func (h *handler) listModels(w http.ResponseWriter, r *http.Request) {
	entries := make([]modelEntry, 0, 4+len(h.deps.Catalog.All()))
	for _, alias := range []string{"auto", "eco", "premium", "free"} {
		entries = append(entries, modelEntry{ID: alias})
	}
	for _, m := range h.deps.Catalog.All() {
		caps := make([]string, 0, len(m.Capabilities))
		for capability, ok := range m.Capabilities {
			if ok {
				caps = append(caps, string(capability))
			}
		}
		entries = append(entries, modelEntry{
			ID:              m.ID,
			Tier:            string(m.Tier),
			PricePerMillion: m.PricePerMillion,
			Capabilities:    caps,
			RequiresPayment: m.RequiresPayment,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

type healthResponse struct {
	Status       string   `json:"status"`
	Wallet       string   `json:"wallet,omitempty"`
	BalanceUSD   *float64 `json:"balance_usd,omitempty"`
	BalanceState string   `json:"balance_state,omitempty"`
	BalanceError string   `json:"balanceError,omitempty"`
}

// health implements GET /health. ?full=true additionally reports the
// balance monitor's latest snapshot, or a balanceError if none is known
// yet — the monitor is advisory and never blocks this handler.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Wallet: h.deps.WalletAddress}

	if r.URL.Query().Get("full") == "true" {
		if h.deps.Balance == nil {
			resp.BalanceError = "balance monitor not active in this payment mode"
		} else {
			snap := h.deps.Balance.Snapshot()
			if !snap.Known {
				resp.BalanceError = "balance not yet sampled"
			} else {
				usd := snap.BalanceUSD
				resp.BalanceUSD = &usd
				resp.BalanceState = string(snap.State)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// stats implements GET /stats: the flat per-model routing counters.
func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.deps.Stats.Snapshot()})
}
