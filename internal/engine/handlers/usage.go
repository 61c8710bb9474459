package handlers

import (
	"net/http"

	"github.com/studyforge/studyforge/internal/engine/ledger"
)

// UsageHandler reports token usage and cost projections from the ledger
type UsageHandler struct {
	ledger *ledger.Ledger
}

func NewUsageHandler(l *ledger.Ledger) *UsageHandler {
	return &UsageHandler{ledger: l}
}

// HandleReport handles GET /v1/usage
func (h *UsageHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usage": h.ledger.Snapshot(),
		"user":  h.ledger.UserUsage(userID(r)),
		"cost":  h.ledger.EstimateCost(),
	})
}

// HandleReset handles POST /v1/admin/usage/reset
func (h *UsageHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.ledger.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
