package quota

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chris/shard-rewards/pkg/quota"
	"github.com/chris/shard-rewards/pkg/storage"
)

// QuotaHandler serves weekly quota summaries.
type QuotaHandler struct {
	Calculator *quota.Calculator
	Store      quota.Reader
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(calc *quota.Calculator, store quota.Reader) *QuotaHandler {
	return &QuotaHandler{Calculator: calc, Store: store}
}

// GetQuota serves GET /users/{userID}/quota.
func (h *QuotaHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	summary, err := h.Calculator.Lookup(r.Context(), h.Store, uint(userID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
		} else {
			http.Error(w, fmt.Sprintf("Failed to compute quota: %v", err), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write response: %v", err), http.StatusInternalServerError)
	}
}
