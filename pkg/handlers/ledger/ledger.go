package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Reader is the read side of the ledger.
type Reader interface {
	Balance(ctx context.Context, userID uint) (int64, error)
	Entries(ctx context.Context, userID uint, limit int) ([]models.LedgerEntry, error)
}

// LedgerHandler holds the dependencies for ledger-related handlers.
type LedgerHandler struct {
	Ledger Reader
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger Reader) *LedgerHandler {
	return &LedgerHandler{Ledger: ledger}
}

// Statement is a user's balance with their most recent entries.
type Statement struct {
	UserID  uint                 `json:"user_id"`
	Balance int64                `json:"balance"`
	Entries []models.LedgerEntry `json:"entries"`
}

// ListLedgerEntries serves GET /users/{userID}/ledger?limit=N.
func (h *LedgerHandler) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLimit {
			http.Error(w, fmt.Sprintf("limit must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
	}

	balance, err := h.Ledger.Balance(r.Context(), uint(userID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
		} else {
			http.Error(w, fmt.Sprintf("Failed to retrieve balance: %v", err), http.StatusInternalServerError)
		}
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), uint(userID), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve ledger entries: %v", err), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(Statement{UserID: uint(userID), Balance: balance, Entries: entries}); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write response: %v", err), http.StatusInternalServerError)
	}
}
