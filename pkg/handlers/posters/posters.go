package posters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/scheduler"
	"github.com/chris/shard-rewards/pkg/storage"
)

// PosterGetter loads a poster by id.
type PosterGetter interface {
	GetPoster(ctx context.Context, id uint) (*models.Poster, error)
}

// VerificationHandler requeues posters for auto-verification.
type VerificationHandler struct {
	Posters   PosterGetter
	Scheduler scheduler.Scheduler
	Now       func() time.Time
}

// NewVerificationHandler creates a new VerificationHandler.
func NewVerificationHandler(posters PosterGetter, sched scheduler.Scheduler) *VerificationHandler {
	return &VerificationHandler{Posters: posters, Scheduler: sched, Now: time.Now}
}

// Queued is the response body of an accepted request.
type Queued struct {
	PosterID uint   `json:"poster_id"`
	Reason   string `json:"reason"`
}

// RequeueVerification serves POST /posters/{posterID}/auto-verify.
// Only posters with a proof that are still awaiting a decision can be queued.
func (h *VerificationHandler) RequeueVerification(w http.ResponseWriter, r *http.Request) {
	posterID, err := strconv.ParseUint(chi.URLParam(r, "posterID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid poster id", http.StatusBadRequest)
		return
	}

	poster, err := h.Posters.GetPoster(r.Context(), uint(posterID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Poster not found", http.StatusNotFound)
		} else {
			http.Error(w, fmt.Sprintf("Failed to retrieve poster: %v", err), http.StatusInternalServerError)
		}
		return
	}
	if !poster.HasProof() {
		http.Error(w, "Poster has no proof attached", http.StatusConflict)
		return
	}
	switch poster.VerificationStatus {
	case models.PosterPending, models.PosterInReview:
	default:
		http.Error(w, fmt.Sprintf("Poster is %s", poster.VerificationStatus), http.StatusConflict)
		return
	}

	job := scheduler.Job{PosterID: poster.ID, Reason: scheduler.ReasonManual, EnqueuedAt: h.Now().UTC()}
	if err := h.Scheduler.ScheduleVerification(r.Context(), job); err != nil {
		http.Error(w, fmt.Sprintf("Failed to schedule verification: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(Queued{PosterID: poster.ID, Reason: job.Reason}); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write response: %v", err), http.StatusInternalServerError)
	}
}
