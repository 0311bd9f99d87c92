package posters

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

// mutate locks the poster and applies fn inside a transaction. fn returns
// false when the transition does not apply, in which case nothing is saved
// and the current poster is returned.
func (s *Service) mutate(ctx context.Context, posterID uint, fn func(tx storage.Repository, p *models.Poster, now time.Time) (bool, error)) (*models.Poster, bool, error) {
	var (
		result  *models.Poster
		changed bool
	)
	err := s.store.Transaction(ctx, func(tx storage.Repository) error {
		poster, err := tx.LockPoster(ctx, posterID)
		if err != nil {
			return err
		}
		if poster.Metadata == nil {
			poster.Metadata = models.Metadata{}
		}
		ok, err := fn(tx, poster, s.now().UTC())
		if err != nil {
			return err
		}
		result, changed = poster, ok
		if !ok {
			return nil
		}
		return tx.SavePoster(ctx, poster)
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// UpdateLocation sets where the poster hangs. Only pending posters accept a
// new location.
func (s *Service) UpdateLocation(ctx context.Context, posterID uint, loc models.Location) (*models.Poster, error) {
	poster, _, err := s.mutate(ctx, posterID, func(_ storage.Repository, p *models.Poster, _ time.Time) (bool, error) {
		if sameLocation(p.Location(), loc) {
			return false, nil
		}
		if !p.LocationEditable() {
			return false, ErrLocationLocked
		}
		if err := validateLocation(loc); err != nil {
			return false, err
		}
		p.LocationDescription = strings.TrimSpace(loc.Description)
		p.Latitude, p.Longitude = loc.Latitude, loc.Longitude
		return true, nil
	})
	return poster, err
}

// Submit attaches the proof and location and sends a pending poster to
// manual review.
func (s *Service) Submit(ctx context.Context, posterID uint, loc models.Location, upload Upload) (*models.Poster, error) {
	if loc.Blank() {
		return nil, ErrLocationRequired
	}
	if _, err := s.UpdateLocation(ctx, posterID, loc); err != nil {
		return nil, err
	}
	if _, err := s.AttachProof(ctx, posterID, upload); err != nil {
		return nil, err
	}
	return s.MarkForReview(ctx, posterID, nil)
}

// MarkForReview moves a pending poster to in_review, merging meta into its
// metadata. A blank location fails with ErrLocationRequired; any other
// status is left unchanged.
func (s *Service) MarkForReview(ctx context.Context, posterID uint, meta models.Metadata) (*models.Poster, error) {
	poster, changed, err := s.mutate(ctx, posterID, func(_ storage.Repository, p *models.Poster, _ time.Time) (bool, error) {
		if p.VerificationStatus != models.PosterPending {
			return false, nil
		}
		if p.Location().Blank() {
			return false, ErrLocationRequired
		}
		p.VerificationStatus = models.PosterInReview
		p.Metadata.Merge(meta)
		return true, nil
	})
	if changed {
		slog.InfoContext(ctx, "poster sent to review", "poster_id", posterID)
	}
	return poster, err
}

// Annotate merges meta into the poster's metadata without changing its status.
func (s *Service) Annotate(ctx context.Context, posterID uint, meta models.Metadata) (*models.Poster, error) {
	poster, _, err := s.mutate(ctx, posterID, func(_ storage.Repository, p *models.Poster, _ time.Time) (bool, error) {
		if len(meta) == 0 {
			return false, nil
		}
		p.Metadata.Merge(meta)
		return true, nil
	})
	return poster, err
}

// Hold parks a non-terminal poster with a reason.
func (s *Service) Hold(ctx context.Context, posterID uint, reason string, meta models.Metadata) (*models.Poster, error) {
	poster, changed, err := s.mutate(ctx, posterID, func(_ storage.Repository, p *models.Poster, _ time.Time) (bool, error) {
		if p.VerificationStatus.Terminal() {
			return false, nil
		}
		p.VerificationStatus = models.PosterOnHold
		p.Metadata.Merge(meta)
		p.Metadata[models.MetaHoldReason] = strings.TrimSpace(reason)
		return true, nil
	})
	if changed {
		slog.InfoContext(ctx, "poster on hold", "poster_id", posterID, "reason", reason)
	}
	return poster, err
}

// Reject terminally rejects a non-terminal poster.
func (s *Service) Reject(ctx context.Context, posterID uint, reason string, reviewerID uint) (*models.Poster, error) {
	poster, changed, err := s.mutate(ctx, posterID, func(_ storage.Repository, p *models.Poster, _ time.Time) (bool, error) {
		if p.VerificationStatus.Terminal() {
			return false, nil
		}
		p.VerificationStatus = models.PosterRejected
		p.RejectionReason = strings.TrimSpace(reason)
		p.VerifiedByID = &reviewerID
		return true, nil
	})
	if changed {
		slog.InfoContext(ctx, "poster rejected", "poster_id", posterID, "reviewer_id", reviewerID)
	}
	return poster, err
}

// RequestResubmission sends an on_hold or in_review poster back to pending
// and purges its proof so the user can upload a new one.
func (s *Service) RequestResubmission(ctx context.Context, posterID uint, reason string, reviewerID uint) (*models.Poster, error) {
	poster, changed, err := s.mutate(ctx, posterID, func(tx storage.Repository, p *models.Poster, now time.Time) (bool, error) {
		if p.VerificationStatus != models.PosterOnHold && p.VerificationStatus != models.PosterInReview {
			return false, nil
		}
		previous := p.ProofBlobID
		p.VerificationStatus = models.PosterPending
		p.VerifiedByID = &reviewerID
		p.ProofBlobID = nil
		p.ProofAttachedAt = nil
		p.Metadata[models.MetaResubmissionRequested] = true
		p.Metadata[models.MetaResubmissionReason] = strings.TrimSpace(reason)
		p.Metadata[models.MetaResubmissionRequestedAt] = now.Format(time.RFC3339)
		if err := tx.SavePoster(ctx, p); err != nil {
			return false, err
		}
		if previous != nil {
			if err := purgeIfUnreferenced(ctx, tx, *previous); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if changed {
		slog.InfoContext(ctx, "poster resubmission requested", "poster_id", posterID, "reviewer_id", reviewerID)
	}
	return poster, err
}

// MarkDigital completes a pending poster without proof as digital. It never
// issues a reward.
func (s *Service) MarkDigital(ctx context.Context, posterID uint, reviewerID uint) (*models.Poster, error) {
	poster, changed, err := s.mutate(ctx, posterID, func(tx storage.Repository, p *models.Poster, now time.Time) (bool, error) {
		if p.VerificationStatus != models.PosterPending || p.HasProof() {
			return false, nil
		}
		if _, _, err := owner(ctx, tx, p); err != nil {
			return false, err
		}
		p.VerificationStatus = models.PosterDigital
		p.VerifiedAt = &now
		p.VerifiedByID = &reviewerID
		return true, nil
	})
	if changed {
		slog.InfoContext(ctx, "poster marked digital", "poster_id", posterID, "reviewer_id", reviewerID)
	}
	return poster, err
}

func validateLocation(loc models.Location) error {
	if len(loc.Description) > 255 {
		return storage.Invalid("location_description", "must be at most 255 characters")
	}
	if loc.Latitude != nil && (*loc.Latitude < -90 || *loc.Latitude > 90) {
		return storage.Invalid("latitude", "must be between -90 and 90")
	}
	if loc.Longitude != nil && (*loc.Longitude < -180 || *loc.Longitude > 180) {
		return storage.Invalid("longitude", "must be between -180 and 180")
	}
	return nil
}

func sameLocation(a, b models.Location) bool {
	return strings.TrimSpace(a.Description) == strings.TrimSpace(b.Description) &&
		sameFloat(a.Latitude, b.Latitude) && sameFloat(a.Longitude, b.Longitude)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
