package posters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/shard-rewards/pkg/campaigns"
	"github.com/chris/shard-rewards/pkg/ledger"
	"github.com/chris/shard-rewards/pkg/metrics"
	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/notify"
	"github.com/chris/shard-rewards/pkg/storage"
)

// Result is the outcome of a verification attempt.
type Result struct {
	Poster *models.Poster
	// Reward is nil when the poster was already verified or the weekly
	// quota was exhausted.
	Reward *models.LedgerEntry
	// Changed is false when the call was a no-op.
	Changed bool
}

// AutoMatch describes a proof uploaded on one poster whose QR code belongs
// to another pending poster of the same user.
type AutoMatch struct {
	SourcePosterID uint
	QRCode         string
	DetectedCodes  []string
}

type finalizeOptions struct {
	reviewerID *uint
	auto       bool
	meta       models.Metadata
	match      *AutoMatch
}

// Verify approves a pending or in_review poster on behalf of a reviewer.
func (s *Service) Verify(ctx context.Context, posterID uint, reviewerID uint) (*Result, error) {
	return s.finalize(ctx, posterID, finalizeOptions{reviewerID: &reviewerID})
}

// CompleteAutoVerification approves a poster whose own proof carried its QR code.
func (s *Service) CompleteAutoVerification(ctx context.Context, posterID uint, meta models.Metadata) (*Result, error) {
	return s.finalize(ctx, posterID, finalizeOptions{auto: true, meta: meta})
}

// TransferProof copies the source poster's proof onto the pending target
// poster and approves the target. The source keeps its status and records
// where its proof went.
func (s *Service) TransferProof(ctx context.Context, targetID uint, match AutoMatch) (*Result, error) {
	if match.SourcePosterID == targetID {
		return nil, storage.Invalid("poster_id", "cannot transfer a proof onto its own poster")
	}
	return s.finalize(ctx, targetID, finalizeOptions{auto: true, match: &match})
}

// finalize moves a poster to success and issues at most one reward. The
// user row is locked before the poster, and the poster before any source
// poster, so concurrent attempts on the same user serialize.
func (s *Service) finalize(ctx context.Context, posterID uint, opts finalizeOptions) (*Result, error) {
	current, err := s.store.GetPoster(ctx, posterID)
	if err != nil {
		return nil, err
	}
	if current.VerificationStatus == models.PosterSuccess {
		return &Result{Poster: current}, nil
	}
	if _, _, err := owner(ctx, s.store, current); err != nil {
		return nil, err
	}

	var (
		result   = &Result{}
		campaign *models.Campaign
	)
	err = s.store.Transaction(ctx, func(tx storage.Repository) error {
		user, err := tx.LockUser(ctx, *current.UserID)
		if err != nil {
			return fmt.Errorf("failed to lock user %d: %w", *current.UserID, err)
		}
		poster, err := tx.LockPoster(ctx, posterID)
		if err != nil {
			return err
		}
		result.Poster = poster
		if !verifiable(poster.VerificationStatus) {
			return nil
		}
		if opts.match != nil && poster.VerificationStatus != models.PosterPending {
			return nil
		}
		if poster.UserID == nil || *poster.UserID != user.ID {
			return ErrOrphaned
		}
		if _, campaign, err = owner(ctx, tx, poster); err != nil {
			return err
		}
		if poster.Metadata == nil {
			poster.Metadata = models.Metadata{}
		}

		now := s.now().UTC()
		if opts.match != nil {
			if err := s.takeProof(ctx, tx, poster, *opts.match, now); err != nil {
				return err
			}
		}

		poster.VerificationStatus = models.PosterSuccess
		poster.VerifiedAt = &now
		poster.VerifiedByID = opts.reviewerID
		poster.Metadata.Merge(opts.meta)
		if opts.auto {
			poster.Metadata[models.MetaAutoVerified] = true
		}

		eligible, err := s.quota.RewardEligible(ctx, tx, user, poster.ID)
		if err != nil {
			return err
		}
		if eligible {
			result.Reward, err = ledger.Apply(ctx, tx, user.ID, campaigns.For(campaign).PosterShards(campaign),
				models.EntryPoster, ledger.PosterReference(poster.ID), "Poster verified")
			if err != nil {
				return err
			}
		} else {
			poster.Metadata[models.MetaRewardSkipped] = "weekly_limit_reached"
		}

		if err := tx.SavePoster(ctx, poster); err != nil {
			return err
		}
		if _, err := tx.RecountPosters(ctx, user.ID); err != nil {
			return err
		}
		if _, err := tx.UpsertBadge(ctx, &models.Badge{
			UserID:     user.ID,
			CampaignID: campaign.ID,
			BadgeType:  models.BadgeParticipant,
			EarnedAt:   now,
		}); err != nil {
			return err
		}
		result.Changed = true
		return nil
	})
	if err != nil {
		if ledger.IsDuplicate(err) {
			slog.WarnContext(ctx, "poster reward already issued", "poster_id", posterID)
			poster, getErr := s.store.GetPoster(ctx, posterID)
			if getErr != nil {
				return nil, getErr
			}
			return &Result{Poster: poster}, nil
		}
		return nil, err
	}
	if !result.Changed {
		return result, nil
	}

	poster := result.Poster
	if opts.reviewerID != nil {
		metrics.VerificationOutcomes.WithLabelValues("manual").Inc()
	}
	slog.InfoContext(ctx, "poster verified", "poster_id", poster.ID, "user_id", *poster.UserID, "rewarded", result.Reward != nil, "auto", opts.auto)

	msgs := []notify.Message{notify.New(notify.KindPosterVerified, *poster.UserID,
		fmt.Sprintf("Your poster %s was verified.", poster.ReferralCode),
		map[string]any{"poster_id": poster.ID, "campaign_id": campaign.ID, "rewarded": result.Reward != nil})}
	if result.Reward != nil {
		metrics.RecordLedger(string(models.EntryPoster), result.Reward.Amount)
		msgs = append(msgs, notify.BalanceChanged(*poster.UserID, string(models.EntryPoster), result.Reward.Amount, result.Reward.BalanceAfter))
	} else {
		metrics.RewardsSkipped.WithLabelValues("weekly_limit").Inc()
	}
	notify.Dispatch(ctx, s.notifier, msgs...)
	return result, nil
}

// takeProof points the target at the source's proof blob and annotates both
// posters. The blob is shared by reference.
func (s *Service) takeProof(ctx context.Context, tx storage.Repository, target *models.Poster, match AutoMatch, now time.Time) error {
	source, err := tx.LockPoster(ctx, match.SourcePosterID)
	if err != nil {
		return fmt.Errorf("failed to lock source poster %d: %w", match.SourcePosterID, err)
	}
	if source.UserID == nil || *source.UserID != *target.UserID {
		return storage.Invalid("poster_id", "source poster %d belongs to another user", source.ID)
	}
	if !source.HasProof() {
		return storage.Invalid("proof_image", "source poster %d has no proof", source.ID)
	}

	target.ProofBlobID = source.ProofBlobID
	target.ProofAttachedAt = &now
	if target.Location().Blank() && !source.Location().Blank() {
		target.LocationDescription = source.LocationDescription
		target.Latitude, target.Longitude = source.Latitude, source.Longitude
	}
	target.Metadata[models.MetaAutoMatchedFromPosterID] = source.ID
	target.Metadata[models.MetaAutoMatchedQRCode] = match.QRCode
	target.Metadata[models.MetaDetectedQRCodes] = match.DetectedCodes
	target.Metadata[models.MetaAutoVerificationAttemptedAt] = now.Format(time.RFC3339)

	if source.Metadata == nil {
		source.Metadata = models.Metadata{}
	}
	source.Metadata[models.MetaProofTransferredToPosterID] = target.ID
	source.Metadata[models.MetaAutoMatchTransferAt] = now.Format(time.RFC3339)
	return tx.SavePoster(ctx, source)
}

func verifiable(status models.PosterStatus) bool {
	return status == models.PosterPending || status == models.PosterInReview
}

type ownerReader interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetCampaign(ctx context.Context, id uint) (*models.Campaign, error)
}

// owner loads the poster's user and campaign, failing with ErrOrphaned when
// either is gone.
func owner(ctx context.Context, r ownerReader, p *models.Poster) (*models.User, *models.Campaign, error) {
	if p.UserID == nil || p.CampaignID == nil {
		return nil, nil, ErrOrphaned
	}
	user, err := r.GetUser(ctx, *p.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrOrphaned
		}
		return nil, nil, err
	}
	campaign, err := r.GetCampaign(ctx, *p.CampaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrOrphaned
		}
		return nil, nil, err
	}
	return user, campaign, nil
}
