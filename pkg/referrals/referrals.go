// Package referrals owns the referral lifecycle. Status only moves forward:
// pending, id_verified, completed. Completion credits the referrer once.
package referrals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/chris/shard-rewards/pkg/campaigns"
	"github.com/chris/shard-rewards/pkg/ledger"
	"github.com/chris/shard-rewards/pkg/metrics"
	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/notify"
	"github.com/chris/shard-rewards/pkg/storage"
)

// Service runs referral transitions against a transactional store.
type Service struct {
	store    storage.Store
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a Service. A nil notifier disables notifications.
func NewService(store storage.Store, notifier notify.Notifier, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, notifier: notifier, now: now}
}

// CreateInput describes a new referral claim.
type CreateInput struct {
	ReferrerID         uint
	CampaignID         uint
	ReferredIdentifier string
	ReferralType       models.ReferralType
}

// Create records a pending referral. The identifier is unique per referrer.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Referral, error) {
	identifier := strings.TrimSpace(in.ReferredIdentifier)
	if identifier == "" {
		return nil, storage.Invalid("referred_identifier", "can't be blank")
	}
	referralType := in.ReferralType
	if referralType == "" {
		referralType = models.ReferralLink
	}
	if referralType != models.ReferralLink && referralType != models.ReferralPoster {
		return nil, storage.Invalid("referral_type", "%q is not supported", in.ReferralType)
	}
	if _, err := s.store.GetUser(ctx, in.ReferrerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.Invalid("referrer_id", "%d does not exist", in.ReferrerID)
		}
		return nil, err
	}
	if _, err := s.store.GetCampaign(ctx, in.CampaignID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.Invalid("campaign_id", "%d does not exist", in.CampaignID)
		}
		return nil, err
	}

	referral := &models.Referral{
		ReferrerID:         in.ReferrerID,
		CampaignID:         in.CampaignID,
		ReferredIdentifier: identifier,
		Status:             models.ReferralPending,
		ReferralType:       referralType,
		Metadata:           models.Metadata{},
	}
	if err := s.store.CreateReferral(ctx, referral); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, storage.Invalid("referred_identifier", "has already been referred by you")
		}
		return nil, fmt.Errorf("failed to create referral: %w", err)
	}
	slog.InfoContext(ctx, "referral created", "referral_id", referral.ID, "referrer_id", referral.ReferrerID, "type", referralType)
	return referral, nil
}

// Get returns a referral by id.
func (s *Service) Get(ctx context.Context, id uint) (*models.Referral, error) {
	return s.store.GetReferral(ctx, id)
}

// List returns the referrals given by a referrer.
func (s *Service) List(ctx context.Context, referrerID uint) ([]models.Referral, error) {
	return s.store.ListReferrals(ctx, referrerID)
}

// VerifyIdentity moves a pending referral to id_verified. Referrals already
// at or past id_verified are returned unchanged.
func (s *Service) VerifyIdentity(ctx context.Context, id uint) (*models.Referral, error) {
	var referral *models.Referral
	err := s.store.Transaction(ctx, func(tx storage.Repository) error {
		var err error
		referral, err = tx.LockReferral(ctx, id)
		if err != nil {
			return err
		}
		if referral.Status >= models.ReferralIDVerified {
			return nil
		}
		now := s.now().UTC()
		referral.Status = models.ReferralIDVerified
		referral.VerifiedAt = &now
		return tx.SaveReferral(ctx, referral)
	})
	if err != nil {
		return nil, err
	}
	return referral, nil
}

// Result is the outcome of a completion attempt.
type Result struct {
	Referral *models.Referral
	Reward   *models.LedgerEntry
	// Changed is false when the referral was not completed by this call.
	Changed bool
}

// Complete moves an id_verified referral whose tracked minutes meet the
// campaign threshold to completed and credits the referrer. Any other
// referral is returned unchanged. This is the only path that issues a
// referral reward.
func (s *Service) Complete(ctx context.Context, id uint) (*Result, error) {
	current, err := s.store.GetReferral(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.ReferralIDVerified {
		return &Result{Referral: current}, nil
	}
	return s.complete(ctx, current.ReferrerID, id, nil)
}

// UpdateTrackedTime records the referred person's coding minutes and
// completes the referral once they newly meet the threshold.
func (s *Service) UpdateTrackedTime(ctx context.Context, id uint, minutes int64) (*Result, error) {
	if minutes < 0 {
		return nil, storage.Invalid("tracked_minutes", "must be greater than or equal to 0")
	}
	current, err := s.store.GetReferral(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, current.ReferrerID, id, &minutes)
}

// complete locks the referrer before the referral. When minutes is set it
// is written first, and completion is only attempted if the referral is
// id_verified.
func (s *Service) complete(ctx context.Context, referrerID, id uint, minutes *int64) (*Result, error) {
	var (
		result   = &Result{}
		campaign *models.Campaign
	)
	err := s.store.Transaction(ctx, func(tx storage.Repository) error {
		if _, err := tx.LockUser(ctx, referrerID); err != nil {
			return fmt.Errorf("failed to lock referrer %d: %w", referrerID, err)
		}
		referral, err := tx.LockReferral(ctx, id)
		if err != nil {
			return err
		}
		result.Referral = referral
		if referral.Metadata == nil {
			referral.Metadata = models.Metadata{}
		}

		dirty := false
		if minutes != nil && referral.TrackedMinutes != *minutes {
			referral.TrackedMinutes = *minutes
			dirty = true
		}

		campaign, err = tx.GetCampaign(ctx, referral.CampaignID)
		if err != nil {
			return fmt.Errorf("failed to get campaign %d: %w", referral.CampaignID, err)
		}
		if referral.Status != models.ReferralIDVerified || referral.TrackedMinutes < campaign.RequiredCodingMinutes {
			if !dirty {
				return nil
			}
			return tx.SaveReferral(ctx, referral)
		}

		now := s.now().UTC()
		referral.Status = models.ReferralCompleted
		referral.CompletedAt = &now
		if err := tx.SaveReferral(ctx, referral); err != nil {
			return err
		}
		if amount := campaigns.For(campaign).ReferralShards(campaign); amount > 0 {
			result.Reward, err = ledger.Apply(ctx, tx, referrerID, amount, models.EntryReferral,
				ledger.ReferralReference(referral.ID), "Referral completed for "+referral.ReferredIdentifier)
			if err != nil {
				return err
			}
		}
		if _, err := tx.RecountReferrals(ctx, referrerID); err != nil {
			return err
		}
		if _, err := tx.UpsertBadge(ctx, &models.Badge{
			UserID:     referrerID,
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
			slog.WarnContext(ctx, "referral reward already issued", "referral_id", id)
			referral, getErr := s.store.GetReferral(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return &Result{Referral: referral}, nil
		}
		return nil, err
	}
	if result.Changed {
		s.afterComplete(ctx, result, campaign)
	}
	return result, nil
}

func (s *Service) afterComplete(ctx context.Context, result *Result, campaign *models.Campaign) {
	referral := result.Referral
	var shards int64
	if result.Reward != nil {
		shards = result.Reward.Amount
		metrics.RecordLedger(string(models.EntryReferral), shards)
	}
	slog.InfoContext(ctx, "referral completed", "referral_id", referral.ID, "referrer_id", referral.ReferrerID, "shards", shards)

	data := map[string]any{
		"referral_id":   referral.ID,
		"campaign_id":   campaign.ID,
		"campaign_slug": campaign.Slug,
		"shards":        shards,
	}
	msgs := []notify.Message{
		notify.New(notify.KindReferralCompleted, referral.ReferrerID,
			fmt.Sprintf("Your referral %s completed %s. You earned %d shards.", referral.ReferredIdentifier, campaign.Name, shards), data),
		notify.New(notify.KindReferralForAdmin, notify.AdminUserID,
			fmt.Sprintf("Referral %d completed by %s for user %d.", referral.ID, referral.ReferredIdentifier, referral.ReferrerID), data),
	}
	if result.Reward != nil {
		msgs = append(msgs, notify.BalanceChanged(referral.ReferrerID, string(models.EntryReferral), result.Reward.Amount, result.Reward.BalanceAfter))
	}
	notify.Dispatch(ctx, s.notifier, msgs...)
}

// Progress is the completion percentage shown to the referrer.
func Progress(referral *models.Referral, campaign *models.Campaign) int {
	if referral.Status == models.ReferralCompleted {
		return 100
	}
	if campaign.RequiredCodingMinutes <= 0 {
		return 0
	}
	pct := math.Round(float64(referral.TrackedMinutes) / float64(campaign.RequiredCodingMinutes) * 100)
	return int(min(pct, 100))
}
