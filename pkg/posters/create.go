package posters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

// CreateInput describes a standalone poster.
type CreateInput struct {
	UserID     uint
	CampaignID uint
	PosterType models.PosterType
}

// CreatePoster creates a pending poster with fresh codes. Creation is never
// limited by the weekly quota.
func (s *Service) CreatePoster(ctx context.Context, in CreateInput) (*models.Poster, error) {
	posterType, err := normalizeType(in.PosterType)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, in.UserID, in.CampaignID); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		poster, err := s.buildPoster(in.UserID, in.CampaignID, posterType, nil)
		if err != nil {
			return nil, err
		}
		err = s.store.CreatePoster(ctx, poster)
		if err == nil {
			slog.InfoContext(ctx, "poster created", "poster_id", poster.ID, "user_id", in.UserID, "campaign_id", in.CampaignID)
			return poster, nil
		}
		if !errors.Is(err, storage.ErrDuplicateKey) || attempt == createAttempts {
			return nil, fmt.Errorf("failed to create poster: %w", err)
		}
	}
}

// GroupInput describes a batch of posters generated together.
type GroupInput struct {
	UserID     uint
	CampaignID uint
	Count      int
	Name       string
	Charset    string
	PosterType models.PosterType
}

// CreateGroup creates a group of 1..MaxPostersPerGroup pending posters in one transaction.
func (s *Service) CreateGroup(ctx context.Context, in GroupInput) (*models.PosterGroup, []models.Poster, error) {
	if in.Count < 1 || in.Count > models.MaxPostersPerGroup {
		return nil, nil, storage.Invalid("count", "must be between 1 and %d", models.MaxPostersPerGroup)
	}
	name := strings.TrimSpace(in.Name)
	if len([]rune(name)) > 100 {
		return nil, nil, storage.Invalid("name", "must be at most 100 characters")
	}
	charset := in.Charset
	switch charset {
	case "":
		charset = models.CharsetAlphanumeric
	case models.CharsetAlphanumeric, models.CharsetNumeric, models.CharsetAlpha:
	default:
		return nil, nil, storage.Invalid("charset", "%q is not supported", in.Charset)
	}
	posterType, err := normalizeType(in.PosterType)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkOwner(ctx, in.UserID, in.CampaignID); err != nil {
		return nil, nil, err
	}

	for attempt := 1; ; attempt++ {
		group, posters, err := s.createGroupOnce(ctx, in, name, charset, posterType)
		if err == nil {
			slog.InfoContext(ctx, "poster group created", "group_id", group.ID, "user_id", in.UserID, "count", len(posters))
			return group, posters, nil
		}
		if !errors.Is(err, storage.ErrDuplicateKey) || attempt == createAttempts {
			return nil, nil, fmt.Errorf("failed to create poster group: %w", err)
		}
	}
}

func (s *Service) createGroupOnce(ctx context.Context, in GroupInput, name, charset string, posterType models.PosterType) (*models.PosterGroup, []models.Poster, error) {
	group := &models.PosterGroup{
		UserID:     in.UserID,
		CampaignID: in.CampaignID,
		Name:       name,
		Charset:    charset,
		Metadata:   models.Metadata{},
	}
	posters := make([]models.Poster, 0, in.Count)

	err := s.store.Transaction(ctx, func(tx storage.Repository) error {
		if err := tx.CreatePosterGroup(ctx, group); err != nil {
			return err
		}
		for i := 0; i < in.Count; i++ {
			poster, err := s.buildPoster(in.UserID, in.CampaignID, posterType, &group.ID)
			if err != nil {
				return err
			}
			if err := tx.CreatePoster(ctx, poster); err != nil {
				return err
			}
			posters = append(posters, *poster)
		}
		n, err := tx.RecountGroup(ctx, group.ID)
		if err != nil {
			return err
		}
		group.PosterCount = n
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return group, posters, nil
}

func (s *Service) buildPoster(userID, campaignID uint, posterType models.PosterType, groupID *uint) (*models.Poster, error) {
	code, token, err := newCodes()
	if err != nil {
		return nil, err
	}
	return &models.Poster{
		UserID:             &userID,
		CampaignID:         &campaignID,
		PosterGroupID:      groupID,
		ReferralCode:       code,
		QRCodeToken:        token,
		PosterType:         posterType,
		VerificationStatus: models.PosterPending,
		Metadata:           models.Metadata{},
	}, nil
}

func (s *Service) checkOwner(ctx context.Context, userID, campaignID uint) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Invalid("user_id", "%d does not exist", userID)
		}
		return err
	}
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Invalid("campaign_id", "%d does not exist", campaignID)
		}
		return err
	}
	return nil
}

func normalizeType(t models.PosterType) (models.PosterType, error) {
	if t == "" {
		return models.PosterColor, nil
	}
	if !t.Valid() {
		return "", storage.Invalid("poster_type", "%q is not supported", t)
	}
	return t, nil
}
