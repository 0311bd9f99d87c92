package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/chris/shard-rewards/pkg/models"
)

// GetCampaign retrieves a campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.conn(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &campaign, nil
}

// GetCampaignBySlug retrieves a campaign by slug.
func (s *Store) GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.conn(ctx).First(&campaign, "slug = ?", slug).Error; err != nil {
		return nil, translate(err)
	}
	return &campaign, nil
}

// ListCampaigns returns every campaign ordered by id.
func (s *Store) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	if err := s.conn(ctx).Order("id ASC").Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// UpsertCampaign inserts the campaign or updates the row with the same slug.
func (s *Store) UpsertCampaign(ctx context.Context, campaign *models.Campaign) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "subdomain", "base_url", "status",
			"referral_shards", "poster_shards", "required_coding_minutes", "updated_at",
		}),
	}).Create(campaign).Error
	if err != nil {
		return translate(err)
	}

	stored, err := s.GetCampaignBySlug(ctx, campaign.Slug)
	if err != nil {
		return err
	}
	*campaign = *stored
	return nil
}
