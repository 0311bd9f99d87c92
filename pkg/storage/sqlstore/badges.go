package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/chris/shard-rewards/pkg/models"
)

// UpsertBadge inserts the badge, doing nothing when it already exists.
func (s *Store) UpsertBadge(ctx context.Context, badge *models.Badge) (bool, error) {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(badge)
	if res.Error != nil {
		return false, fmt.Errorf("failed to upsert badge: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListBadges returns the user's badges ordered by id.
func (s *Store) ListBadges(ctx context.Context, userID uint) ([]models.Badge, error) {
	var badges []models.Badge
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&badges).Error; err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	return badges, nil
}
