package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// LockUser retrieves a user with SELECT ... FOR UPDATE.
func (s *Store) LockUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	return translate(s.conn(ctx).Create(user).Error)
}

// ListUserIDs returns every user id in ascending order.
func (s *Store) ListUserIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := s.conn(ctx).Model(&models.User{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	return ids, nil
}

// SetUserBalance overwrites the cached balance.
func (s *Store) SetUserBalance(ctx context.Context, id uint, balance int64) error {
	res := s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Update("total_shards", balance)
	if res.Error != nil {
		return fmt.Errorf("failed to update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// RecountPosters rewrites poster_count from the successful posters.
func (s *Store) RecountPosters(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Poster{}).
		Where("user_id = ? AND verification_status = ?", userID, models.PosterSuccess).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count posters: %w", err)
	}
	if err := s.conn(ctx).Model(&models.User{}).Where("id = ?", userID).Update("poster_count", n).Error; err != nil {
		return 0, fmt.Errorf("failed to update poster count: %w", err)
	}
	return n, nil
}

// RecountReferrals rewrites referral_count from the completed referrals.
func (s *Store) RecountReferrals(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", userID, models.ReferralCompleted).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count referrals: %w", err)
	}
	if err := s.conn(ctx).Model(&models.User{}).Where("id = ?", userID).Update("referral_count", n).Error; err != nil {
		return 0, fmt.Errorf("failed to update referral count: %w", err)
	}
	return n, nil
}
