package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/chris/shard-rewards/pkg/models"
)

// CreateReferral inserts a referral.
func (s *Store) CreateReferral(ctx context.Context, referral *models.Referral) error {
	return translate(s.conn(ctx).Create(referral).Error)
}

// GetReferral retrieves a referral by id.
func (s *Store) GetReferral(ctx context.Context, id uint) (*models.Referral, error) {
	var referral models.Referral
	if err := s.conn(ctx).First(&referral, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &referral, nil
}

// LockReferral retrieves a referral with SELECT ... FOR UPDATE.
func (s *Store) LockReferral(ctx context.Context, id uint) (*models.Referral, error) {
	var referral models.Referral
	if err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&referral, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &referral, nil
}

// SaveReferral writes every column of the referral.
func (s *Store) SaveReferral(ctx context.Context, referral *models.Referral) error {
	if err := s.conn(ctx).Save(referral).Error; err != nil {
		return fmt.Errorf("failed to save referral %d: %w", referral.ID, translate(err))
	}
	return nil
}

// ListReferrals returns the referrer's referrals ordered by id.
func (s *Store) ListReferrals(ctx context.Context, referrerID uint) ([]models.Referral, error) {
	var referrals []models.Referral
	if err := s.conn(ctx).Where("referrer_id = ?", referrerID).Order("id ASC").Find(&referrals).Error; err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	return referrals, nil
}
