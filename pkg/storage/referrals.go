package storage

import (
	"context"

	"github.com/chris/shard-rewards/pkg/models"
)

// ReferralStore persists referrals.
type ReferralStore interface {
	// CreateReferral inserts a referral. A repeated identifier for the same
	// referrer fails with ErrDuplicateKey.
	CreateReferral(ctx context.Context, referral *models.Referral) error
	GetReferral(ctx context.Context, id uint) (*models.Referral, error)

	// LockReferral retrieves a referral and holds a row lock until the transaction ends.
	LockReferral(ctx context.Context, id uint) (*models.Referral, error)

	SaveReferral(ctx context.Context, referral *models.Referral) error
	ListReferrals(ctx context.Context, referrerID uint) ([]models.Referral, error)
}
