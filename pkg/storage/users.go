package storage

import (
	"context"

	"github.com/chris/shard-rewards/pkg/models"
)

// UserStore reads and maintains users and their denormalized counters.
type UserStore interface {
	// GetUser retrieves a user without locking.
	GetUser(ctx context.Context, id uint) (*models.User, error)

	// LockUser retrieves a user and holds a row lock until the transaction ends.
	LockUser(ctx context.Context, id uint) (*models.User, error)

	CreateUser(ctx context.Context, user *models.User) error
	ListUserIDs(ctx context.Context) ([]uint, error)

	// SetUserBalance overwrites the cached balance.
	SetUserBalance(ctx context.Context, id uint, balance int64) error

	// RecountPosters rewrites poster_count from the user's successful posters.
	RecountPosters(ctx context.Context, userID uint) (int64, error)

	// RecountReferrals rewrites referral_count from the user's completed referrals.
	RecountReferrals(ctx context.Context, userID uint) (int64, error)
}

// CampaignStore reads campaign reference data.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id uint) (*models.Campaign, error)
	GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)

	// UpsertCampaign inserts a campaign or updates the one with the same slug.
	UpsertCampaign(ctx context.Context, campaign *models.Campaign) error
}

// BadgeStore records participation badges.
type BadgeStore interface {
	// UpsertBadge inserts the badge unless one exists for the same user,
	// campaign and type. It reports whether a row was created.
	UpsertBadge(ctx context.Context, badge *models.Badge) (bool, error)
	ListBadges(ctx context.Context, userID uint) ([]models.Badge, error)
}

// BlobStore holds proof image bytes.
type BlobStore interface {
	CreateBlob(ctx context.Context, blob *models.Blob) error
	GetBlob(ctx context.Context, id uint) (*models.Blob, error)
	DeleteBlob(ctx context.Context, id uint) error
}
