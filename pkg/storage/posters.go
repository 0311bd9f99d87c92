package storage

import (
	"context"
	"time"

	"github.com/chris/shard-rewards/pkg/models"
)

// PosterQuery filters posters. Zero-valued fields are ignored.
// Results are always ordered by ascending id.
type PosterQuery struct {
	UserID     *uint
	CampaignID *uint
	GroupID    *uint
	// Standalone restricts the result to posters outside any group.
	Standalone      bool
	Statuses        []models.PosterStatus
	ExcludeStatuses []models.PosterStatus
	ExcludeIDs      []uint
	CreatedFrom     *time.Time
	CreatedBefore   *time.Time
	// ProofAttachedBefore restricts the result to posters with a proof
	// attached before the given instant.
	ProofAttachedBefore *time.Time
	Limit               int
}

// PosterStore persists posters.
type PosterStore interface {
	GetPoster(ctx context.Context, id uint) (*models.Poster, error)

	// LockPoster retrieves a poster and holds a row lock until the transaction ends.
	LockPoster(ctx context.Context, id uint) (*models.Poster, error)

	GetPosterByReferralCode(ctx context.Context, code string) (*models.Poster, error)

	// CreatePoster inserts a poster. A code or token collision fails with ErrDuplicateKey.
	CreatePoster(ctx context.Context, poster *models.Poster) error
	SavePoster(ctx context.Context, poster *models.Poster) error
	ListPosters(ctx context.Context, q PosterQuery) ([]models.Poster, error)
	CountPosters(ctx context.Context, q PosterQuery) (int64, error)

	// CountBlobReferences counts posters whose proof points at the blob.
	CountBlobReferences(ctx context.Context, blobID uint) (int64, error)
}

// PosterGroupStore persists poster groups.
type PosterGroupStore interface {
	CreatePosterGroup(ctx context.Context, group *models.PosterGroup) error
	GetPosterGroup(ctx context.Context, id uint) (*models.PosterGroup, error)

	// RecountGroup rewrites the group's cached poster_count.
	RecountGroup(ctx context.Context, groupID uint) (int64, error)
}
