package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

// GetPoster retrieves a poster by id.
func (s *Store) GetPoster(ctx context.Context, id uint) (*models.Poster, error) {
	var poster models.Poster
	if err := s.conn(ctx).First(&poster, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &poster, nil
}

// LockPoster retrieves a poster with SELECT ... FOR UPDATE.
func (s *Store) LockPoster(ctx context.Context, id uint) (*models.Poster, error) {
	var poster models.Poster
	if err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&poster, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &poster, nil
}

// GetPosterByReferralCode retrieves a poster by its referral code.
func (s *Store) GetPosterByReferralCode(ctx context.Context, code string) (*models.Poster, error) {
	var poster models.Poster
	if err := s.conn(ctx).First(&poster, "referral_code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &poster, nil
}

// CreatePoster inserts a poster.
func (s *Store) CreatePoster(ctx context.Context, poster *models.Poster) error {
	return translate(s.conn(ctx).Create(poster).Error)
}

// SavePoster writes every column of the poster.
func (s *Store) SavePoster(ctx context.Context, poster *models.Poster) error {
	if err := s.conn(ctx).Save(poster).Error; err != nil {
		return fmt.Errorf("failed to save poster %d: %w", poster.ID, translate(err))
	}
	return nil
}

// ListPosters returns the posters matching q in ascending id order.
func (s *Store) ListPosters(ctx context.Context, q storage.PosterQuery) ([]models.Poster, error) {
	var posters []models.Poster
	db := posterScope(s.conn(ctx), q).Order("id ASC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if err := db.Find(&posters).Error; err != nil {
		return nil, fmt.Errorf("failed to list posters: %w", err)
	}
	return posters, nil
}

// CountPosters counts the posters matching q.
func (s *Store) CountPosters(ctx context.Context, q storage.PosterQuery) (int64, error) {
	var n int64
	if err := posterScope(s.conn(ctx), q).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count posters: %w", err)
	}
	return n, nil
}

// CountBlobReferences counts posters whose proof points at the blob.
func (s *Store) CountBlobReferences(ctx context.Context, blobID uint) (int64, error) {
	var n int64
	if err := s.conn(ctx).Model(&models.Poster{}).Where("proof_blob_id = ?", blobID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count blob references: %w", err)
	}
	return n, nil
}

func posterScope(db *gorm.DB, q storage.PosterQuery) *gorm.DB {
	db = db.Model(&models.Poster{})
	if q.UserID != nil {
		db = db.Where("user_id = ?", *q.UserID)
	}
	if q.CampaignID != nil {
		db = db.Where("campaign_id = ?", *q.CampaignID)
	}
	if q.GroupID != nil {
		db = db.Where("poster_group_id = ?", *q.GroupID)
	}
	if q.Standalone {
		db = db.Where("poster_group_id IS NULL")
	}
	if len(q.Statuses) > 0 {
		db = db.Where("verification_status IN ?", statusStrings(q.Statuses))
	}
	if len(q.ExcludeStatuses) > 0 {
		db = db.Where("verification_status NOT IN ?", statusStrings(q.ExcludeStatuses))
	}
	if len(q.ExcludeIDs) > 0 {
		db = db.Where("id NOT IN ?", q.ExcludeIDs)
	}
	if q.CreatedFrom != nil {
		db = db.Where("created_at >= ?", q.CreatedFrom.UTC())
	}
	if q.CreatedBefore != nil {
		db = db.Where("created_at < ?", q.CreatedBefore.UTC())
	}
	if q.ProofAttachedBefore != nil {
		db = db.Where("proof_blob_id IS NOT NULL AND proof_attached_at < ?", q.ProofAttachedBefore.UTC())
	}
	return db
}

func statusStrings(statuses []models.PosterStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// CreatePosterGroup inserts a poster group.
func (s *Store) CreatePosterGroup(ctx context.Context, group *models.PosterGroup) error {
	return translate(s.conn(ctx).Create(group).Error)
}

// GetPosterGroup retrieves a poster group by id.
func (s *Store) GetPosterGroup(ctx context.Context, id uint) (*models.PosterGroup, error) {
	var group models.PosterGroup
	if err := s.conn(ctx).First(&group, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &group, nil
}

// RecountGroup rewrites the cached poster_count of the group.
func (s *Store) RecountGroup(ctx context.Context, groupID uint) (int64, error) {
	var n int64
	if err := s.conn(ctx).Model(&models.Poster{}).Where("poster_group_id = ?", groupID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count group posters: %w", err)
	}
	if err := s.conn(ctx).Model(&models.PosterGroup{}).Where("id = ?", groupID).Update("poster_count", n).Error; err != nil {
		return 0, fmt.Errorf("failed to update group poster count: %w", err)
	}
	return n, nil
}
