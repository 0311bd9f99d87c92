package sqlstore

import (
	"context"
	"fmt"

	"github.com/chris/shard-rewards/pkg/models"
)

// CreateBlob inserts the blob.
func (s *Store) CreateBlob(ctx context.Context, blob *models.Blob) error {
	return translate(s.conn(ctx).Create(blob).Error)
}

// GetBlob retrieves the blob with its bytes.
func (s *Store) GetBlob(ctx context.Context, id uint) (*models.Blob, error) {
	var blob models.Blob
	if err := s.conn(ctx).First(&blob, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &blob, nil
}

// DeleteBlob removes the blob. Deleting a missing blob is not an error.
func (s *Store) DeleteBlob(ctx context.Context, id uint) error {
	if err := s.conn(ctx).Delete(&models.Blob{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
