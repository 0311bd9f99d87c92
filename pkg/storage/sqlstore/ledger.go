package sqlstore

import (
	"context"
	"fmt"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

// InsertLedgerEntry appends an entry, mapping a reward-index collision to ErrDuplicateReward.
func (s *Store) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if err := s.conn(ctx).Create(entry).Error; err != nil {
		if isDuplicate(err) {
			return storage.ErrDuplicateReward
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// ListLedgerEntries returns the user's entries, newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, userID uint, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := s.conn(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// SumLedger returns the sum of the user's entry amounts.
func (s *Store) SumLedger(ctx context.Context, userID uint) (int64, error) {
	var sum int64
	err := s.conn(ctx).Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

// FindReward returns the entry of the given type referencing the entity.
func (s *Store) FindReward(ctx context.Context, userID uint, entryType models.EntryType, referenceType string, referenceID uint) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.conn(ctx).
		Where("user_id = ? AND transaction_type = ? AND transactable_type = ? AND transactable_id = ?",
			userID, entryType, referenceType, referenceID).
		First(&entry).Error
	if err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}
