package storage

import (
	"context"

	"github.com/chris/shard-rewards/pkg/models"
)

// LedgerStore appends and reads ledger entries. Entries are never updated.
type LedgerStore interface {
	// InsertLedgerEntry appends an entry. A second entry for the same user,
	// type and reference fails with ErrDuplicateReward.
	InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error

	// ListLedgerEntries returns the user's most recent entries, newest first.
	// A limit of zero returns all entries.
	ListLedgerEntries(ctx context.Context, userID uint, limit int) ([]models.LedgerEntry, error)

	// SumLedger returns the sum of every entry amount for the user.
	SumLedger(ctx context.Context, userID uint) (int64, error)

	// FindReward returns the entry of the given type referencing the entity, if any.
	FindReward(ctx context.Context, userID uint, entryType models.EntryType, referenceType string, referenceID uint) (*models.LedgerEntry, error)
}
