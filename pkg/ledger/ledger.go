// Package ledger appends signed shard movements and keeps each user's cached
// balance equal to the sum of their entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chris/shard-rewards/pkg/metrics"
	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

// Reference points an entry at the entity that caused it.
type Reference struct {
	Type string
	ID   uint
}

// PosterReference references a poster.
func PosterReference(id uint) *Reference {
	return &Reference{Type: models.ReferencePoster, ID: id}
}

// ReferralReference references a referral.
func ReferralReference(id uint) *Reference {
	return &Reference{Type: models.ReferenceReferral, ID: id}
}

// Ledger opens its own transaction per call. Use Apply to join a caller's transaction.
type Ledger struct {
	store storage.Store
}

// New creates a Ledger.
func New(store storage.Store) *Ledger {
	return &Ledger{store: store}
}

// Credit adds a positive amount to the user's balance.
func (l *Ledger) Credit(ctx context.Context, userID uint, amount int64, entryType models.EntryType, ref *Reference, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, storage.Invalid("amount", "must be positive, got %d", amount)
	}
	return l.apply(ctx, userID, amount, entryType, ref, description)
}

// Debit removes a positive amount from the user's balance. It fails with
// storage.ErrInsufficientBalance, leaving the balance untouched, when the
// amount exceeds the current balance.
func (l *Ledger) Debit(ctx context.Context, userID uint, amount int64, entryType models.EntryType, ref *Reference, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, storage.Invalid("amount", "must be positive, got %d", amount)
	}
	return l.apply(ctx, userID, -amount, entryType, ref, description)
}

func (l *Ledger) apply(ctx context.Context, userID uint, amount int64, entryType models.EntryType, ref *Reference, description string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := l.store.Transaction(ctx, func(tx storage.Repository) error {
		var err error
		entry, err = Apply(ctx, tx, userID, amount, entryType, ref, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordLedger(string(entryType), amount)
	return entry, nil
}

// Apply appends a signed entry inside the caller's transaction. It locks the
// user row, so callers that also lock a poster or referral must call Apply
// (or LockUser) first.
func Apply(ctx context.Context, tx storage.Repository, userID uint, amount int64, entryType models.EntryType, ref *Reference, description string) (*models.LedgerEntry, error) {
	if !entryType.Valid() {
		return nil, storage.Invalid("entry_type", "unknown type %q", entryType)
	}
	if amount == 0 {
		return nil, storage.Invalid("amount", "must not be zero")
	}

	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock user %d: %w", userID, err)
	}

	balance := user.Balance + amount
	if amount < 0 && balance < 0 {
		return nil, fmt.Errorf("user %d has %d shards, needs %d: %w", userID, user.Balance, -amount, storage.ErrInsufficientBalance)
	}

	entry := &models.LedgerEntry{
		UserID:       userID,
		Amount:       amount,
		EntryType:    entryType,
		Description:  strings.TrimSpace(description),
		BalanceAfter: balance,
	}
	if ref != nil {
		refType, refID := ref.Type, ref.ID
		entry.ReferenceType = &refType
		entry.ReferenceID = &refID
	}

	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.SetUserBalance(ctx, userID, balance); err != nil {
		return nil, err
	}
	return entry, nil
}

// Balance returns the user's cached balance.
func (l *Ledger) Balance(ctx context.Context, userID uint) (int64, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// Entries returns the user's most recent entries, newest first.
func (l *Ledger) Entries(ctx context.Context, userID uint, limit int) ([]models.LedgerEntry, error) {
	return l.store.ListLedgerEntries(ctx, userID, limit)
}

// Discrepancy describes a user whose cached balance drifted from the ledger.
type Discrepancy struct {
	UserID uint  `json:"user_id"`
	Cached int64 `json:"cached"`
	Ledger int64 `json:"ledger"`
}

// Audit compares the cached balance with the ledger sum. When repair is set,
// the cached balance is rewritten from the ledger under the user lock.
func (l *Ledger) Audit(ctx context.Context, userID uint, repair bool) (*Discrepancy, error) {
	var found *Discrepancy
	err := l.store.Transaction(ctx, func(tx storage.Repository) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := tx.SumLedger(ctx, userID)
		if err != nil {
			return err
		}
		if sum == user.Balance {
			return nil
		}
		found = &Discrepancy{UserID: userID, Cached: user.Balance, Ledger: sum}
		if !repair {
			return nil
		}
		return tx.SetUserBalance(ctx, userID, sum)
	})
	if err != nil {
		return nil, err
	}
	if found != nil {
		metrics.AuditMismatches.Inc()
		slog.WarnContext(ctx, "ledger balance mismatch", "user_id", found.UserID, "cached", found.Cached, "ledger", found.Ledger, "repaired", repair)
	}
	return found, nil
}

// IsDuplicate reports whether err means the reward was already issued.
func IsDuplicate(err error) bool {
	return errors.Is(err, storage.ErrDuplicateReward)
}
