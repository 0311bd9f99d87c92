package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a participant who earns and spends shards.
// Balance, ReferralCount and PosterCount are denormalized and only ever
// rewritten from the ledger or a recount, never incremented in place.
type User struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Email            string    `json:"email" gorm:"size:255;uniqueIndex;not null"`
	DisplayName      string    `json:"display_name" gorm:"size:100;not null"`
	SlackID          *string   `json:"slack_id,omitempty" gorm:"size:64;uniqueIndex"`
	Balance          int64     `json:"balance" gorm:"column:total_shards;not null;default:0"`
	ReferralCount    int64     `json:"referral_count" gorm:"not null;default:0"`
	PosterCount      int64     `json:"poster_count" gorm:"not null;default:0"`
	BonusPaidPosters int64     `json:"bonus_paid_posters" gorm:"not null;default:0"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CampaignStatus is the public visibility of a campaign.
type CampaignStatus string

const (
	CampaignOpen       CampaignStatus = "open"
	CampaignClosed     CampaignStatus = "closed"
	CampaignComingSoon CampaignStatus = "coming_soon"
)

// Campaign is read-only reference data for the reward flows.
type Campaign struct {
	ID                    uint           `json:"id" gorm:"primaryKey"`
	Slug                  string         `json:"slug" gorm:"size:64;uniqueIndex;not null"`
	Name                  string         `json:"name" gorm:"size:255;not null"`
	Subdomain             *string        `json:"subdomain,omitempty" gorm:"size:64;uniqueIndex"`
	BaseURL               string         `json:"base_url,omitempty" gorm:"size:255"`
	Status                CampaignStatus `json:"status" gorm:"size:16;not null;default:open"`
	ReferralShards        int64          `json:"referral_shards" gorm:"not null;default:3"`
	PosterShards          int64          `json:"poster_shards" gorm:"not null;default:1"`
	RequiredCodingMinutes int64          `json:"required_coding_minutes" gorm:"not null;default:60"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// EntryType is the business reason behind a ledger entry.
type EntryType string

const (
	EntryReferral         EntryType = "referral"
	EntryPoster           EntryType = "poster"
	EntryPurchase         EntryType = "purchase"
	EntryAdminGrant       EntryType = "admin_grant"
	EntryAdminDebit       EntryType = "admin_debit"
	EntryRefund           EntryType = "refund"
	EntryCustomLinkChange EntryType = "custom_link_change"
	EntryVideo            EntryType = "video"
	EntryVideoViralBonus  EntryType = "video_viral_bonus"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryReferral, EntryPoster, EntryPurchase, EntryAdminGrant, EntryAdminDebit,
		EntryRefund, EntryCustomLinkChange, EntryVideo, EntryVideoViralBonus:
		return true
	}
	return false
}

// Reference types recorded on ledger entries.
const (
	ReferencePoster   = "poster"
	ReferenceReferral = "referral"
)

// LedgerEntry is one immutable, signed movement of shards.
// The composite unique index makes a second reward for the same causing
// entity fail at the storage layer.
type LedgerEntry struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UserID        uint      `json:"user_id" gorm:"not null;index;uniqueIndex:idx_ledger_reward_once,priority:1"`
	Amount        int64     `json:"amount" gorm:"not null"`
	EntryType     EntryType `json:"entry_type" gorm:"column:transaction_type;size:32;not null;index;uniqueIndex:idx_ledger_reward_once,priority:2"`
	ReferenceType *string   `json:"reference_type,omitempty" gorm:"column:transactable_type;size:32;uniqueIndex:idx_ledger_reward_once,priority:3"`
	ReferenceID   *uint     `json:"reference_id,omitempty" gorm:"column:transactable_id;uniqueIndex:idx_ledger_reward_once,priority:4"`
	Description   string    `json:"description,omitempty" gorm:"type:text"`
	BalanceAfter  int64     `json:"balance_after" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
}

// TableName keeps the historical table name.
func (LedgerEntry) TableName() string {
	return "shard_transactions"
}

// Credit reports whether the entry added shards.
func (e LedgerEntry) Credit() bool { return e.Amount > 0 }

// Debit reports whether the entry removed shards.
func (e LedgerEntry) Debit() bool { return e.Amount < 0 }

// BadgeParticipant is awarded on the first rewarded poster or referral in a campaign.
const BadgeParticipant = "participant"

// Badge records participation in a campaign. One row per user, campaign and type.
type Badge struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserID     uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_badge_once,priority:1"`
	CampaignID uint      `json:"campaign_id" gorm:"not null;index;uniqueIndex:idx_badge_once,priority:2"`
	BadgeType  string    `json:"badge_type" gorm:"column:emblem_type;size:32;not null;uniqueIndex:idx_badge_once,priority:3"`
	EarnedAt   time.Time `json:"earned_at" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName keeps the historical table name.
func (Badge) TableName() string {
	return "user_emblems"
}

// Blob holds the bytes of an uploaded proof image.
type Blob struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Key         string    `json:"key" gorm:"size:64;uniqueIndex;not null"`
	Filename    string    `json:"filename" gorm:"size:255"`
	ContentType string    `json:"content_type" gorm:"size:64;not null"`
	ByteSize    int64     `json:"byte_size" gorm:"not null"`
	Checksum    string    `json:"checksum" gorm:"size:64;not null"`
	Data        []byte    `json:"-" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// AutoMigrate creates or updates every table used by the reward flows.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Campaign{},
		&LedgerEntry{},
		&Poster{},
		&PosterGroup{},
		&Referral{},
		&Badge{},
		&Blob{},
	)
}
