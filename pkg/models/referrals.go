package models

import "time"

// ReferralStatus is ordinal: a referral only ever moves to a higher value.
type ReferralStatus int

const (
	ReferralPending    ReferralStatus = 0
	ReferralIDVerified ReferralStatus = 1
	ReferralCompleted  ReferralStatus = 2
)

// String returns the wire name of the status.
func (s ReferralStatus) String() string {
	switch s {
	case ReferralPending:
		return "pending"
	case ReferralIDVerified:
		return "id_verified"
	case ReferralCompleted:
		return "completed"
	}
	return "unknown"
}

// ReferralType is how the referred person arrived.
type ReferralType string

const (
	ReferralLink   ReferralType = "link"
	ReferralPoster ReferralType = "poster"
)

// Referral is a referrer's claim to have brought an external identifier into a campaign.
type Referral struct {
	ID                 uint           `json:"id" gorm:"primaryKey"`
	ReferrerID         uint           `json:"referrer_id" gorm:"not null;index;uniqueIndex:idx_referrals_referrer_identifier,priority:1"`
	CampaignID         uint           `json:"campaign_id" gorm:"not null;index"`
	ReferredIdentifier string         `json:"referred_identifier" gorm:"size:255;not null;index;uniqueIndex:idx_referrals_referrer_identifier,priority:2"`
	Status             ReferralStatus `json:"status" gorm:"not null;default:0;index"`
	TrackedMinutes     int64          `json:"tracked_minutes" gorm:"not null;default:0"`
	ReferralType       ReferralType   `json:"referral_type" gorm:"size:16;not null;default:link"`
	VerifiedAt         *time.Time     `json:"verified_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Metadata           Metadata       `json:"metadata" gorm:"type:text"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
