package models

import (
	"strings"
	"time"
)

// PosterStatus is the verification state of a poster.
type PosterStatus string

const (
	PosterPending  PosterStatus = "pending"
	PosterInReview PosterStatus = "in_review"
	PosterSuccess  PosterStatus = "success"
	PosterOnHold   PosterStatus = "on_hold"
	PosterRejected PosterStatus = "rejected"
	PosterDigital  PosterStatus = "digital"
)

// Terminal reports whether no further review transition can leave the status.
func (s PosterStatus) Terminal() bool {
	return s == PosterSuccess || s == PosterRejected || s == PosterDigital
}

// PosterType is the print variant of a poster.
type PosterType string

const (
	PosterColor            PosterType = "color"
	PosterBW               PosterType = "bw"
	PosterPrinterEfficient PosterType = "printer_efficient"
)

// Valid reports whether t is a known poster type.
func (t PosterType) Valid() bool {
	return t == PosterColor || t == PosterBW || t == PosterPrinterEfficient
}

// Poster metadata keys.
const (
	MetaAutoVerificationAttemptedAt = "auto_verification_attempted_at"
	MetaExpectedURL                 = "expected_url"
	MetaDetectedQRCodes             = "detected_qr_codes"
	MetaAutoVerificationResult      = "auto_verification_result"
	MetaAutoVerificationError       = "auto_verification_error"
	MetaAutoVerified                = "auto_verified"
	MetaAutoMatchedFromPosterID     = "auto_matched_from_poster_id"
	MetaAutoMatchedQRCode           = "auto_matched_qr_code"
	MetaProofTransferredToPosterID  = "proof_transferred_to_poster_id"
	MetaAutoMatchTransferAt         = "auto_match_transfer_at"
	MetaHoldReason                  = "hold_reason"
	MetaResubmissionRequested       = "resubmission_requested"
	MetaResubmissionReason          = "resubmission_reason"
	MetaResubmissionRequestedAt     = "resubmission_requested_at"
	MetaRewardSkipped               = "reward_skipped"
)

// Location describes where a physical poster was put up.
type Location struct {
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// Blank reports whether no description was given.
func (l Location) Blank() bool {
	return strings.TrimSpace(l.Description) == ""
}

// Poster is a printed flyer carrying a unique referral code and QR token.
type Poster struct {
	ID                  uint         `json:"id" gorm:"primaryKey"`
	UserID              *uint        `json:"user_id" gorm:"index;index:idx_posters_user_campaign_status,priority:1"`
	CampaignID          *uint        `json:"campaign_id" gorm:"index;index:idx_posters_user_campaign_status,priority:2"`
	PosterGroupID       *uint        `json:"poster_group_id,omitempty" gorm:"index"`
	ReferralCode        string       `json:"referral_code" gorm:"size:16;uniqueIndex;not null"`
	QRCodeToken         string       `json:"qr_code_token" gorm:"size:32;uniqueIndex;not null"`
	PosterType          PosterType   `json:"poster_type" gorm:"size:32;not null;default:color"`
	VerificationStatus  PosterStatus `json:"verification_status" gorm:"size:16;not null;default:pending;index;index:idx_posters_user_campaign_status,priority:3"`
	LocationDescription string       `json:"location_description,omitempty" gorm:"size:255"`
	Latitude            *float64     `json:"latitude,omitempty"`
	Longitude           *float64     `json:"longitude,omitempty"`
	ProofBlobID         *uint        `json:"proof_blob_id,omitempty" gorm:"index"`
	ProofAttachedAt     *time.Time   `json:"proof_attached_at,omitempty"`
	RejectionReason     string       `json:"rejection_reason,omitempty" gorm:"type:text"`
	VerifiedByID        *uint        `json:"verified_by_id,omitempty"`
	VerifiedAt          *time.Time   `json:"verified_at,omitempty"`
	Metadata            Metadata     `json:"metadata" gorm:"type:text"`
	CreatedAt           time.Time    `json:"created_at" gorm:"index"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// InGroup reports whether the poster was generated as part of a group.
func (p *Poster) InGroup() bool { return p.PosterGroupID != nil }

// HasProof reports whether a proof image is attached.
func (p *Poster) HasProof() bool { return p.ProofBlobID != nil }

// LocationEditable reports whether the location may still change.
func (p *Poster) LocationEditable() bool { return p.VerificationStatus == PosterPending }

// Location returns the poster's current location.
func (p *Poster) Location() Location {
	return Location{Description: p.LocationDescription, Latitude: p.Latitude, Longitude: p.Longitude}
}

// ResubmissionRequested reports whether a reviewer asked for a new proof.
func (p *Poster) ResubmissionRequested() bool {
	v, _ := p.Metadata[MetaResubmissionRequested].(bool)
	return v
}

// PosterGroup charsets.
const (
	CharsetAlphanumeric = "alphanumeric"
	CharsetNumeric      = "numeric"
	CharsetAlpha        = "alpha"
)

// MaxPostersPerGroup bounds the size of a poster group.
const MaxPostersPerGroup = 10

// PosterGroup is a batch of posters generated together for one campaign.
type PosterGroup struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UserID      uint      `json:"user_id" gorm:"not null;index"`
	CampaignID  uint      `json:"campaign_id" gorm:"not null;index"`
	Name        string    `json:"name,omitempty" gorm:"size:100"`
	Charset     string    `json:"charset" gorm:"size:16;default:alphanumeric"`
	PosterCount int64     `json:"poster_count" gorm:"not null;default:0"`
	Metadata    Metadata  `json:"metadata" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupSummary counts the posters of a group per status.
type GroupSummary struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	InReview int64 `json:"in_review"`
	Success  int64 `json:"success"`
	OnHold   int64 `json:"on_hold"`
	Rejected int64 `json:"rejected"`
	Digital  int64 `json:"digital"`
}

// AllSubmitted reports whether no poster in the group is still pending.
func (s GroupSummary) AllSubmitted() bool { return s.Pending == 0 }
