// Package quota computes how many reward-eligible posters a user may still
// have verified this calendar week. It never limits poster creation.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

const (
	// BaseWeeklyLimit is the paid poster allowance every user starts with.
	BaseWeeklyLimit = 10
	// PerReferralBonus is added for each lifetime completed referral.
	PerReferralBonus = 5
)

// Reader is the subset of storage the calculator reads. A transaction handle
// satisfies it, which is how RewardEligible joins the reward transaction.
type Reader interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	CountPosters(ctx context.Context, q storage.PosterQuery) (int64, error)
}

// Calculator evaluates weekly quotas in a fixed time zone. Weeks start on Monday.
type Calculator struct {
	loc *time.Location
	now func() time.Time
}

// New creates a Calculator. A nil location means UTC.
func New(loc *time.Location, now func() time.Time) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Calculator{loc: loc, now: now}
}

// WeeklyLimit is BASE + 5 per completed referral + the admin bonus.
func WeeklyLimit(user *models.User) int64 {
	return BaseWeeklyLimit + PerReferralBonus*user.ReferralCount + user.BonusPaidPosters
}

// Week returns the current calendar week as [start, end).
func (c *Calculator) Week() (time.Time, time.Time) {
	now := c.now().In(c.loc)
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	start := time.Date(now.Year(), now.Month(), now.Day()-daysSinceMonday, 0, 0, 0, 0, c.loc)
	return start, start.AddDate(0, 0, 7)
}

// CreatedThisWeek counts the user's posters created this week, excluding rejected ones.
func (c *Calculator) CreatedThisWeek(ctx context.Context, r Reader, userID uint) (int64, error) {
	start, end := c.Week()
	return r.CountPosters(ctx, storage.PosterQuery{
		UserID:          &userID,
		CreatedFrom:     &start,
		CreatedBefore:   &end,
		ExcludeStatuses: []models.PosterStatus{models.PosterRejected},
	})
}

// SuccessfulThisWeek counts the user's successful posters created this week,
// excluding the given poster ids.
func (c *Calculator) SuccessfulThisWeek(ctx context.Context, r Reader, userID uint, exclude ...uint) (int64, error) {
	start, end := c.Week()
	return r.CountPosters(ctx, storage.PosterQuery{
		UserID:        &userID,
		CreatedFrom:   &start,
		CreatedBefore: &end,
		Statuses:      []models.PosterStatus{models.PosterSuccess},
		ExcludeIDs:    exclude,
	})
}

// Remaining is max(limit - created this week, 0).
func (c *Calculator) Remaining(ctx context.Context, r Reader, user *models.User) (int64, error) {
	created, err := c.CreatedThisWeek(ctx, r, user.ID)
	if err != nil {
		return 0, err
	}
	return max(WeeklyLimit(user)-created, 0), nil
}

// RewardEligible reports whether verifying posterID should still pay out.
// It must run inside the reward transaction, after the user row is locked,
// so concurrent verifications cannot both see room under the cap.
func (c *Calculator) RewardEligible(ctx context.Context, tx Reader, user *models.User, posterID uint) (bool, error) {
	successful, err := c.SuccessfulThisWeek(ctx, tx, user.ID, posterID)
	if err != nil {
		return false, fmt.Errorf("failed to count successful posters: %w", err)
	}
	return successful < WeeklyLimit(user), nil
}

// Summary is a user's quota for the current week.
type Summary struct {
	UserID             uint      `json:"user_id"`
	WeeklyLimit        int64     `json:"weekly_limit"`
	ReferralBonus      int64     `json:"referral_bonus"`
	AdminBonus         int64     `json:"admin_bonus"`
	CreatedThisWeek    int64     `json:"created_this_week"`
	SuccessfulThisWeek int64     `json:"successful_this_week"`
	Remaining          int64     `json:"remaining"`
	NextPosterPaid     bool      `json:"next_poster_paid"`
	WeekStart          time.Time `json:"week_start"`
	WeekEnd            time.Time `json:"week_end"`
}

// Lookup builds the user's quota summary outside any transaction.
func (c *Calculator) Lookup(ctx context.Context, r Reader, userID uint) (*Summary, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	created, err := c.CreatedThisWeek(ctx, r, userID)
	if err != nil {
		return nil, err
	}
	successful, err := c.SuccessfulThisWeek(ctx, r, userID)
	if err != nil {
		return nil, err
	}

	limit := WeeklyLimit(user)
	start, end := c.Week()
	return &Summary{
		UserID:             userID,
		WeeklyLimit:        limit,
		ReferralBonus:      PerReferralBonus * user.ReferralCount,
		AdminBonus:         user.BonusPaidPosters,
		CreatedThisWeek:    created,
		SuccessfulThisWeek: successful,
		Remaining:          max(limit-created, 0),
		NextPosterPaid:     created < limit,
		WeekStart:          start,
		WeekEnd:            end,
	}, nil
}
