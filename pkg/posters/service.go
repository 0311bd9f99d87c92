// Package posters owns poster creation, proof handling and the poster
// verification state machine.
package posters

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chris/shard-rewards/pkg/campaigns"
	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/notify"
	"github.com/chris/shard-rewards/pkg/quota"
	"github.com/chris/shard-rewards/pkg/storage"
)

// ErrOrphaned is returned when a poster's user or campaign no longer exists.
var ErrOrphaned = &storage.ValidationError{Field: "poster", Message: "user or campaign has been deleted"}

// ErrLocationLocked is returned when a submitted poster's location is changed.
var ErrLocationLocked = &storage.ValidationError{Field: "location", Message: "cannot be changed after proof has been submitted"}

// ErrLocationRequired is returned when a poster without location is sent to review.
var ErrLocationRequired = &storage.ValidationError{Field: "location_description", Message: "is required when submitting proof"}

const (
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	referralCodeLength = 8
	qrTokenLength      = 12

	// createAttempts bounds retries after a code collision.
	createAttempts = 5
)

// Service runs poster operations against a transactional store.
type Service struct {
	store    storage.Store
	quota    *quota.Calculator
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a Service. A nil notifier disables notifications.
func NewService(store storage.Store, calc *quota.Calculator, notifier notify.Notifier, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if calc == nil {
		calc = quota.New(time.UTC, now)
	}
	return &Service{store: store, quota: calc, notifier: notifier, now: now}
}

// Get returns a poster by id.
func (s *Service) Get(ctx context.Context, id uint) (*models.Poster, error) {
	return s.store.GetPoster(ctx, id)
}

// CanonicalURL is the URL encoded in the poster's QR code.
func (s *Service) CanonicalURL(ctx context.Context, poster *models.Poster) (string, error) {
	if poster.CampaignID == nil {
		return "", nil
	}
	campaign, err := s.store.GetCampaign(ctx, *poster.CampaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return campaigns.ReferralURL(campaign, poster.ReferralCode), nil
}

// Summary counts the posters of a group by status.
func (s *Service) Summary(ctx context.Context, groupID uint) (models.GroupSummary, error) {
	posters, err := s.store.ListPosters(ctx, storage.PosterQuery{GroupID: &groupID})
	if err != nil {
		return models.GroupSummary{}, err
	}
	var sum models.GroupSummary
	for _, p := range posters {
		sum.Total++
		switch p.VerificationStatus {
		case models.PosterPending:
			sum.Pending++
		case models.PosterInReview:
			sum.InReview++
		case models.PosterSuccess:
			sum.Success++
		case models.PosterOnHold:
			sum.OnHold++
		case models.PosterRejected:
			sum.Rejected++
		case models.PosterDigital:
			sum.Digital++
		}
	}
	return sum, nil
}

func randomString(n int, alphabet string) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

func newCodes() (string, string, error) {
	code, err := randomString(referralCodeLength, codeAlphabet)
	if err != nil {
		return "", "", err
	}
	token, err := randomString(qrTokenLength, tokenAlphabet)
	if err != nil {
		return "", "", err
	}
	return code, token, nil
}
