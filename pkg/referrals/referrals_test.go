package referrals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/notify"
	"github.com/chris/shard-rewards/pkg/notify/mocks"
	"github.com/chris/shard-rewards/pkg/storage"
	"github.com/chris/shard-rewards/pkg/storage/sqlstore"
	"github.com/chris/shard-rewards/pkg/storage/sqlstore/sqlitetest"
)

type fixture struct {
	store    *sqlstore.Store
	svc      *Service
	user     *models.User
	campaign *models.Campaign
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := sqlitetest.New(t)
	return &fixture{
		store:    store,
		svc:      NewService(store, nil, nil),
		user:     sqlitetest.CreateUser(t, store),
		campaign: sqlitetest.CreateCampaign(t, store, "summer"),
	}
}

func (f *fixture) referral(t *testing.T, identifier string) *models.Referral {
	t.Helper()
	r, err := f.svc.Create(context.Background(), CreateInput{ReferrerID: f.user.ID, CampaignID: f.campaign.ID, ReferredIdentifier: identifier})
	require.NoError(t, err)
	return r
}

func (f *fixture) verified(t *testing.T, identifier string) *models.Referral {
	t.Helper()
	r, err := f.svc.VerifyIdentity(context.Background(), f.referral(t, identifier).ID)
	require.NoError(t, err)
	return r
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("Defaults", func(t *testing.T) {
		r := f.referral(t, "U123")

		assert.Equal(t, models.ReferralPending, r.Status)
		assert.Equal(t, models.ReferralLink, r.ReferralType)
	})

	tests := []struct {
		name string
		in   CreateInput
	}{
		{name: "Duplicate identifier", in: CreateInput{ReferrerID: f.user.ID, CampaignID: f.campaign.ID, ReferredIdentifier: "U123"}},
		{name: "Blank identifier", in: CreateInput{ReferrerID: f.user.ID, CampaignID: f.campaign.ID, ReferredIdentifier: "  "}},
		{name: "Unknown type", in: CreateInput{ReferrerID: f.user.ID, CampaignID: f.campaign.ID, ReferredIdentifier: "U9", ReferralType: "billboard"}},
		{name: "Unknown campaign", in: CreateInput{ReferrerID: f.user.ID, CampaignID: 999, ReferredIdentifier: "U9"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.in)

			assert.ErrorIs(t, err, storage.ErrValidation)
		})
	}
}

func TestVerifyIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.referral(t, "U1")

	got, err := f.svc.VerifyIdentity(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralIDVerified, got.Status)
	require.NotNil(t, got.VerifiedAt)
	first := *got.VerifiedAt

	got, err = f.svc.VerifyIdentity(ctx, r.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, first, *got.VerifiedAt, time.Millisecond)
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("Below threshold is a no-op", func(t *testing.T) {
		f := newFixture(t)
		r := f.verified(t, "U1")

		result, err := f.svc.Complete(ctx, r.ID)

		require.NoError(t, err)
		assert.False(t, result.Changed)
		assert.Equal(t, models.ReferralIDVerified, result.Referral.Status)
		user, err := f.store.GetUser(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, user.Balance)
	})

	t.Run("Pending referral is not completed", func(t *testing.T) {
		f := newFixture(t)
		r := f.referral(t, "U1")
		_, err := f.svc.UpdateTrackedTime(ctx, r.ID, 120)
		require.NoError(t, err)

		result, err := f.svc.Complete(ctx, r.ID)

		require.NoError(t, err)
		assert.False(t, result.Changed)
		assert.Equal(t, models.ReferralPending, result.Referral.Status)
		assert.Equal(t, int64(120), result.Referral.TrackedMinutes)
	})

	t.Run("Tracked time completes and credits once", func(t *testing.T) {
		f := newFixture(t)
		r := f.verified(t, "U1")

		result, err := f.svc.UpdateTrackedTime(ctx, r.ID, 60)

		require.NoError(t, err)
		assert.True(t, result.Changed)
		assert.Equal(t, models.ReferralCompleted, result.Referral.Status)
		assert.NotNil(t, result.Referral.CompletedAt)
		require.NotNil(t, result.Reward)
		assert.Equal(t, f.campaign.ReferralShards, result.Reward.Amount)

		user, err := f.store.GetUser(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, f.campaign.ReferralShards, user.Balance)
		assert.Equal(t, int64(1), user.ReferralCount)
		badges, err := f.store.ListBadges(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Len(t, badges, 1)

		again, err := f.svc.Complete(ctx, r.ID)
		require.NoError(t, err)
		assert.False(t, again.Changed)
		later, err := f.svc.UpdateTrackedTime(ctx, r.ID, 500)
		require.NoError(t, err)
		assert.False(t, later.Changed)
		assert.Equal(t, models.ReferralCompleted, later.Referral.Status)
		entries, err := f.store.ListLedgerEntries(ctx, f.user.ID, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Concurrent completions credit once", func(t *testing.T) {
		f := newFixture(t)
		r := f.verified(t, "U1")
		_, err := f.svc.UpdateTrackedTime(ctx, r.ID, 30)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.UpdateTrackedTime(ctx, r.ID, 90)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		entries, err := f.store.ListLedgerEntries(ctx, f.user.ID, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Notification failure keeps the completion", func(t *testing.T) {
		f := newFixture(t)
		notifier := mocks.NewNotifier(t)
		f.svc = NewService(f.store, notifier, nil)
		r := f.verified(t, "U1")
		notifier.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
			return m.Kind == notify.KindReferralCompleted
		})).Return(errors.New("webhook timeout")).Once()
		notifier.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
			return m.Kind == notify.KindReferralForAdmin && m.UserID == notify.AdminUserID
		})).Return(nil).Once()
		notifier.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
			return m.Kind == notify.KindBalanceChanged
		})).Return(nil).Once()

		result, err := f.svc.UpdateTrackedTime(ctx, r.ID, 60)

		require.NoError(t, err)
		assert.True(t, result.Changed)
		got, err := f.svc.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReferralCompleted, got.Status)
	})

	t.Run("Negative minutes", func(t *testing.T) {
		f := newFixture(t)
		r := f.referral(t, "U1")

		_, err := f.svc.UpdateTrackedTime(ctx, r.ID, -1)

		assert.ErrorIs(t, err, storage.ErrValidation)
	})
}

func TestProgress(t *testing.T) {
	campaign := &models.Campaign{RequiredCodingMinutes: 60}
	tests := []struct {
		name     string
		referral models.Referral
		campaign *models.Campaign
		want     int
	}{
		{name: "Nothing tracked", referral: models.Referral{}, campaign: campaign, want: 0},
		{name: "Rounds", referral: models.Referral{TrackedMinutes: 20}, campaign: campaign, want: 33},
		{name: "Capped", referral: models.Referral{TrackedMinutes: 600, Status: models.ReferralIDVerified}, campaign: campaign, want: 100},
		{name: "Completed", referral: models.Referral{Status: models.ReferralCompleted}, campaign: campaign, want: 100},
		{name: "No threshold", referral: models.Referral{TrackedMinutes: 10}, campaign: &models.Campaign{}, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Progress(&tc.referral, tc.campaign))
		})
	}
}

var errRecount = errors.New("recount failed")

// failingRecounts hands out transactions whose referral recounts fail.
type failingRecounts struct {
	storage.Store
}

func (s failingRecounts) Transaction(ctx context.Context, fn func(tx storage.Repository) error) error {
	return s.Store.Transaction(ctx, func(tx storage.Repository) error {
		return fn(recountFailer{tx})
	})
}

type recountFailer struct {
	storage.Repository
}

func (recountFailer) RecountReferrals(context.Context, uint) (int64, error) {
	return 0, errRecount
}

func TestCompleteRollsBackReward(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(failingRecounts{f.store}, nil, nil)
	r := f.verified(t, "U900")

	// Act
	_, err := svc.UpdateTrackedTime(ctx, r.ID, 60)

	// Assert
	require.ErrorIs(t, err, errRecount)
	got, err := f.store.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralIDVerified, got.Status)
	assert.Nil(t, got.CompletedAt)
	entries, err := f.store.ListLedgerEntries(ctx, f.user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	user, err := f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, user.Balance)
	assert.Zero(t, user.ReferralCount)
}
