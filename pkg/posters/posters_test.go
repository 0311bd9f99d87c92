package posters

import (
	"context"
	"errors"
	"sync"
	"testing"

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
		svc:      NewService(store, nil, nil, nil),
		user:     sqlitetest.CreateUser(t, store),
		campaign: sqlitetest.CreateCampaign(t, store, "construct"),
	}
}

func (f *fixture) poster(t *testing.T, mutate ...func(*models.Poster)) *models.Poster {
	t.Helper()
	return sqlitetest.CreatePoster(t, f.store, f.user.ID, f.campaign.ID, mutate...)
}

func withStatus(status models.PosterStatus) func(*models.Poster) {
	return func(p *models.Poster) { p.VerificationStatus = status }
}

func withLocation(desc string) func(*models.Poster) {
	return func(p *models.Poster) { p.LocationDescription = desc }
}

func png() Upload {
	return Upload{Filename: "proof.png", ContentType: "image/png", Data: []byte("\x89PNG fake image")}
}

func TestCreatePoster(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("Creates pending poster with codes", func(t *testing.T) {
		poster, err := f.svc.CreatePoster(ctx, CreateInput{UserID: f.user.ID, CampaignID: f.campaign.ID})

		require.NoError(t, err)
		assert.Equal(t, models.PosterPending, poster.VerificationStatus)
		assert.Equal(t, models.PosterColor, poster.PosterType)
		assert.Len(t, poster.ReferralCode, referralCodeLength)
		assert.Len(t, poster.QRCodeToken, qrTokenLength)
		assert.False(t, poster.InGroup())
	})

	t.Run("Unknown user", func(t *testing.T) {
		_, err := f.svc.CreatePoster(ctx, CreateInput{UserID: 9999, CampaignID: f.campaign.ID})

		assert.ErrorIs(t, err, storage.ErrValidation)
	})

	t.Run("Unknown poster type", func(t *testing.T) {
		_, err := f.svc.CreatePoster(ctx, CreateInput{UserID: f.user.ID, CampaignID: f.campaign.ID, PosterType: "neon"})

		assert.ErrorIs(t, err, storage.ErrValidation)
	})

	t.Run("Creation ignores the weekly quota", func(t *testing.T) {
		for i := 0; i < 12; i++ {
			_, err := f.svc.CreatePoster(ctx, CreateInput{UserID: f.user.ID, CampaignID: f.campaign.ID})
			require.NoError(t, err)
		}
	})
}

func TestCreateGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("Creates posters in one group", func(t *testing.T) {
		group, posters, err := f.svc.CreateGroup(ctx, GroupInput{UserID: f.user.ID, CampaignID: f.campaign.ID, Count: 3, Name: "Library"})

		require.NoError(t, err)
		assert.Equal(t, int64(3), group.PosterCount)
		require.Len(t, posters, 3)
		for _, p := range posters {
			assert.Equal(t, group.ID, *p.PosterGroupID)
		}
		sum, err := f.svc.Summary(ctx, group.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GroupSummary{Total: 3, Pending: 3}, sum)
	})

	for _, count := range []int{0, models.MaxPostersPerGroup + 1} {
		_, _, err := f.svc.CreateGroup(ctx, GroupInput{UserID: f.user.ID, CampaignID: f.campaign.ID, Count: count})
		assert.ErrorIs(t, err, storage.ErrValidation, "count %d", count)
	}

	t.Run("Unknown charset", func(t *testing.T) {
		_, _, err := f.svc.CreateGroup(ctx, GroupInput{UserID: f.user.ID, CampaignID: f.campaign.ID, Count: 1, Charset: "emoji"})

		assert.ErrorIs(t, err, storage.ErrValidation)
	})
}

func TestLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("Editable while pending", func(t *testing.T) {
		poster := f.poster(t)

		updated, err := f.svc.UpdateLocation(ctx, poster.ID, models.Location{Description: "Cafe board"})

		require.NoError(t, err)
		assert.Equal(t, "Cafe board", updated.LocationDescription)
	})

	t.Run("Locked after submission", func(t *testing.T) {
		poster := f.poster(t, withStatus(models.PosterInReview), withLocation("Library"))

		_, err := f.svc.UpdateLocation(ctx, poster.ID, models.Location{Description: "Somewhere else"})

		assert.ErrorIs(t, err, ErrLocationLocked)
		got, err := f.store.GetPoster(ctx, poster.ID)
		require.NoError(t, err)
		assert.Equal(t, "Library", got.LocationDescription)
	})

	t.Run("Unchanged location is accepted after submission", func(t *testing.T) {
		poster := f.poster(t, withStatus(models.PosterInReview), withLocation("Library"))

		_, err := f.svc.UpdateLocation(ctx, poster.ID, models.Location{Description: "Library"})

		assert.NoError(t, err)
	})

	t.Run("Review requires location", func(t *testing.T) {
		poster := f.poster(t)

		_, err := f.svc.MarkForReview(ctx, poster.ID, nil)

		assert.ErrorIs(t, err, ErrLocationRequired)
	})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	poster := f.poster(t)

	got, err := f.svc.Submit(ctx, poster.ID, models.Location{Description: "Bus stop"}, png())

	require.NoError(t, err)
	assert.Equal(t, models.PosterInReview, got.VerificationStatus)
	assert.True(t, got.HasProof())
	blob, err := f.svc.ProofImage(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, png().Data, blob.Data)
}

func TestAttachProof(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("Rejects non images", func(t *testing.T) {
		poster := f.poster(t)

		_, err := f.svc.AttachProof(ctx, poster.ID, Upload{ContentType: "application/pdf", Data: []byte("x")})

		assert.ErrorIs(t, err, storage.ErrValidation)
	})

	t.Run("Rejects 10MB", func(t *testing.T) {
		poster := f.poster(t)

		_, err := f.svc.AttachProof(ctx, poster.ID, Upload{ContentType: "image/jpeg", Data: make([]byte, MaxProofBytes)})

		assert.ErrorIs(t, err, storage.ErrValidation)
	})

	t.Run("Replacing purges the previous proof", func(t *testing.T) {
		poster := f.poster(t)
		first, err := f.svc.AttachProof(ctx, poster.ID, png())
		require.NoError(t, err)
		oldBlob := *first.ProofBlobID

		second, err := f.svc.AttachProof(ctx, poster.ID, png())

		require.NoError(t, err)
		assert.NotEqual(t, oldBlob, *second.ProofBlobID)
		_, err = f.store.GetBlob(ctx, oldBlob)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Only while pending", func(t *testing.T) {
		poster := f.poster(t, withStatus(models.PosterSuccess))

		_, err := f.svc.AttachProof(ctx, poster.ID, png())

		assert.ErrorIs(t, err, storage.ErrValidation)
	})
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("Credits once and awards a badge", func(t *testing.T) {
		f := newFixture(t)
		poster := f.poster(t, withStatus(models.PosterInReview), withLocation("Library"))

		result, err := f.svc.Verify(ctx, poster.ID, 42)

		require.NoError(t, err)
		assert.True(t, result.Changed)
		require.NotNil(t, result.Reward)
		assert.Equal(t, f.campaign.PosterShards, result.Reward.Amount)
		assert.Equal(t, models.PosterSuccess, result.Poster.VerificationStatus)
		assert.Equal(t, uint(42), *result.Poster.VerifiedByID)
		assert.NotNil(t, result.Poster.VerifiedAt)

		user, err := f.store.GetUser(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, f.campaign.PosterShards, user.Balance)
		assert.Equal(t, int64(1), user.PosterCount)
		badges, err := f.store.ListBadges(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Len(t, badges, 1)
	})

	t.Run("Second call is a no-op", func(t *testing.T) {
		f := newFixture(t)
		poster := f.poster(t, withStatus(models.PosterInReview))
		_, err := f.svc.Verify(ctx, poster.ID, 1)
		require.NoError(t, err)

		result, err := f.svc.Verify(ctx, poster.ID, 1)

		require.NoError(t, err)
		assert.False(t, result.Changed)
		assert.Nil(t, result.Reward)
		entries, err := f.store.ListLedgerEntries(ctx, f.user.ID, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Concurrent verifications credit once", func(t *testing.T) {
		f := newFixture(t)
		poster := f.poster(t, withStatus(models.PosterInReview))

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.Verify(ctx, poster.ID, 1)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		entries, err := f.store.ListLedgerEntries(ctx, f.user.ID, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		user, err := f.store.GetUser(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, f.campaign.PosterShards, user.Balance)
	})

	t.Run("Over weekly limit succeeds without credit", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 10; i++ {
			f.poster(t, withStatus(models.PosterSuccess))
		}
		poster := f.poster(t, withStatus(models.PosterInReview))

		result, err := f.svc.Verify(ctx, poster.ID, 1)

		require.NoError(t, err)
		assert.True(t, result.Changed)
		assert.Nil(t, result.Reward)
		assert.Equal(t, models.PosterSuccess, result.Poster.VerificationStatus)
		assert.Equal(t, "weekly_limit_reached", result.Poster.Metadata.String(models.MetaRewardSkipped))
		user, err := f.store.GetUser(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, user.Balance)
		assert.Equal(t, int64(11), user.PosterCount)
	})

	t.Run("Referral bonus raises the limit", func(t *testing.T) {
		f := newFixture(t)
		f.user = &models.User{Email: "referrer@example.com", DisplayName: "Referrer", ReferralCount: 1}
		require.NoError(t, f.store.CreateUser(ctx, f.user))
		for i := 0; i < 10; i++ {
			f.poster(t, withStatus(models.PosterSuccess))
		}
		poster := f.poster(t, withStatus(models.PosterInReview))

		result, err := f.svc.Verify(ctx, poster.ID, 1)

		require.NoError(t, err)
		assert.NotNil(t, result.Reward)
	})

	t.Run("Orphaned poster fails", func(t *testing.T) {
		f := newFixture(t)
		poster := f.poster(t, withStatus(models.PosterInReview), func(p *models.Poster) { p.CampaignID = nil })

		_, err := f.svc.Verify(ctx, poster.ID, 1)

		assert.ErrorIs(t, err, ErrOrphaned)
		got, err := f.store.GetPoster(ctx, poster.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PosterInReview, got.VerificationStatus)
	})

	t.Run("Rejected poster stays rejected", func(t *testing.T) {
		f := newFixture(t)
		poster := f.poster(t, withStatus(models.PosterRejected))

		result, err := f.svc.Verify(ctx, poster.ID, 1)

		require.NoError(t, err)
		assert.False(t, result.Changed)
		assert.Equal(t, models.PosterRejected, result.Poster.VerificationStatus)
	})
}

func TestVerifyNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	notifier := mocks.NewNotifier(t)
	f.svc = NewService(f.store, nil, notifier, nil)
	poster := f.poster(t, withStatus(models.PosterInReview))

	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Kind == notify.KindPosterVerified && m.UserID == f.user.ID
	})).Return(errors.New("slack is down")).Once()
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Kind == notify.KindBalanceChanged
	})).Return(nil).Once()

	result, err := f.svc.Verify(ctx, poster.ID, 1)

	require.NoError(t, err)
	assert.True(t, result.Changed)
}

func TestTransferProof(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	source := f.poster(t, withLocation("Hallway"))
	source, err := f.svc.AttachProof(ctx, source.ID, png())
	require.NoError(t, err)
	target := f.poster(t)

	result, err := f.svc.TransferProof(ctx, target.ID, AutoMatch{SourcePosterID: source.ID, QRCode: target.ReferralCode, DetectedCodes: []string{target.ReferralCode}})

	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.NotNil(t, result.Reward)
	assert.Equal(t, models.PosterSuccess, result.Poster.VerificationStatus)
	assert.Equal(t, *source.ProofBlobID, *result.Poster.ProofBlobID)
	assert.Equal(t, "Hallway", result.Poster.LocationDescription)
	assert.Equal(t, true, result.Poster.Metadata[models.MetaAutoVerified])
	matchedFrom, ok := result.Poster.Metadata.Uint(models.MetaAutoMatchedFromPosterID)
	assert.True(t, ok)
	assert.Equal(t, source.ID, matchedFrom)

	got, err := f.store.GetPoster(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PosterPending, got.VerificationStatus)
	transferredTo, ok := got.Metadata.Uint(models.MetaProofTransferredToPosterID)
	assert.True(t, ok)
	assert.Equal(t, target.ID, transferredTo)

	t.Run("Target must be pending", func(t *testing.T) {
		other := f.poster(t, withStatus(models.PosterInReview))

		result, err := f.svc.TransferProof(ctx, other.ID, AutoMatch{SourcePosterID: source.ID})

		require.NoError(t, err)
		assert.False(t, result.Changed)
	})
}

func TestReviewTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("Hold stores the reason", func(t *testing.T) {
		poster := f.poster(t, withStatus(models.PosterInReview))

		got, err := f.svc.Hold(ctx, poster.ID, "blurry photo", nil)

		require.NoError(t, err)
		assert.Equal(t, models.PosterOnHold, got.VerificationStatus)
		assert.Equal(t, "blurry photo", got.Metadata.String(models.MetaHoldReason))
	})

	t.Run("Reject is terminal", func(t *testing.T) {
		poster := f.poster(t, withStatus(models.PosterOnHold))

		got, err := f.svc.Reject(ctx, poster.ID, "not a poster", 7)
		require.NoError(t, err)
		assert.Equal(t, models.PosterRejected, got.VerificationStatus)
		assert.Equal(t, "not a poster", got.RejectionReason)

		got, err = f.svc.Hold(ctx, poster.ID, "again", nil)
		require.NoError(t, err)
		assert.Equal(t, models.PosterRejected, got.VerificationStatus)
	})

	t.Run("Resubmission purges the proof", func(t *testing.T) {
		poster, err := f.svc.Submit(ctx, f.poster(t).ID, models.Location{Description: "Gym"}, png())
		require.NoError(t, err)
		blobID := *poster.ProofBlobID

		got, err := f.svc.RequestResubmission(ctx, poster.ID, "QR not visible", 7)

		require.NoError(t, err)
		assert.Equal(t, models.PosterPending, got.VerificationStatus)
		assert.False(t, got.HasProof())
		assert.True(t, got.ResubmissionRequested())
		assert.Equal(t, "QR not visible", got.Metadata.String(models.MetaResubmissionReason))
		assert.NotEmpty(t, got.Metadata.String(models.MetaResubmissionRequestedAt))
		_, err = f.store.GetBlob(ctx, blobID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		got, err = f.svc.AttachProof(ctx, poster.ID, png())
		require.NoError(t, err)
		assert.False(t, got.ResubmissionRequested())
	})

	t.Run("Resubmission from pending is a no-op", func(t *testing.T) {
		poster := f.poster(t)

		got, err := f.svc.RequestResubmission(ctx, poster.ID, "", 7)

		require.NoError(t, err)
		assert.False(t, got.ResubmissionRequested())
	})

	t.Run("Digital without proof", func(t *testing.T) {
		poster := f.poster(t)

		got, err := f.svc.MarkDigital(ctx, poster.ID, 7)

		require.NoError(t, err)
		assert.Equal(t, models.PosterDigital, got.VerificationStatus)
		entries, err := f.store.ListLedgerEntries(ctx, f.user.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Digital requires pending", func(t *testing.T) {
		poster := f.poster(t, withStatus(models.PosterInReview))

		got, err := f.svc.MarkDigital(ctx, poster.ID, 7)

		require.NoError(t, err)
		assert.Equal(t, models.PosterInReview, got.VerificationStatus)
	})
}

var errBadgeWrite = errors.New("badge write failed")

// failingBadges hands out transactions whose badge writes fail.
type failingBadges struct {
	storage.Store
}

func (s failingBadges) Transaction(ctx context.Context, fn func(tx storage.Repository) error) error {
	return s.Store.Transaction(ctx, func(tx storage.Repository) error {
		return fn(badgeFailer{tx})
	})
}

type badgeFailer struct {
	storage.Repository
}

func (badgeFailer) UpsertBadge(context.Context, *models.Badge) (bool, error) {
	return false, errBadgeWrite
}

func TestVerifyRollsBackReward(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(failingBadges{f.store}, nil, nil, nil)
	poster := f.poster(t, withStatus(models.PosterInReview))

	// Act
	_, err := svc.Verify(ctx, poster.ID, 42)

	// Assert
	require.ErrorIs(t, err, errBadgeWrite)
	got, err := f.store.GetPoster(ctx, poster.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PosterInReview, got.VerificationStatus)
	assert.Nil(t, got.VerifiedAt)
	entries, err := f.store.ListLedgerEntries(ctx, f.user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	user, err := f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, user.Balance)
	assert.Zero(t, user.PosterCount)
}
