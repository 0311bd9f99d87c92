// Package sqlitetest opens throwaway in-memory stores for tests.
package sqlitetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage/sqlstore"
)

// New returns a migrated store backed by a private in-memory SQLite database.
func New(t testing.TB) *sqlstore.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sqlstore.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return sqlstore.New(db)
}

// CreateUser inserts a user with a unique email.
func CreateUser(t testing.TB, store *sqlstore.Store) *models.User {
	t.Helper()
	user := &models.User{Email: uuid.NewString() + "@example.com", DisplayName: "Test User"}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

// CreateCampaign inserts an open campaign with the default reward amounts.
func CreateCampaign(t testing.TB, store *sqlstore.Store, slug string) *models.Campaign {
	t.Helper()
	campaign := &models.Campaign{
		Slug:                  slug,
		Name:                  slug,
		Status:                models.CampaignOpen,
		ReferralShards:        3,
		PosterShards:          1,
		RequiredCodingMinutes: 60,
	}
	require.NoError(t, store.UpsertCampaign(context.Background(), campaign))
	return campaign
}

// CreatePoster inserts a poster with random codes for the user and campaign.
func CreatePoster(t testing.TB, store *sqlstore.Store, userID, campaignID uint, mutate ...func(*models.Poster)) *models.Poster {
	t.Helper()
	code := uuid.NewString()
	poster := &models.Poster{
		UserID:             &userID,
		CampaignID:         &campaignID,
		ReferralCode:       code[:8],
		QRCodeToken:        code[24:],
		PosterType:         models.PosterColor,
		VerificationStatus: models.PosterPending,
	}
	for _, m := range mutate {
		m(poster)
	}
	require.NoError(t, store.CreatePoster(context.Background(), poster))
	return poster
}
