package campaigns

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
	"github.com/chris/shard-rewards/pkg/storage/sqlstore/sqlitetest"
)

func strPtr(s string) *string { return &s }

func TestReferralURL(t *testing.T) {
	tests := []struct {
		name     string
		campaign *models.Campaign
		want     string
	}{
		{name: "Base URL wins", campaign: &models.Campaign{Slug: "summer", BaseURL: "https://summer.example.org/", Subdomain: strPtr("ignored")}, want: "https://summer.example.org/?ref=AB12CD34"},
		{name: "Subdomain", campaign: &models.Campaign{Slug: "summer", Subdomain: strPtr("sun")}, want: "https://sun.hack.club/?ref=AB12CD34"},
		{name: "Slug fallback", campaign: &models.Campaign{Slug: "summer"}, want: "https://summer.hack.club/?ref=AB12CD34"},
		{name: "Pinned campaign ignores base URL", campaign: &models.Campaign{Slug: "flavortown", BaseURL: "https://elsewhere.dev"}, want: "https://flavortown.hack.club/?ref=AB12CD34"},
		{name: "Pinned hctg", campaign: &models.Campaign{Slug: "hctg", Subdomain: strPtr("other")}, want: "https://hctg.hack.club/?ref=AB12CD34"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ReferralURL(tc.campaign, "AB12CD34"))
		})
	}

	assert.Empty(t, ReferralURL(nil, "AB12CD34"))
}

func TestParseCatalog(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		catalog, err := ParseCatalog([]byte(`
campaigns:
  - slug: flavortown
    subdomain: flavortown
  - slug: construct
    name: Construct
    status: coming_soon
    referral_shards: 5
    required_coding_minutes: 120
`))
		require.NoError(t, err)
		require.Len(t, catalog.Campaigns, 2)

		first := catalog.Campaigns[0]
		assert.Equal(t, "flavortown", first.Name)
		assert.Equal(t, string(models.CampaignOpen), first.Status)
		assert.Equal(t, int64(DefaultReferralShards), first.ReferralShards)
		assert.Equal(t, int64(DefaultPosterShards), first.PosterShards)
		assert.Equal(t, int64(DefaultRequiredCodingMinutes), first.RequiredCodingMinutes)

		second := catalog.Campaigns[1]
		assert.Equal(t, int64(5), second.ReferralShards)
		assert.Equal(t, int64(120), second.RequiredCodingMinutes)
	})

	t.Run("Invalid entries", func(t *testing.T) {
		for _, raw := range []string{
			"campaigns:\n  - name: nameless\n",
			"campaigns:\n  - slug: a\n  - slug: a\n",
			"campaigns:\n  - slug: a\n    status: paused\n",
			"campaigns:\n  - slug: a\n    poster_shards: -1\n",
		} {
			_, err := ParseCatalog([]byte(raw))
			assert.ErrorIs(t, err, storage.ErrValidation, raw)
		}
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		_, err := ParseCatalog([]byte("campaigns: ["))
		assert.Error(t, err)
	})
}

func TestLoadAndSeed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "campaigns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("campaigns:\n  - slug: sleepover\n    poster_shards: 2\n"), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	store := sqlitetest.New(t)
	require.NoError(t, Seed(ctx, store, catalog))
	require.NoError(t, Seed(ctx, store, catalog))

	all, err := store.ListCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(2), all[0].PosterShards)
}
