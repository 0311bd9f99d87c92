package app_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris/shard-rewards/pkg/app"
	"github.com/chris/shard-rewards/pkg/config"
	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/scheduler"
	"github.com/chris/shard-rewards/pkg/storage/sqlstore/sqlitetest"
)

const catalog = `
campaigns:
  - slug: spring
    name: Spring Push
    base_url: https://spring.example.com
    poster_shards: 2
`

func newApp(t *testing.T) *app.App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campaigns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))

	env := map[string]string{
		"DATABASE_DRIVER": "sqlite",
		"DATABASE_URL":    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		"CAMPAIGNS_FILE":  path,
	}
	cfg, err := config.FromEnv(func(key string) string { return env[key] })
	require.NoError(t, err)

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewWiresLocalDefaults(t *testing.T) {
	// Act
	a := newApp(t)

	// Assert
	assert.IsType(t, &scheduler.InlineScheduler{}, a.Scheduler)
	assert.NotNil(t, a.Hub)
	assert.Nil(t, a.Connections)

	campaign, err := a.Store.GetCampaignBySlug(context.Background(), "spring")
	require.NoError(t, err)
	assert.Equal(t, int64(2), campaign.PosterShards)
}

func TestRunJob(t *testing.T) {
	ctx := context.Background()
	a := newApp(t)
	campaign, err := a.Store.GetCampaignBySlug(ctx, "spring")
	require.NoError(t, err)
	user := sqlitetest.CreateUser(t, a.Store)

	t.Run("Missing poster is dropped", func(t *testing.T) {
		assert.NoError(t, a.RunJob(ctx, scheduler.Job{PosterID: 4242}))
	})

	t.Run("Poster without proof or location is held", func(t *testing.T) {
		// Arrange
		poster := sqlitetest.CreatePoster(t, a.Store, user.ID, campaign.ID)

		// Act
		err := a.Scheduler.ScheduleVerification(ctx, scheduler.Job{PosterID: poster.ID, Reason: scheduler.ReasonManual})

		// Assert
		require.NoError(t, err)
		got, err := a.Store.GetPoster(ctx, poster.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PosterOnHold, got.VerificationStatus)
		assert.Equal(t, "https://spring.example.com/?ref="+poster.ReferralCode, got.Metadata.String(models.MetaExpectedURL))
	})
}

func TestReconcilerUsesWiredScheduler(t *testing.T) {
	a := newApp(t)
	sqlitetest.CreateUser(t, a.Store)

	report, err := a.Reconciler(false).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.UsersChecked)
	assert.Empty(t, report.Requeued)
}
