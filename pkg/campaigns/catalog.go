package campaigns

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

// Defaults applied to catalog entries that leave a value unset.
const (
	DefaultReferralShards        = 3
	DefaultPosterShards          = 1
	DefaultRequiredCodingMinutes = 60
)

// Entry is one campaign in the catalog file.
type Entry struct {
	Slug                  string `yaml:"slug"`
	Name                  string `yaml:"name"`
	Subdomain             string `yaml:"subdomain"`
	BaseURL               string `yaml:"base_url"`
	Status                string `yaml:"status"`
	ReferralShards        int64  `yaml:"referral_shards"`
	PosterShards          int64  `yaml:"poster_shards"`
	RequiredCodingMinutes int64  `yaml:"required_coding_minutes"`
}

// Catalog is the campaign reference data loaded at startup.
type Catalog struct {
	Campaigns []Entry `yaml:"campaigns"`
}

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse campaign catalog: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Campaigns))
	for i := range catalog.Campaigns {
		e := &catalog.Campaigns[i]
		e.Slug = strings.TrimSpace(e.Slug)
		if e.Slug == "" {
			return nil, storage.Invalid("slug", "is required for catalog entry %d", i)
		}
		if seen[e.Slug] {
			return nil, storage.Invalid("slug", "%q appears twice", e.Slug)
		}
		seen[e.Slug] = true

		switch models.CampaignStatus(e.Status) {
		case "":
			e.Status = string(models.CampaignOpen)
		case models.CampaignOpen, models.CampaignClosed, models.CampaignComingSoon:
		default:
			return nil, storage.Invalid("status", "%q is not a campaign status", e.Status)
		}
		if e.ReferralShards < 0 || e.PosterShards < 0 || e.RequiredCodingMinutes < 0 {
			return nil, storage.Invalid("campaign", "%s has a negative amount", e.Slug)
		}
		if e.Name == "" {
			e.Name = e.Slug
		}
		if e.ReferralShards == 0 {
			e.ReferralShards = DefaultReferralShards
		}
		if e.PosterShards == 0 {
			e.PosterShards = DefaultPosterShards
		}
		if e.RequiredCodingMinutes == 0 {
			e.RequiredCodingMinutes = DefaultRequiredCodingMinutes
		}
	}
	return &catalog, nil
}

// Model converts the entry into a campaign row.
func (e Entry) Model() models.Campaign {
	c := models.Campaign{
		Slug:                  e.Slug,
		Name:                  e.Name,
		BaseURL:               e.BaseURL,
		Status:                models.CampaignStatus(e.Status),
		ReferralShards:        e.ReferralShards,
		PosterShards:          e.PosterShards,
		RequiredCodingMinutes: e.RequiredCodingMinutes,
	}
	if e.Subdomain != "" {
		subdomain := e.Subdomain
		c.Subdomain = &subdomain
	}
	return c
}

// Seed upserts every catalog entry by slug.
func Seed(ctx context.Context, store storage.CampaignStore, catalog *Catalog) error {
	for _, e := range catalog.Campaigns {
		c := e.Model()
		if err := store.UpsertCampaign(ctx, &c); err != nil {
			return fmt.Errorf("failed to seed campaign %s: %w", e.Slug, err)
		}
		slog.InfoContext(ctx, "campaign seeded", "slug", c.Slug, "id", c.ID, "referral_url", ReferralURL(&c, "CODE"))
	}
	return nil
}
