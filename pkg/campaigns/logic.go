// Package campaigns holds per-campaign behavior and the campaign catalog.
package campaigns

import (
	"fmt"
	"strings"

	"github.com/chris/shard-rewards/pkg/models"
)

const (
	defaultDomain = "hack.club"
	referralParam = "ref"
)

// Logic is the campaign-specific behavior the reward flows consult.
type Logic interface {
	// ReferralBaseURL is the scheme and host printed into poster QR codes.
	ReferralBaseURL(c *models.Campaign) string
	ReferralShards(c *models.Campaign) int64
	PosterShards(c *models.Campaign) int64
}

// standard resolves the base URL from base_url, then subdomain, then slug.
type standard struct{}

func (standard) ReferralBaseURL(c *models.Campaign) string {
	if strings.TrimSpace(c.BaseURL) != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	if c.Subdomain != nil && strings.TrimSpace(*c.Subdomain) != "" {
		return hostURL(*c.Subdomain)
	}
	return hostURL(c.Slug)
}

func (standard) ReferralShards(c *models.Campaign) int64 { return c.ReferralShards }
func (standard) PosterShards(c *models.Campaign) int64   { return c.PosterShards }

// pinnedSubdomain always uses a fixed subdomain. URLs already printed on
// posters depend on it, so base_url and subdomain edits are ignored.
type pinnedSubdomain struct {
	standard
	subdomain string
}

func (p pinnedSubdomain) ReferralBaseURL(*models.Campaign) string {
	return hostURL(p.subdomain)
}

// registry maps campaign slugs to their logic. Unknown slugs use standard.
var registry = map[string]Logic{
	"hctg":       pinnedSubdomain{subdomain: "hctg"},
	"aces":       pinnedSubdomain{subdomain: "aces"},
	"construct":  pinnedSubdomain{subdomain: "construct"},
	"flavortown": pinnedSubdomain{subdomain: "flavortown"},
	"sleepover":  pinnedSubdomain{subdomain: "sleepover"},
}

// For returns the logic registered for the campaign's slug.
func For(c *models.Campaign) Logic {
	if c != nil {
		if logic, ok := registry[c.Slug]; ok {
			return logic
		}
	}
	return standard{}
}

// ReferralURL is the canonical URL encoded into a poster's QR code.
// It returns an empty string when there is no campaign.
func ReferralURL(c *models.Campaign, code string) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%s/?%s=%s", For(c).ReferralBaseURL(c), referralParam, code)
}

func hostURL(subdomain string) string {
	return fmt.Sprintf("https://%s.%s", strings.TrimSpace(subdomain), defaultDomain)
}
