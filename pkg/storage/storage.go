package storage

import "context"

// Repository composes every storage operation the reward flows need.
// Components should depend on the granular interfaces where they can.
type Repository interface {
	UserStore
	CampaignStore
	LedgerStore
	PosterStore
	PosterGroupStore
	ReferralStore
	BadgeStore
	BlobStore
}

// Store is a Repository that can open a transaction.
// Every Repository call made through the handle passed to fn runs in that
// transaction; returning an error from fn rolls the whole bundle back.
type Store interface {
	Repository
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}
