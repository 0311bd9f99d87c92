package storage

import "context"

// ConnectionStore tracks live push connections per user.
type ConnectionStore interface {
	AddConnection(ctx context.Context, connectionID string, userID uint) error
	RemoveConnection(ctx context.Context, connectionID string) error

	// ListConnections returns the connection ids registered for the user.
	ListConnections(ctx context.Context, userID uint) ([]string, error)
}
