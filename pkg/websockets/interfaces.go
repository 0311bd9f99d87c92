package websockets

import (
	"context"
)

// ConnectionManager registers and forgets push connections for a user.
type ConnectionManager interface {
	AddConnection(ctx context.Context, connectionID string, userID uint) error
	RemoveConnection(ctx context.Context, connectionID string) error
}

// ConnectionLister finds the live connections of a user.
type ConnectionLister interface {
	ListConnections(ctx context.Context, userID uint) ([]string, error)
}

// Publisher delivers messages to a user's connected clients.
type Publisher interface {
	Publish(ctx context.Context, userID uint, message Message) error
}

// NoOpPublisher drops every message. It is used when no push endpoint is configured.
type NoOpPublisher struct{}

// Publish does nothing.
func (NoOpPublisher) Publish(context.Context, uint, Message) error {
	return nil
}
