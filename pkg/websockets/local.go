package websockets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// LocalHub publishes to websocket connections held by this process. The ops
// server uses it when no API Gateway endpoint is configured.
type LocalHub struct {
	mu    sync.RWMutex
	conns map[string]*localConn
}

type localConn struct {
	userID uint
	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewLocalHub creates an empty hub.
func NewLocalHub() *LocalHub {
	return &LocalHub{conns: map[string]*localConn{}}
}

var _ Publisher = (*LocalHub)(nil)

// Attach registers an upgraded connection for the user.
func (h *LocalHub) Attach(connectionID string, userID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connectionID] = &localConn{userID: userID, conn: conn}
}

// Detach forgets a connection. The caller closes it.
func (h *LocalHub) Detach(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connectionID)
}

// ListConnections returns the ids of the user's attached connections.
func (h *LocalHub) ListConnections(_ context.Context, userID uint) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	for id, c := range h.conns {
		if c.userID == userID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Publish writes the message to every connection of the user.
func (h *LocalHub) Publish(_ context.Context, userID uint, message Message) error {
	h.mu.RLock()
	targets := make([]*localConn, 0)
	for _, c := range h.conns {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var errs []error
	for _, c := range targets {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := c.conn.WriteJSON(message)
		c.writeMu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to write to local connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
