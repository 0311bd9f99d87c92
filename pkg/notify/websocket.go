package notify

import (
	"context"
	"fmt"

	"github.com/chris/shard-rewards/pkg/websockets"
)

// WebSocketNotifier pushes notifications to the recipient's open connections.
type WebSocketNotifier struct {
	publisher websockets.Publisher
}

// NewWebSocketNotifier wraps a publisher.
func NewWebSocketNotifier(publisher websockets.Publisher) *WebSocketNotifier {
	return &WebSocketNotifier{publisher: publisher}
}

// Notify implements Notifier.
func (w *WebSocketNotifier) Notify(ctx context.Context, msg Message) error {
	message := websockets.Message{Type: websockets.MessageTypeNotification, Payload: msg}
	if msg.Kind == KindBalanceChanged {
		message = websockets.Message{Type: websockets.MessageTypeBalanceUpdate, Payload: balancePayload(msg)}
	}
	if err := w.publisher.Publish(ctx, msg.UserID, message); err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	return nil
}

func balancePayload(msg Message) websockets.BalanceUpdatePayload {
	p := websockets.BalanceUpdatePayload{UserID: msg.UserID}
	if v, ok := msg.Data["entry_type"].(string); ok {
		p.EntryType = v
	}
	if v, ok := msg.Data["change"].(int64); ok {
		p.Change = v
	}
	if v, ok := msg.Data["new_balance"].(int64); ok {
		p.NewBalance = v
	}
	return p
}

// BalanceChanged builds the push message sent after a ledger write.
func BalanceChanged(userID uint, entryType string, change, newBalance int64) Message {
	return New(KindBalanceChanged, userID, "", map[string]any{
		"entry_type":  entryType,
		"change":      change,
		"new_balance": newBalance,
	})
}
