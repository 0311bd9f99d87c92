package websockets

// MessageType defines the type of a WebSocket message.
type MessageType string

const (
	// MessageTypeNotification carries a user-facing notification.
	MessageTypeNotification MessageType = "notification"
	// MessageTypeBalanceUpdate tells the client its shard balance changed.
	MessageTypeBalanceUpdate MessageType = "balanceUpdate"
)

// Message represents a generic WebSocket message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// BalanceUpdatePayload is the payload for a balanceUpdate message.
type BalanceUpdatePayload struct {
	UserID     uint   `json:"user_id"`
	EntryType  string `json:"entry_type"`
	Change     int64  `json:"change"`
	NewBalance int64  `json:"new_balance"`
}
