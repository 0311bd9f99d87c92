// Package notify delivers best-effort messages to users and reviewers.
// Delivery never participates in a database transaction and its failures
// are logged, not returned to reward flows.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chris/shard-rewards/pkg/metrics"
)

// Kind identifies what happened.
type Kind string

const (
	KindReferralCompleted Kind = "referral_completed"
	KindReferralForAdmin  Kind = "admin_referral_completed"
	KindPosterVerified    Kind = "poster_verified"
	KindPosterNeedsReview Kind = "poster_needs_review"
	KindPosterWrongGroup  Kind = "poster_wrong_group"
	KindBalanceChanged    Kind = "balance_changed"
)

// AdminUserID addresses messages meant for reviewers rather than a user.
const AdminUserID uint = 0

// DefaultTimeout bounds a single Dispatch.
const DefaultTimeout = 10 * time.Second

// Message is one notification. UserID is the recipient.
type Message struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	UserID    uint           `json:"user_id"`
	Text      string         `json:"text"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// New builds a message with a fresh id.
func New(kind Kind, userID uint, text string, data map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		Text:      text,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier delivers a message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Dispatch delivers msgs and swallows failures. Each message gets its own
// DefaultTimeout, so a slow delivery cannot starve the ones after it.
// A nil notifier is allowed.
func Dispatch(ctx context.Context, n Notifier, msgs ...Message) {
	if n == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, msg := range msgs {
		deliver(ctx, n, msg)
	}
}

func deliver(ctx context.Context, n Notifier, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := n.Notify(ctx, msg); err != nil {
		metrics.NotificationFailures.WithLabelValues(string(msg.Kind)).Inc()
		slog.ErrorContext(ctx, "failed to send notification", "kind", msg.Kind, "user_id", msg.UserID, "notification_id", msg.ID, "error", err)
	}
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "kind", msg.Kind, "user_id", msg.UserID, "notification_id", msg.ID, "text", msg.Text)
	return nil
}
