package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"estancias/internal/app/policies"
)

// QueueNotifications is the Redis list the mail worker consumes.
const QueueNotifications = "worker:notifications"

type job struct {
	ID             string            `json:"id"`
	Template       string            `json:"template"`
	RecipientEmail string            `json:"recipient_email"`
	Context        map[string]string `json:"context"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RedisNotifier hands notifications to the out-of-process mail worker via a
// Redis list. Delivery is best effort; callers treat Send errors as
// non-fatal.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) Send(ctx context.Context, note policies.Notification) error {
	raw, err := json.Marshal(job{
		ID:             uuid.NewString(),
		Template:       note.Template,
		RecipientEmail: note.RecipientEmail,
		Context:        note.Context,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notifier: marshal: %w", err)
	}
	if err := n.client.RPush(ctx, QueueNotifications, raw).Err(); err != nil {
		return fmt.Errorf("notifier: rpush: %w", err)
	}
	n.logger.Debug("notification queued",
		slog.String("template", note.Template),
		slog.String("recipient", note.RecipientEmail))
	return nil
}

// LogNotifier logs notifications instead of delivering them; used in dev and
// as the fallback when Redis is not configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, note policies.Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification (log only)",
		slog.String("template", note.Template),
		slog.String("recipient", note.RecipientEmail),
		slog.Any("context", note.Context))
	return nil
}
