// Package notify provides the notification sender consumed by the
// mission-completion saga. Sending is irreversible: the saga step that
// calls it is optional and its compensation is a documented no-op.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/health"
	"github.com/redis/go-redis/v9"
)

// Notification is the message context handed to a sender.
type Notification struct {
	Kind      string `json:"kind"` // e.g. "mission_completed"
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	MissionID string `json:"mission_id,omitempty"`
	XP        int64  `json:"xp,omitempty"`
}

// Notifier delivers a notification to one actor.
type Notifier interface {
	Notify(ctx context.Context, actorID string, n Notification) error
}

// LogNotifier writes notifications to a structured logger. Useful in
// development and as a fallback sink.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier. A nil logger defaults to
// slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (l *LogNotifier) Notify(ctx context.Context, actorID string, n Notification) error {
	l.logger.Info("notification",
		"actor_id", actorID,
		"kind", n.Kind,
		"title", n.Title,
		"xp", n.XP)
	return nil
}

/*
Redis Schema:

Notifications are published to per-actor channels:
- notify:{actorID} - JSON-encoded Notification
*/

// RedisNotifier publishes notifications to per-actor Redis channels for
// delivery by a separate push service.
type RedisNotifier struct {
	client        redis.Cmdable
	channelPrefix string
}

// RedisNotifierOption configures a RedisNotifier.
type RedisNotifierOption func(*RedisNotifier)

// WithChannelPrefix sets a custom channel prefix. The default is "notify:".
func WithChannelPrefix(prefix string) RedisNotifierOption {
	return func(n *RedisNotifier) {
		if prefix != "" {
			n.channelPrefix = prefix
		}
	}
}

// NewRedisNotifier creates a Redis pub/sub notifier.
func NewRedisNotifier(client redis.Cmdable, opts ...RedisNotifierOption) *RedisNotifier {
	n := &RedisNotifier{client: client, channelPrefix: "notify:"}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify publishes the notification to the actor's channel.
func (r *RedisNotifier) Notify(ctx context.Context, actorID string, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channelPrefix+actorID, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Health performs a connectivity check against Redis.
func (r *RedisNotifier) Health(ctx context.Context) *health.Result {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return &health.Result{
			Status:    health.StatusUnhealthy,
			Message:   fmt.Sprintf("redis connectivity failed: %v", err),
			Latency:   time.Since(start),
			CheckedAt: start,
		}
	}

	return &health.Result{
		Status:    health.StatusHealthy,
		Latency:   time.Since(start),
		CheckedAt: start,
		Details: map[string]any{
			"channel_prefix": r.channelPrefix,
		},
	}
}

// Compile-time checks
var (
	_ Notifier       = (*LogNotifier)(nil)
	_ Notifier       = (*RedisNotifier)(nil)
	_ health.Checker = (*RedisNotifier)(nil)
)
