package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nazuninha/wabot/internal/metrics"
)

const settingsChannel = "bot:settings:updated"

// SettingsListener subscribes to settings-update notifications and triggers
// a reload so every instance converges on the same snapshot.
type SettingsListener struct {
	rdb    *redis.Client
	reload func(ctx context.Context) error
}

// NewSettingsListener creates a listener. reload is invoked once per
// received notification.
func NewSettingsListener(client *Client, reload func(ctx context.Context) error) *SettingsListener {
	return &SettingsListener{rdb: client.Underlying(), reload: reload}
}

// Start begins listening for settings-update messages.
// Blocks until ctx is cancelled.
func (l *SettingsListener) Start(ctx context.Context) {
	pubsub := l.rdb.Subscribe(ctx, settingsChannel)
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			l.handleUpdate(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (l *SettingsListener) handleUpdate(ctx context.Context) {
	metrics.PubSubMessagesReceived.WithLabelValues(settingsChannel).Inc()

	if err := l.reload(ctx); err != nil {
		slog.Error("Settings reload after pub/sub notification failed", "error", err)
		return
	}
	slog.Debug("Settings reloaded via pub/sub")
}

// PublishSettingsUpdate notifies all instances that the settings record
// changed. Called after a successful settings persist.
func PublishSettingsUpdate(ctx context.Context, client *Client) error {
	if err := client.Underlying().Publish(ctx, settingsChannel, "updated").Err(); err != nil {
		return fmt.Errorf("failed to publish settings update: %w", err)
	}
	return nil
}
