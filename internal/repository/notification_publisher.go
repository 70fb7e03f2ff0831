package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/studio-ops-api/internal/models"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NotificationPublisher fans notification events out over a Redis channel.
type NotificationPublisher struct {
	client  redisPublisher
	channel string
}

// NewNotificationPublisher constructs a publisher for channel.
func NewNotificationPublisher(client redisPublisher, channel string) *NotificationPublisher {
	return &NotificationPublisher{client: client, channel: channel}
}

// Publish serialises event as JSON and publishes it. It returns the number of
// subscribers that received the message.
func (p *NotificationPublisher) Publish(ctx context.Context, event models.NotificationEvent) (int64, error) {
	if p.client == nil {
		return 0, fmt.Errorf("notification publisher has no redis client")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal notification %s: %w", event.Kind, err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish notification %s: %w", event.Kind, err)
	}
	return receivers, nil
}
