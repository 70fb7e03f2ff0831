package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-ops-api/internal/models"
)

type fakeRedisPublisher struct {
	channel  string
	payload  []byte
	receives int64
	err      error
}

func (f *fakeRedisPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	cmd.SetVal(f.receives)
	return cmd
}

func TestNotificationPublisherPublish(t *testing.T) {
	client := &fakeRedisPublisher{receives: 2}
	publisher := NewNotificationPublisher(client, "studio:notifications")

	event := models.NotificationEvent{
		ID:         "evt-1",
		Kind:       models.NotificationCapacityReached,
		ClassID:    "c1",
		StudioID:   "studio-1",
		OccurredAt: time.Date(2024, 1, 3, 17, 0, 0, 0, time.UTC),
	}
	receivers, err := publisher.Publish(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, int64(2), receivers)
	assert.Equal(t, "studio:notifications", client.channel)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(client.payload, &decoded))
	assert.Equal(t, "capacity_reached", decoded["kind"])
	assert.Equal(t, "c1", decoded["class_id"])
}

func TestNotificationPublisherPublishError(t *testing.T) {
	publisher := NewNotificationPublisher(&fakeRedisPublisher{err: errors.New("connection refused")}, "ch")
	_, err := publisher.Publish(context.Background(), models.NotificationEvent{Kind: models.NotificationRosterChanged})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish notification roster_changed")
}
