package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketflow/internal/events"
)

// RedisPublishClient is the slice of the redis client the publisher uses.
type RedisPublishClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher forwards committed domain events to a Redis channel for
// other services (dashboards, the catalog) to consume.
type RedisPublisher struct {
	client  RedisPublishClient
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher constructs the publisher.
func NewRedisPublisher(client RedisPublishClient, channel string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// RegisterHandlers subscribes the publisher to every event type.
func (p *RedisPublisher) RegisterHandlers(dispatcher events.Dispatcher) {
	if p == nil || p.client == nil || dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, p.Forward)
	}
}

// Forward publishes one event as JSON.
func (p *RedisPublisher) Forward(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("redis publish failed",
			zap.String("channel", p.channel),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return err
	}
	return nil
}
