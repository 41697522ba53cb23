package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a Redis pub/sub channel so external
// dashboards can follow workflow progress.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink creates a pub/sub sink. channel defaults to
// "coursecraft:events" when empty.
func NewRedisSink(client redis.UniversalClient, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, fmt.Errorf("notify: redis client is required")
	}
	if channel == "" {
		channel = "coursecraft:events"
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", s.channel, err)
	}
	return nil
}
