package streaming

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisUpstream adapts one go-redis pub/sub connection to the Upstream
// contract and pumps received messages into the bus.
type RedisUpstream struct {
	pubsub *redis.PubSub
	logger *slog.Logger
}

// NewRedisUpstream opens the subscriber connection. No channels are attached
// until the bus sees its first local listener.
func NewRedisUpstream(client redis.UniversalClient, logger *slog.Logger) *RedisUpstream {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisUpstream{
		pubsub: client.Subscribe(context.Background()),
		logger: logger,
	}
}

// Subscribe issues a SUBSCRIBE for the given namespaced channels.
func (u *RedisUpstream) Subscribe(ctx context.Context, channels ...string) error {
	return u.pubsub.Subscribe(ctx, channels...)
}

// Unsubscribe issues an UNSUBSCRIBE for the given namespaced channels.
func (u *RedisUpstream) Unsubscribe(ctx context.Context, channels ...string) error {
	return u.pubsub.Unsubscribe(ctx, channels...)
}

// Run pumps messages from the subscriber connection into the bus until the
// context is cancelled. Message delivery order per channel follows wire
// arrival order.
func (u *RedisUpstream) Run(ctx context.Context, bus *Bus) error {
	messages := u.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			u.logger.Info("upstream pump stopping")
			return u.pubsub.Close()
		case msg, ok := <-messages:
			if !ok {
				u.logger.Warn("upstream subscriber connection closed")
				return nil
			}
			bus.Dispatch(msg.Channel, msg.Payload)
		}
	}
}

// RedisMarkerStore writes the TTL'd "this channel has local subscribers"
// markers producers consult before publishing.
type RedisMarkerStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisMarkerStore applies the same namespace prefix the bus uses for
// channels.
func NewRedisMarkerStore(client redis.UniversalClient, prefix string) *RedisMarkerStore {
	return &RedisMarkerStore{client: client, prefix: prefix}
}

// SetMarker writes subscribed:{channel} with the given TTL.
func (s *RedisMarkerStore) SetMarker(ctx context.Context, channel string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+"subscribed:"+channel, "1", ttl).Err()
}
