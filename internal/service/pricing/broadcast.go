package pricing

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/osmakov/creditgate/internal/logger"
)

const invalidationChannel = "creditgate:pricing:invalidate"

// Redis pub/sub fanout for pricing invalidations. With several service
// instances each keeps its own TTL cache, the broadcast closes the
// staleness window on admin updates instead of waiting out the TTL
type RedisBroadcaster struct {
	rdb    *redis.Client
	logger logger.Logger
}

func NewRedisBroadcaster(rdb *redis.Client, l logger.Logger) *RedisBroadcaster {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &RedisBroadcaster{rdb: rdb, logger: l}
}

func (b *RedisBroadcaster) PublishInvalidation(ctx context.Context, gatewayID string) error {
	return b.rdb.Publish(ctx, invalidationChannel, gatewayID).Err()
}

// Listen subscribes and drops resolver entries on every received message
// until the context is cancelled. The returned channel closes when the
// subscription loop has stopped
func (b *RedisBroadcaster) Listen(ctx context.Context, resolver *Resolver) <-chan struct{} {
	stopped := make(chan struct{})

	sub := b.rdb.Subscribe(ctx, invalidationChannel)

	go func() {
		defer close(stopped)
		defer func() { _ = sub.Close() }()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.logger.Debug("pricing invalidation received", "gateway_id", msg.Payload)
				resolver.Invalidate(msg.Payload)
			}
		}
	}()

	return stopped
}
