package rbac

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel carries role names whose permission sets changed.
const InvalidationChannel = "rbac.permissions.changed"

// RedisBroadcaster publishes and consumes invalidations over Redis pub/sub.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBroadcaster constructs a broadcaster on InvalidationChannel.
func NewRedisBroadcaster(client *redis.Client, logger *slog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: InvalidationChannel, logger: logger}
}

// Publish announces that role changed.
func (b *RedisBroadcaster) Publish(ctx context.Context, role RoleName) error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Publish(ctx, b.channel, string(role)).Err()
}

// Listen forwards announced roles to forget until ctx is cancelled. Unknown
// payloads clear everything.
func (b *RedisBroadcaster) Listen(ctx context.Context, e *Evaluator) {
	if b == nil || b.client == nil || e == nil {
		return
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				role, known := ParseRole(msg.Payload)
				if !known {
					if b.logger != nil {
						b.logger.Warn("rbac invalidation with unknown role", slog.String("payload", msg.Payload))
					}
					e.ForgetAll()
					continue
				}
				e.Forget(role)
			}
		}
	}()
}

var _ Broadcaster = (*RedisBroadcaster)(nil)
