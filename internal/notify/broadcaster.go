package notify

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// redisBroadcaster publishes event payloads on a Redis pub/sub channel.
// Socket and push delivery services subscribe on the other side.
type redisBroadcaster struct {
	client  *redis.Client
	channel string
}

func NewRedisBroadcaster(client *redis.Client, channel string) Broadcaster {
	return &redisBroadcaster{client: client, channel: channel}
}

func (b *redisBroadcaster) Broadcast(ctx context.Context, payload []byte) error {
	return b.client.Publish(ctx, b.channel, payload).Err()
}
