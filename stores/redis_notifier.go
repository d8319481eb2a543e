package stores

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const defaultNotifyChannel = "abac:policy-changed"

// RedisNotifier fans policy-change events out to sibling processes over a
// Redis pub/sub channel. Each process publishes after local mutations and
// subscribes to trigger its own debounced reload, which bounds cross-process
// staleness to the reload debounce plus the decision-cache TTL.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = defaultNotifyChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Publish announces a policy mutation. Wire it to PolicyStore.OnChange.
func (n *RedisNotifier) Publish(ctx context.Context) error {
	return n.client.Publish(ctx, n.channel, "changed").Err()
}

// Subscribe invokes onChange for every event until the context is canceled
// or the returned stop function is called. onChange is typically
// Reloader.Notify.
func (n *RedisNotifier) Subscribe(ctx context.Context, onChange func()) func() {
	sub := n.client.Subscribe(ctx, n.channel)
	go func() {
		for range sub.Channel() {
			onChange()
		}
	}()
	return func() { _ = sub.Close() }
}
