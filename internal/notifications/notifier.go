package notifications

import (
	"context"
	"strings"

	"framez/internal/observability"

	"github.com/redis/go-redis/v9"
)

const changeChannelPrefix = "changes:"

// Notifier publishes change events into Redis channels, one channel per collection.
// With a nil client every call is a no-op, so a server without Redis still runs.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Name implements Bus.
func (n *Notifier) Name() string { return "redis" }

// Publish sends ev to the collection's channel.
func (n *Notifier) Publish(ctx context.Context, ev ChangeEvent) error {
	if n.rdb == nil {
		return nil
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, ChangeChannel(ev.Collection), data).Err()
}

// Subscribe subscribes to pattern `changes:*` and calls h for each decoded event
// until ctx is cancelled.
func (n *Notifier) Subscribe(ctx context.Context, h Handler) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, changeChannelPrefix+"*")
	// Wait for the subscription to be confirmed so publishes right after
	// Subscribe returns are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					observability.GlobalLogger.Warn("dropping malformed change event",
						"channel", msg.Channel, "error", err.Error())
					continue
				}
				if ev.Collection == "" {
					ev.Collection = strings.TrimPrefix(msg.Channel, changeChannelPrefix)
				}
				dispatch(n.Name(), h, ev)
			}
		}
	}()

	return nil
}

// Close is a no-op; the Redis client is owned by the cache package.
func (n *Notifier) Close() error { return nil }

// ChangeChannel derives the Redis channel name for a collection.
func ChangeChannel(collection string) string {
	return changeChannelPrefix + collection
}
