package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "poolsupervisor:events:"

// RedisMirror forwards every event the Hub publishes to a Redis Pub/Sub
// channel keyed by event type, for consumers outside this process (an ops
// CLI, a dashboard, a sibling service). It implements Mirror.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror wraps an existing Redis client. The caller owns the
// client's lifecycle (Close it when the Hub is no longer needed).
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

// Publish implements Mirror.
func (r *RedisMirror) Publish(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channelName(event.Type), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (r *RedisMirror) channelName(t EventType) string {
	return channelPrefix + t
}

// SubscribeAll subscribes an external consumer to every mirrored event.
// It is the counterpart a process without direct access to the Hub uses
// (an ops CLI, a dashboard process) to observe pool activity.
func (r *RedisMirror) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan *Event, defaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()
	return out, nil
}
