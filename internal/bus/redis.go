package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces bus channels in Redis.
const DefaultChannelPrefix = "offsync:"

// Redis is a Bus backed by Redis pub/sub, for proxy and application running
// as separate processes. Messages are JSON-encoded.
type Redis struct {
	client *redis.Client
	prefix string
	owned  bool

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// NewRedis connects to the Redis server at redisURL.
func NewRedis(redisURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	r := NewRedisWithClient(client, prefix)
	r.owned = true
	return r, nil
}

// NewRedisWithClient creates a bus from an existing client. The client is
// not closed by Close.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

// Client returns the underlying Redis client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) channel(topic Topic) string {
	return r.prefix + string(topic)
}

// Publish sends msg on topic's channel.
func (r *Redis) Publish(ctx context.Context, topic Topic, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// Subscribe subscribes to topic's channel. It returns once the subscription
// is confirmed by the server, so messages published afterwards are received.
func (r *Redis) Subscribe(ctx context.Context, topic Topic) (<-chan Message, func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, ErrClosed
	}
	r.mu.Unlock()

	ps := r.client.Subscribe(ctx, r.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	r.mu.Lock()
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	out := make(chan Message, subscriberBuffer)
	subCtx, stop := context.WithCancel(ctx)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			r.mu.Lock()
			delete(r.subs, ps)
			r.mu.Unlock()
			ps.Close()
		})
	}

	go func() {
		defer close(out)
		defer cancel()

		in := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				msg, err := decode([]byte(raw.Payload))
				if err != nil {
					slog.Warn("dropping invalid bus message", "channel", raw.Channel, "error", err)
					continue
				}
				select {
				case out <- msg:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// Close closes every subscription and, if the bus created its client,
// the client too.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redis.PubSub, 0, len(r.subs))
	for ps := range r.subs {
		subs = append(subs, ps)
	}
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for _, ps := range subs {
		ps.Close()
	}
	if r.owned {
		return r.client.Close()
	}
	return nil
}
